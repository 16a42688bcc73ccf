package domain

import "errors"

// Startup errors.
var (
	// ErrArtifactLoad means the mandatory ensemble artifact is missing or
	// corrupt. The engine cannot be constructed.
	ErrArtifactLoad = errors.New("artifact load failed")

	// ErrNoveltyArtifactAbsent means the optional novelty artifact is not
	// present. Novelty detection is disabled, startup continues.
	ErrNoveltyArtifactAbsent = errors.New("novelty artifact absent")

	// ErrInvalidConfig reports inconsistent thresholds or costs.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Per-evaluation errors.
var (
	ErrFeatureDimensionMismatch = errors.New("feature dimension mismatch")
	ErrEnsembleMemberFailure    = errors.New("ensemble member failure")
	ErrNoveltyScoreFailure      = errors.New("novelty score failure")

	// ErrInvalidRiskInput means the router received a probability outside
	// [0,1] or a negative or non-finite uncertainty. It signals an upstream
	// aggregation bug.
	ErrInvalidRiskInput = errors.New("invalid risk input")
)
