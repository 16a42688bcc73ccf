// Package novelty flags inputs that fall outside the legitimate traffic the
// anomaly model was trained on.
package novelty

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Scorer wraps an optional anomaly model. A nil model disables novelty
// detection; Score then always reports (nil, false).
type Scorer struct {
	model     domain.AnomalyModel
	threshold float64
}

// NewScorer creates a scorer. model may be nil.
func NewScorer(model domain.AnomalyModel, threshold float64) (*Scorer, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: anomaly threshold must be finite, got %v", domain.ErrInvalidConfig, threshold)
	}
	if model != nil && !model.Polarity().Valid() {
		return nil, fmt.Errorf("%w: unknown anomaly score polarity %q", domain.ErrInvalidConfig, model.Polarity())
	}
	return &Scorer{model: model, threshold: threshold}, nil
}

// Enabled reports whether an anomaly model is configured.
func (s *Scorer) Enabled() bool {
	return s.model != nil
}

// Polarity returns the configured model's polarity, empty when disabled.
func (s *Scorer) Polarity() domain.ScorePolarity {
	if s.model == nil {
		return ""
	}
	return s.model.Polarity()
}

// Threshold returns the raw-score cutoff.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score returns the raw anomaly score and the novelty flag for x.
func (s *Scorer) Score(x domain.FeatureVector) (*float64, bool, error) {
	if s.model == nil {
		return nil, false, nil
	}

	if len(x) != s.model.NumFeatures() {
		return nil, false, fmt.Errorf("%w: anomaly model expects %d features, got %d",
			domain.ErrFeatureDimensionMismatch, s.model.NumFeatures(), len(x))
	}

	raw, err := s.model.DecisionScore(x)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrNoveltyScoreFailure, err)
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, false, fmt.Errorf("%w: non-finite score %v", domain.ErrNoveltyScoreFailure, raw)
	}

	return &raw, s.flag(raw), nil
}

func (s *Scorer) flag(raw float64) bool {
	if s.model.Polarity() == domain.PolarityHigherIsNormal {
		return raw < s.threshold
	}
	return raw > s.threshold
}
