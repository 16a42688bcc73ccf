package model

import (
	"errors"
	"fmt"
	"io/fs"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// KindIsolationForest is the only supported novelty artifact kind.
const KindIsolationForest = "isolation_forest"

const eulerGamma = 0.5772156649015329

// IsolationForest scores inputs the way scikit-learn's decision_function
// does: score = -2^(-E[h(x)]/c(max_samples)) - offset. Lower means more
// anomalous under PolarityHigherIsNormal.
type IsolationForest struct {
	ModelVersion string
	Info         Info

	numFeatures int
	maxSamples  int
	offset      float64
	polarity    domain.ScorePolarity
	trees       []Tree
	norm        float64
}

type isolationForestDoc struct {
	Kind         string               `json:"kind"`
	ModelVersion string               `json:"model_version"`
	NumFeatures  int                  `json:"num_features"`
	MaxSamples   int                  `json:"max_samples"`
	Offset       float64              `json:"offset"`
	Polarity     domain.ScorePolarity `json:"polarity"`
	Trees        []Tree               `json:"trees"`
}

// LoadIsolationForest reads, validates and builds the novelty model at path.
// A missing file wraps domain.ErrNoveltyArtifactAbsent; any other failure
// wraps domain.ErrArtifactLoad.
func LoadIsolationForest(path string) (*IsolationForest, Info, error) {
	if path == "" {
		return nil, Info{}, fmt.Errorf("%w: no path configured", domain.ErrNoveltyArtifactAbsent)
	}

	data, info, err := readArtifact(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, info, fmt.Errorf("%w: %s", domain.ErrNoveltyArtifactAbsent, path)
		}
		return nil, info, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}

	doc, err := normalize(path, data)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s: %v", domain.ErrArtifactLoad, path, err)
	}

	forest, err := ParseIsolationForest(doc)
	if err != nil {
		return nil, info, fmt.Errorf("%s: %w", path, err)
	}
	forest.Info = info
	return forest, info, nil
}

// ParseIsolationForest builds an isolation forest from a JSON document.
func ParseIsolationForest(doc []byte) (*IsolationForest, error) {
	var raw isolationForestDoc
	if err := decode(noveltySchema, doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}

	for i, t := range raw.Trees {
		if err := t.validate(raw.NumFeatures, isIsolationLeaf); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", domain.ErrArtifactLoad, i, err)
		}
	}

	norm := averagePathLength(raw.MaxSamples)
	if norm <= 0 {
		return nil, fmt.Errorf("%w: max_samples must be at least 2, got %d", domain.ErrArtifactLoad, raw.MaxSamples)
	}

	return &IsolationForest{
		ModelVersion: raw.ModelVersion,
		numFeatures:  raw.NumFeatures,
		maxSamples:   raw.MaxSamples,
		offset:       raw.Offset,
		polarity:     raw.Polarity,
		trees:        raw.Trees,
		norm:         norm,
	}, nil
}

// DecisionScore implements domain.AnomalyModel.
func (f *IsolationForest) DecisionScore(x domain.FeatureVector) (float64, error) {
	if len(x) != f.numFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", f.numFeatures, len(x))
	}

	var total float64
	for _, t := range f.trees {
		leaf, depth := t.walk(x, isIsolationLeaf, isolationGoLeft)
		total += float64(depth) + averagePathLength(*leaf.Samples)
	}
	meanDepth := total / float64(len(f.trees))

	score := -math.Pow(2, -meanDepth/f.norm) - f.offset
	if f.polarity == domain.PolarityHigherIsAnomalous {
		return -score, nil
	}
	return score, nil
}

// NumFeatures implements domain.AnomalyModel.
func (f *IsolationForest) NumFeatures() int {
	return f.numFeatures
}

// Polarity implements domain.AnomalyModel.
func (f *IsolationForest) Polarity() domain.ScorePolarity {
	return f.polarity
}

// Trees returns the number of isolation trees.
func (f *IsolationForest) Trees() int {
	return len(f.trees)
}

func isIsolationLeaf(n Node) bool {
	return n.Samples != nil
}

// NaN never satisfies <=, so missing values go right.
func isolationGoLeft(n Node, v float64) bool {
	return v <= n.Threshold
}

// averagePathLength is c(n), the mean path length of an unsuccessful
// binary search tree lookup over n samples.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
