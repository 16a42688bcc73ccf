package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Member kinds supported in ensemble artifacts.
const (
	KindLogistic     = "logistic"
	KindTreeEnsemble = "tree_ensemble"
)

// Ensemble is a loaded ensemble artifact.
type Ensemble struct {
	ModelVersion      string
	UncertaintyMethod string
	NumFeatures       int
	Members           []domain.EnsembleMember
	Info              Info
}

type ensembleDoc struct {
	ModelVersion      string      `json:"model_version"`
	UncertaintyMethod string      `json:"uncertainty_method"`
	NumFeatures       int         `json:"num_features"`
	Members           []memberDoc `json:"members"`
}

type memberDoc struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	BaseScore float64   `json:"base_score"`
	Trees     []Tree    `json:"trees"`
}

// LoadEnsemble reads, validates and builds the ensemble at path.
// Info is filled whenever the file could be read, even if parsing fails.
// All failures wrap domain.ErrArtifactLoad.
func LoadEnsemble(path string) (*Ensemble, Info, error) {
	data, info, err := readArtifact(path)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}

	doc, err := normalize(path, data)
	if err != nil {
		return nil, info, fmt.Errorf("%w: %s: %v", domain.ErrArtifactLoad, path, err)
	}

	ens, err := ParseEnsemble(doc)
	if err != nil {
		return nil, info, fmt.Errorf("%s: %w", path, err)
	}
	ens.Info = info
	return ens, info, nil
}

// ParseEnsemble builds an ensemble from a JSON document.
func ParseEnsemble(doc []byte) (*Ensemble, error) {
	var raw ensembleDoc
	if err := decode(ensembleSchema, doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}

	ens := &Ensemble{
		ModelVersion:      raw.ModelVersion,
		UncertaintyMethod: raw.UncertaintyMethod,
		NumFeatures:       raw.NumFeatures,
		Members:           make([]domain.EnsembleMember, 0, len(raw.Members)),
	}

	for i, m := range raw.Members {
		member, err := buildMember(m, raw.NumFeatures)
		if err != nil {
			return nil, fmt.Errorf("%w: member %d (%s): %v", domain.ErrArtifactLoad, i, m.Kind, err)
		}
		ens.Members = append(ens.Members, member)
	}

	return ens, nil
}

func buildMember(m memberDoc, numFeatures int) (domain.EnsembleMember, error) {
	switch m.Kind {
	case KindLogistic:
		if len(m.Weights) != numFeatures {
			return nil, fmt.Errorf("expected %d weights, got %d", numFeatures, len(m.Weights))
		}
		return &LogisticMember{Weights: m.Weights, Intercept: m.Intercept}, nil

	case KindTreeEnsemble:
		for i, t := range m.Trees {
			if err := t.validate(numFeatures, isBoostedLeaf); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &TreeEnsembleMember{BaseScore: m.BaseScore, Trees: m.Trees, numFeatures: numFeatures}, nil

	default:
		return nil, fmt.Errorf("unsupported member kind %q", m.Kind)
	}
}

// LogisticMember is a linear model with a sigmoid link.
type LogisticMember struct {
	Weights   []float64
	Intercept float64
}

// Probability implements domain.EnsembleMember.
func (m *LogisticMember) Probability(x domain.FeatureVector) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(x))
	}
	z := m.Intercept
	for i, w := range m.Weights {
		z += w * x[i]
	}
	return sigmoid(z), nil
}

// NumFeatures implements domain.EnsembleMember.
func (m *LogisticMember) NumFeatures() int {
	return len(m.Weights)
}

// TreeEnsembleMember is a gradient-boosted tree model with a logistic
// objective. Leaves hold margin contributions; BaseScore is the initial
// margin. Missing values (NaN) follow each split's default direction.
type TreeEnsembleMember struct {
	BaseScore   float64
	Trees       []Tree
	numFeatures int
}

// Probability implements domain.EnsembleMember.
func (m *TreeEnsembleMember) Probability(x domain.FeatureVector) (float64, error) {
	if len(x) != m.numFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", m.numFeatures, len(x))
	}
	margin := m.BaseScore
	for _, t := range m.Trees {
		leaf, _ := t.walk(x, isBoostedLeaf, boostedGoLeft)
		margin += *leaf.Leaf
	}
	return sigmoid(margin), nil
}

// NumFeatures implements domain.EnsembleMember.
func (m *TreeEnsembleMember) NumFeatures() int {
	return m.numFeatures
}

func isBoostedLeaf(n Node) bool {
	return n.Leaf != nil
}

func boostedGoLeft(n Node, v float64) bool {
	if math.IsNaN(v) {
		return n.DefaultLeft
	}
	return v < n.Threshold
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// MarshalJSON renders a short description used by the /models endpoint.
func (e *Ensemble) MarshalJSON() ([]byte, error) {
	kinds := make([]string, len(e.Members))
	for i, m := range e.Members {
		switch m.(type) {
		case *LogisticMember:
			kinds[i] = KindLogistic
		case *TreeEnsembleMember:
			kinds[i] = KindTreeEnsemble
		default:
			kinds[i] = "custom"
		}
	}
	return json.Marshal(struct {
		ModelVersion      string   `json:"modelVersion"`
		UncertaintyMethod string   `json:"uncertaintyMethod"`
		NumFeatures       int      `json:"numFeatures"`
		Members           []string `json:"members"`
		Info              Info     `json:"artifact"`
	}{e.ModelVersion, e.UncertaintyMethod, e.NumFeatures, kinds, e.Info})
}
