package novelty

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

type stubModel struct {
	score    float64
	err      error
	dim      int
	polarity domain.ScorePolarity
}

func (m stubModel) DecisionScore(domain.FeatureVector) (float64, error) { return m.score, m.err }
func (m stubModel) NumFeatures() int                                    { return m.dim }
func (m stubModel) Polarity() domain.ScorePolarity                      { return m.polarity }

func TestScorerDisabled(t *testing.T) {
	s, err := NewScorer(nil, -0.08)
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	assert.Empty(t, s.Polarity())

	// any input, including a wrong length, is ignored
	for _, x := range []domain.FeatureVector{nil, {1}, make(domain.FeatureVector, 31)} {
		score, flag, err := s.Score(x)
		require.NoError(t, err)
		assert.Nil(t, score)
		assert.False(t, flag)
	}
}

func TestScorerPolarity(t *testing.T) {
	x := domain.FeatureVector{0, 0}

	tests := []struct {
		name     string
		polarity domain.ScorePolarity
		score    float64
		want     bool
	}{
		{"normal polarity below threshold", domain.PolarityHigherIsNormal, -0.20, true},
		{"normal polarity above threshold", domain.PolarityHigherIsNormal, 0.05, false},
		{"normal polarity at threshold", domain.PolarityHigherIsNormal, -0.08, false},
		{"anomalous polarity above threshold", domain.PolarityHigherIsAnomalous, 0.05, true},
		{"anomalous polarity below threshold", domain.PolarityHigherIsAnomalous, -0.20, false},
		{"anomalous polarity at threshold", domain.PolarityHigherIsAnomalous, -0.08, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScorer(stubModel{score: tt.score, dim: 2, polarity: tt.polarity}, -0.08)
			require.NoError(t, err)

			score, flag, err := s.Score(x)
			require.NoError(t, err)
			require.NotNil(t, score)
			assert.Equal(t, tt.score, *score)
			assert.Equal(t, tt.want, flag)
		})
	}
}

func TestScorerErrors(t *testing.T) {
	t.Run("unknown polarity", func(t *testing.T) {
		_, err := NewScorer(stubModel{dim: 2, polarity: "sideways"}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})

	t.Run("non-finite threshold", func(t *testing.T) {
		_, err := NewScorer(nil, math.Inf(1))
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})

	t.Run("model error", func(t *testing.T) {
		s, err := NewScorer(stubModel{err: errors.New("tree walk"), dim: 2, polarity: domain.PolarityHigherIsNormal}, 0)
		require.NoError(t, err)
		_, _, err = s.Score(domain.FeatureVector{1, 2})
		assert.ErrorIs(t, err, domain.ErrNoveltyScoreFailure)
	})

	t.Run("non-finite score", func(t *testing.T) {
		s, err := NewScorer(stubModel{score: math.NaN(), dim: 2, polarity: domain.PolarityHigherIsNormal}, 0)
		require.NoError(t, err)
		_, _, err = s.Score(domain.FeatureVector{1, 2})
		assert.ErrorIs(t, err, domain.ErrNoveltyScoreFailure)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		s, err := NewScorer(stubModel{dim: 2, polarity: domain.PolarityHigherIsNormal}, 0)
		require.NoError(t, err)
		_, _, err = s.Score(domain.FeatureVector{1})
		assert.ErrorIs(t, err, domain.ErrFeatureDimensionMismatch)
	})
}

// The default threshold is calibrated on the negated decision function, so a
// forest reporting higher_is_anomalous flags raw decision values below 0.08.
func TestScorerDefaultCalibration(t *testing.T) {
	threshold := domain.DefaultThresholds().Anomaly

	tests := []struct {
		name     string
		decision float64
		want     bool
	}{
		{"boundary of the forest", 0.0, true},
		{"slightly outlying", -0.05, true},
		{"just inside the legit tail", 0.07, true},
		{"at the cutoff", 0.08, false},
		{"typical legit", 0.2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := stubModel{score: -tt.decision, dim: 2, polarity: domain.PolarityHigherIsAnomalous}
			s, err := NewScorer(model, threshold)
			require.NoError(t, err)

			_, flag, err := s.Score(domain.FeatureVector{0, 0})
			require.NoError(t, err)
			assert.Equal(t, tt.want, flag)
		})
	}
}
