package ensemble

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

type fixedMember struct {
	p     float64
	err   error
	dim   int
	calls *atomic.Int64
}

func (m fixedMember) Probability(x domain.FeatureVector) (float64, error) {
	if m.calls != nil {
		m.calls.Add(1)
	}
	return m.p, m.err
}

func (m fixedMember) NumFeatures() int { return m.dim }

func members(dim int, probs ...float64) []domain.EnsembleMember {
	out := make([]domain.EnsembleMember, len(probs))
	for i, p := range probs {
		out[i] = fixedMember{p: p, dim: dim}
	}
	return out
}

func TestNewAggregator(t *testing.T) {
	t.Run("empty ensemble", func(t *testing.T) {
		_, err := NewAggregator(nil, 2)
		assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	})

	t.Run("mixed dimensions", func(t *testing.T) {
		ms := []domain.EnsembleMember{fixedMember{p: 0.1, dim: 3}, fixedMember{p: 0.2, dim: 4}}
		_, err := NewAggregator(ms, 2)
		assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	})

	t.Run("defaults worker limit", func(t *testing.T) {
		a, err := NewAggregator(members(3, 0.1), 0)
		require.NoError(t, err)
		assert.Positive(t, a.maxWorkers)
		assert.Equal(t, 3, a.NumFeatures())
		assert.Equal(t, 1, a.Size())
	})
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	x := domain.FeatureVector{1, 2, 3}

	t.Run("mean and population std", func(t *testing.T) {
		a, err := NewAggregator(members(3, 0.2, 0.4, 0.6), 2)
		require.NoError(t, err)

		mean, std, err := a.Aggregate(ctx, x)
		require.NoError(t, err)
		assert.InDelta(t, 0.4, mean, 1e-12)
		assert.InDelta(t, 0.16329931618554522, std, 1e-12)
	})

	t.Run("single member has zero std", func(t *testing.T) {
		a, err := NewAggregator(members(3, 0.73), 1)
		require.NoError(t, err)

		mean, std, err := a.Aggregate(ctx, x)
		require.NoError(t, err)
		assert.Equal(t, 0.73, mean)
		assert.Zero(t, std)
	})

	t.Run("agreeing members have zero std", func(t *testing.T) {
		a, err := NewAggregator(members(3, 0.5, 0.5, 0.5, 0.5), 4)
		require.NoError(t, err)

		mean, std, err := a.Aggregate(ctx, x)
		require.NoError(t, err)
		assert.Equal(t, 0.5, mean)
		assert.Zero(t, std)
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		a, err := NewAggregator(members(3, 0.11, 0.93, 0.42, 0.07, 0.58), 3)
		require.NoError(t, err)

		m0, s0, err := a.Aggregate(ctx, x)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			m, s, err := a.Aggregate(ctx, x)
			require.NoError(t, err)
			assert.Equal(t, m0, m)
			assert.Equal(t, s0, s)
		}
	})

	t.Run("dimension mismatch before any query", func(t *testing.T) {
		var calls atomic.Int64
		ms := []domain.EnsembleMember{
			fixedMember{p: 0.1, dim: 3, calls: &calls},
			fixedMember{p: 0.2, dim: 3, calls: &calls},
		}
		a, err := NewAggregator(ms, 2)
		require.NoError(t, err)

		_, _, err = a.Aggregate(ctx, domain.FeatureVector{1, 2})
		assert.ErrorIs(t, err, domain.ErrFeatureDimensionMismatch)
		assert.Zero(t, calls.Load())
	})

	t.Run("member error fails the call", func(t *testing.T) {
		ms := []domain.EnsembleMember{
			fixedMember{p: 0.1, dim: 3},
			fixedMember{err: errors.New("boom"), dim: 3},
		}
		a, err := NewAggregator(ms, 2)
		require.NoError(t, err)

		_, _, err = a.Aggregate(ctx, x)
		assert.ErrorIs(t, err, domain.ErrEnsembleMemberFailure)
	})

	t.Run("invalid member output fails the call", func(t *testing.T) {
		for _, bad := range []float64{math.NaN(), -0.01, 1.5} {
			a, err := NewAggregator(members(3, 0.3, bad), 2)
			require.NoError(t, err)

			_, _, err = a.Aggregate(ctx, x)
			assert.ErrorIs(t, err, domain.ErrEnsembleMemberFailure, "value %v", bad)
		}
	})

	t.Run("cancelled context still queries every member", func(t *testing.T) {
		var calls atomic.Int64
		ms := make([]domain.EnsembleMember, 5)
		for i := range ms {
			ms[i] = fixedMember{p: 0.2, dim: 3, calls: &calls}
		}
		a, err := NewAggregator(ms, 2)
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		mean, std, err := a.Aggregate(cancelled, x)
		require.NoError(t, err)
		assert.InDelta(t, 0.2, mean, 1e-12)
		assert.Zero(t, std)
		assert.Equal(t, int64(5), calls.Load())
	})
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = MeanStd([]float64{0, 1})
	assert.Equal(t, 0.5, mean)
	assert.Equal(t, 0.5, std)
}
