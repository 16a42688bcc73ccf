// Package ensemble combines member probabilities into a risk estimate.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Aggregator queries every ensemble member and reduces their outputs to a
// mean probability and its population standard deviation.
type Aggregator struct {
	members     []domain.EnsembleMember
	numFeatures int
	maxWorkers  int
}

// NewAggregator creates an aggregator over an ordered, non-empty member list.
// All members must share the same input dimensionality.
// maxWorkers <= 0 defaults to runtime.NumCPU().
func NewAggregator(members []domain.EnsembleMember, maxWorkers int) (*Aggregator, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: ensemble has no members", domain.ErrArtifactLoad)
	}

	dim := members[0].NumFeatures()
	if dim <= 0 {
		return nil, fmt.Errorf("%w: member 0 declares %d features", domain.ErrArtifactLoad, dim)
	}
	for i, m := range members {
		if m == nil {
			return nil, fmt.Errorf("%w: member %d is nil", domain.ErrArtifactLoad, i)
		}
		if m.NumFeatures() != dim {
			return nil, fmt.Errorf("%w: member %d expects %d features, member 0 expects %d",
				domain.ErrArtifactLoad, i, m.NumFeatures(), dim)
		}
	}

	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	return &Aggregator{
		members:     members,
		numFeatures: dim,
		maxWorkers:  maxWorkers,
	}, nil
}

// NumFeatures returns the ensemble input dimensionality.
func (a *Aggregator) NumFeatures() int {
	return a.numFeatures
}

// Size returns the number of members.
func (a *Aggregator) Size() int {
	return len(a.members)
}

// Aggregate returns (mean, std) of the member probabilities for x.
// A dimension mismatch is reported before any member is queried. Any member
// failure fails the whole call; there are no partial results. Member queries
// are CPU-bound and run to completion regardless of ctx.
func (a *Aggregator) Aggregate(_ context.Context, x domain.FeatureVector) (float64, float64, error) {
	if len(x) != a.numFeatures {
		return 0, 0, fmt.Errorf("%w: expected %d features, got %d",
			domain.ErrFeatureDimensionMismatch, a.numFeatures, len(x))
	}

	probs := make([]float64, len(a.members))

	if len(a.members) == 1 {
		p, err := query(a.members[0], 0, x)
		if err != nil {
			return 0, 0, err
		}
		return p, 0, nil
	}

	var g errgroup.Group
	g.SetLimit(a.maxWorkers)
	for i, m := range a.members {
		g.Go(func() error {
			p, err := query(m, i, x)
			if err != nil {
				return err
			}
			probs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	mean, std := MeanStd(probs)
	return mean, std, nil
}

func query(m domain.EnsembleMember, idx int, x domain.FeatureVector) (float64, error) {
	p, err := m.Probability(x)
	if err != nil {
		return 0, fmt.Errorf("%w: member %d: %v", domain.ErrEnsembleMemberFailure, idx, err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: member %d returned %v", domain.ErrEnsembleMemberFailure, idx, p)
	}
	return p, nil
}

// MeanStd returns the arithmetic mean and population standard deviation.
// Summation runs in index order so results do not depend on scheduling.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / n)

	// clamp rounding noise so mean stays inside the probability range
	if mean < 0 {
		mean = 0
	} else if mean > 1 {
		mean = 1
	}
	return mean, std
}
