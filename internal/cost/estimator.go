// Package cost attaches the economic view to routing decisions.
package cost

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Estimator computes expected loss and handling cost of a decision.
type Estimator struct {
	cfg domain.CostConfig
}

// NewEstimator validates the cost constants and returns an estimator.
func NewEstimator(cfg domain.CostConfig) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Estimate returns the cost breakdown for decision d at probability p.
// Expected loss is independent of the decision; review cost applies only to
// decisions that require further handling.
func (e *Estimator) Estimate(d domain.DecisionState, p float64) domain.CostBreakdown {
	expectedLoss := p * e.cfg.FraudCost

	var manual float64
	if d.RequiresHandling() {
		manual = e.cfg.ReviewCost
	}

	return domain.CostBreakdown{
		ExpectedLoss:     expectedLoss,
		ManualReviewCost: manual,
		NetUtility:       -expectedLoss - manual,
	}
}

// Config returns the cost constants.
func (e *Estimator) Config() domain.CostConfig {
	return e.cfg
}
