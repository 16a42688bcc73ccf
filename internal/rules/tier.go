package rules

import "github.com/opensource-finance/harrier/internal/domain"

// ClassifyTier buckets a probability into a risk tier. It looks at the point
// estimate only and is independent of the routing decision.
func ClassifyTier(p float64, t domain.Thresholds) domain.RiskTier {
	switch {
	case p >= t.Decline:
		return domain.TierHigh
	case p >= t.Auth:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
