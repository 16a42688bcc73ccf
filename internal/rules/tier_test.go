package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestClassifyTier(t *testing.T) {
	th := domain.DefaultThresholds()

	tests := []struct {
		p    float64
		want domain.RiskTier
	}{
		{0.0, domain.TierLow},
		{0.29, domain.TierLow},
		{0.30, domain.TierMedium},
		{0.65, domain.TierMedium},
		{0.7999, domain.TierMedium},
		{0.80, domain.TierHigh},
		{1.0, domain.TierHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTier(tt.p, th), "p=%v", tt.p)
	}
}

func TestClassifyTierMonotonic(t *testing.T) {
	th := domain.DefaultThresholds()

	prev := ClassifyTier(0, th)
	for i := 1; i <= 1000; i++ {
		p := float64(i) / 1000
		tier := ClassifyTier(p, th)
		require.GreaterOrEqual(t, tier.Severity(), prev.Severity(), "tier decreased at p=%v: %s after %s", p, tier, prev)
		prev = tier
	}
}
