package domain

import (
	"fmt"
	"math"
	"time"
)

// EvaluationResult is the engine's only output. It is built once per call
// and never modified afterwards.
type EvaluationResult struct {
	Decision     DecisionState `json:"decision"`
	RiskScore    float64       `json:"risk_score"`
	Uncertainty  float64       `json:"uncertainty"`
	NoveltyFlag  bool          `json:"novelty_flag"`
	Tier         RiskTier      `json:"tier"`
	Costs        CostBreakdown `json:"costs"`
	Explanations Explanations  `json:"explanations"`
	Meta         ResultMeta    `json:"meta"`
}

// CostBreakdown is the economic justification attached to a decision.
type CostBreakdown struct {
	ExpectedLoss     float64 `json:"expected_loss"`
	ManualReviewCost float64 `json:"manual_review_cost"`
	NetUtility       float64 `json:"net_utility"`
}

// Explanations is reserved for feature attributions.
// TopFeatures is always empty; AnomalyScore is nil when novelty is disabled.
type Explanations struct {
	TopFeatures  []string `json:"top_features"`
	AnomalyScore *float64 `json:"anomaly_score"`
}

// ResultMeta identifies the models and the moment of evaluation.
type ResultMeta struct {
	ModelVersion      string `json:"model_version"`
	UncertaintyMethod string `json:"uncertainty_method"`
	Timestamp         string `json:"timestamp"`
}

// Reference metadata values.
const (
	DefaultModelVersion      = "xgb_ensemble_v1"
	DefaultUncertaintyMethod = "bootstrap_std"
)

// FormatTimestamp renders t the way result metadata carries it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Thresholds holds the probability ladder, the uncertainty cutoff and the
// anomaly cutoff used by the router and the novelty scorer.
type Thresholds struct {
	Decline     float64 `json:"decline" mapstructure:"decline"`
	Escalate    float64 `json:"escalate" mapstructure:"escalate"`
	Auth        float64 `json:"auth" mapstructure:"auth"`
	Uncertainty float64 `json:"uncertainty" mapstructure:"uncertainty"`
	Anomaly     float64 `json:"anomaly" mapstructure:"anomaly"`
}

// DefaultThresholds returns the reference cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Decline:     0.80,
		Escalate:    0.60,
		Auth:        0.30,
		Uncertainty: 0.02,
		// 99th percentile of legitimate isolation forest scores, measured on
		// the negated decision_function (higher is anomalous).
		Anomaly: -0.08,
	}
}

// Validate enforces decline >= escalate >= auth, all within [0,1].
func (t Thresholds) Validate() error {
	probs := []struct {
		name  string
		value float64
	}{
		{"decline", t.Decline},
		{"escalate", t.Escalate},
		{"auth", t.Auth},
	}
	for _, p := range probs {
		if math.IsNaN(p.value) || p.value < 0 || p.value > 1 {
			return fmt.Errorf("%w: %s threshold must be between 0 and 1, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	if t.Decline < t.Escalate || t.Escalate < t.Auth {
		return fmt.Errorf("%w: thresholds must satisfy decline >= escalate >= auth (decline: %.4f, escalate: %.4f, auth: %.4f)",
			ErrInvalidConfig, t.Decline, t.Escalate, t.Auth)
	}

	if math.IsNaN(t.Uncertainty) || math.IsInf(t.Uncertainty, 0) || t.Uncertainty < 0 {
		return fmt.Errorf("%w: uncertainty threshold must be finite and non-negative, got %v", ErrInvalidConfig, t.Uncertainty)
	}

	if math.IsNaN(t.Anomaly) || math.IsInf(t.Anomaly, 0) {
		return fmt.Errorf("%w: anomaly threshold must be finite, got %v", ErrInvalidConfig, t.Anomaly)
	}

	return nil
}

// CostConfig holds the monetary constants of the cost view.
type CostConfig struct {
	FraudCost  float64 `json:"fraudCost" mapstructure:"fraud_cost"`
	ReviewCost float64 `json:"reviewCost" mapstructure:"review_cost"`

	// FalsePositiveCost is part of the contract but not used in arithmetic yet.
	FalsePositiveCost float64 `json:"falsePositiveCost" mapstructure:"false_positive_cost"`
}

// DefaultCosts returns the reference cost constants.
func DefaultCosts() CostConfig {
	return CostConfig{
		FraudCost:         1000,
		ReviewCost:        20,
		FalsePositiveCost: 50,
	}
}

// Validate rejects negative or non-finite costs.
func (c CostConfig) Validate() error {
	costs := map[string]float64{
		"fraud_cost":          c.FraudCost,
		"review_cost":         c.ReviewCost,
		"false_positive_cost": c.FalsePositiveCost,
	}
	for name, v := range costs {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s must be finite and non-negative, got %v", ErrInvalidConfig, name, v)
		}
	}
	return nil
}
