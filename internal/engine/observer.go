package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Stage names a point of the evaluation pipeline.
type Stage string

const (
	StagePreAggregation  Stage = "pre_aggregation"
	StagePostAggregation Stage = "post_aggregation"
	StagePostNovelty     Stage = "post_novelty"
	StagePostRouting     Stage = "post_routing"
	StagePostCost        Stage = "post_cost"
)

// Observation is the state of one evaluation at a given stage. Fields not
// yet known at that stage are zero.
type Observation struct {
	Stage        Stage
	NumFeatures  int
	Risk         float64
	Uncertainty  float64
	AnomalyScore *float64
	Novelty      bool
	Decision     domain.DecisionState
	Label        domain.DecisionState
	RuleID       string
	Tier         domain.RiskTier
	Costs        domain.CostBreakdown
}

// Observer receives stage observations. Observers run synchronously on the
// evaluating goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, obs Observation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, obs Observation)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, obs Observation) {
	f(ctx, obs)
}

// logObserver writes each stage as a debug record.
type logObserver struct{}

func (logObserver) Observe(ctx context.Context, obs Observation) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}

	attrs := []any{"stage", string(obs.Stage)}
	switch obs.Stage {
	case StagePreAggregation:
		attrs = append(attrs, "num_features", obs.NumFeatures)
	case StagePostAggregation:
		attrs = append(attrs, "risk", obs.Risk, "uncertainty", obs.Uncertainty)
	case StagePostNovelty:
		attrs = append(attrs, "novelty", obs.Novelty)
		if obs.AnomalyScore != nil {
			attrs = append(attrs, "anomaly_score", *obs.AnomalyScore)
		}
	case StagePostRouting:
		attrs = append(attrs, "decision", string(obs.Decision), "label", string(obs.Label),
			"rule_id", obs.RuleID, "tier", string(obs.Tier))
	case StagePostCost:
		attrs = append(attrs, "expected_loss", obs.Costs.ExpectedLoss,
			"manual_review_cost", obs.Costs.ManualReviewCost, "net_utility", obs.Costs.NetUtility)
	}

	slog.DebugContext(ctx, "engine stage", attrs...)
}

// spanObserver records each stage as an event on the active span.
type spanObserver struct{}

func (spanObserver) Observe(ctx context.Context, obs Observation) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	var attrs []attribute.KeyValue
	switch obs.Stage {
	case StagePreAggregation:
		attrs = append(attrs, attribute.Int("engine.num_features", obs.NumFeatures))
	case StagePostAggregation:
		attrs = append(attrs,
			attribute.Float64("engine.risk", obs.Risk),
			attribute.Float64("engine.uncertainty", obs.Uncertainty),
		)
	case StagePostNovelty:
		attrs = append(attrs, attribute.Bool("engine.novelty", obs.Novelty))
		if obs.AnomalyScore != nil {
			attrs = append(attrs, attribute.Float64("engine.anomaly_score", *obs.AnomalyScore))
		}
	case StagePostRouting:
		attrs = append(attrs,
			attribute.String("engine.decision", string(obs.Decision)),
			attribute.String("engine.rule_id", obs.RuleID),
			attribute.String("engine.tier", string(obs.Tier)),
		)
	case StagePostCost:
		attrs = append(attrs, attribute.Float64("engine.net_utility", obs.Costs.NetUtility))
	}

	span.AddEvent(string(obs.Stage), trace.WithAttributes(attrs...))
}
