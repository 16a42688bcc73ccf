// Package engine orchestrates a single fraud decision: ensemble aggregation,
// novelty scoring, routing, tiering and cost accounting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/harrier/internal/cost"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ensemble"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/novelty"
	"github.com/opensource-finance/harrier/internal/rules"
)

var tracer = otel.Tracer("harrier-engine")

// Engine produces EvaluationResults. It is immutable after construction and
// safe for concurrent use.
type Engine struct {
	aggregator *ensemble.Aggregator
	novelty    *novelty.Scorer
	router     *rules.Router
	costs      *cost.Estimator
	thresholds domain.Thresholds

	modelVersion      string
	uncertaintyMethod string

	observers []Observer
	now       func() time.Time
}

// Option customises an Engine.
type Option func(*options)

type options struct {
	observers []Observer
	now       func() time.Time
	recorder  LoadRecorder
}

// WithObserver adds an observer after the default log and span observers.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observers = append(opts.observers, o)
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		opts.now = now
	}
}

// LoadRecorder receives one record per artifact load attempt made by Load.
type LoadRecorder interface {
	SaveArtifactLoad(ctx context.Context, load *domain.ArtifactLoad) error
}

// WithLoadRecorder registers artifact load attempts, typically in the
// repository.
func WithLoadRecorder(r LoadRecorder) Option {
	return func(opts *options) {
		opts.recorder = r
	}
}

func buildOptions(opts []Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New builds an engine from in-memory models. ens is mandatory; anomaly may
// be nil, which disables novelty detection.
func New(cfg domain.EngineConfig, ens *model.Ensemble, anomaly domain.AnomalyModel, opts ...Option) (*Engine, error) {
	return newEngine(cfg, ens, anomaly, buildOptions(opts))
}

func newEngine(cfg domain.EngineConfig, ens *model.Ensemble, anomaly domain.AnomalyModel, o *options) (*Engine, error) {
	if ens == nil {
		return nil, fmt.Errorf("%w: ensemble is required", domain.ErrArtifactLoad)
	}
	if cfg.View == "" {
		cfg.View = domain.ViewCanonical
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	aggregator, err := ensemble.NewAggregator(ens.Members, cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}
	if ens.NumFeatures > 0 && aggregator.NumFeatures() != ens.NumFeatures {
		return nil, fmt.Errorf("%w: artifact declares %d features, members expect %d",
			domain.ErrArtifactLoad, ens.NumFeatures, aggregator.NumFeatures())
	}
	if anomaly != nil && anomaly.NumFeatures() != aggregator.NumFeatures() {
		return nil, fmt.Errorf("%w: anomaly model expects %d features, ensemble expects %d",
			domain.ErrInvalidConfig, anomaly.NumFeatures(), aggregator.NumFeatures())
	}

	scorer, err := novelty.NewScorer(anomaly, cfg.Thresholds.Anomaly)
	if err != nil {
		return nil, err
	}

	router, err := rules.NewRouter(cfg.Thresholds, cfg.View)
	if err != nil {
		return nil, err
	}

	estimator, err := cost.NewEstimator(cfg.Costs)
	if err != nil {
		return nil, err
	}

	modelVersion := firstNonEmpty(ens.ModelVersion, cfg.ModelVersion, domain.DefaultModelVersion)
	uncertaintyMethod := firstNonEmpty(ens.UncertaintyMethod, domain.DefaultUncertaintyMethod)

	observers := append([]Observer{logObserver{}, spanObserver{}}, o.observers...)

	return &Engine{
		aggregator:        aggregator,
		novelty:           scorer,
		router:            router,
		costs:             estimator,
		thresholds:        cfg.Thresholds,
		modelVersion:      modelVersion,
		uncertaintyMethod: uncertaintyMethod,
		observers:         observers,
		now:               o.now,
	}, nil
}

// Load builds an engine from the artifact paths in cfg.
// A missing or corrupt ensemble fails with domain.ErrArtifactLoad. A missing
// or corrupt novelty artifact is logged and novelty detection is disabled.
func Load(ctx context.Context, cfg domain.EngineConfig, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	ens, info, err := model.LoadEnsemble(cfg.EnsemblePath)
	if err != nil {
		o.record(ctx, loadRecord(domain.ArtifactEnsemble, info, cfg.EnsemblePath, domain.LoadStatusFailed, err.Error()))
		return nil, err
	}
	rec := loadRecord(domain.ArtifactEnsemble, info, cfg.EnsemblePath, domain.LoadStatusLoaded, "")
	rec.ModelVersion = ens.ModelVersion
	rec.MemberCount = len(ens.Members)
	rec.NumFeatures = ens.NumFeatures
	o.record(ctx, rec)

	slog.Info("ensemble loaded",
		"path", cfg.EnsemblePath,
		"members", len(ens.Members),
		"num_features", ens.NumFeatures,
		"model_version", ens.ModelVersion,
		"checksum", info.Checksum,
	)

	var anomaly domain.AnomalyModel
	forest, ninfo, err := model.LoadIsolationForest(cfg.NoveltyPath)
	switch {
	case errors.Is(err, domain.ErrNoveltyArtifactAbsent):
		slog.Warn("novelty artifact absent, novelty detection disabled", "path", cfg.NoveltyPath)
		o.record(ctx, loadRecord(domain.ArtifactNovelty, ninfo, cfg.NoveltyPath, domain.LoadStatusAbsent, err.Error()))

	case err != nil:
		slog.Warn("novelty artifact unusable, novelty detection disabled", "path", cfg.NoveltyPath, "error", err)
		o.record(ctx, loadRecord(domain.ArtifactNovelty, ninfo, cfg.NoveltyPath, domain.LoadStatusDegraded, err.Error()))

	case forest.NumFeatures() != ens.NumFeatures:
		detail := fmt.Sprintf("novelty model expects %d features, ensemble expects %d", forest.NumFeatures(), ens.NumFeatures)
		slog.Warn("novelty artifact dimension mismatch, novelty detection disabled", "path", cfg.NoveltyPath, "detail", detail)
		o.record(ctx, loadRecord(domain.ArtifactNovelty, ninfo, cfg.NoveltyPath, domain.LoadStatusDegraded, detail))

	default:
		anomaly = forest
		nrec := loadRecord(domain.ArtifactNovelty, ninfo, cfg.NoveltyPath, domain.LoadStatusLoaded, "")
		nrec.ModelVersion = forest.ModelVersion
		nrec.MemberCount = forest.Trees()
		nrec.NumFeatures = forest.NumFeatures()
		o.record(ctx, nrec)
		slog.Info("novelty model loaded",
			"path", cfg.NoveltyPath,
			"trees", forest.Trees(),
			"polarity", string(forest.Polarity()),
			"checksum", ninfo.Checksum,
		)
	}

	return newEngine(cfg, ens, anomaly, o)
}

func (o *options) record(ctx context.Context, load *domain.ArtifactLoad) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveArtifactLoad(ctx, load); err != nil {
		slog.Warn("failed to record artifact load", "kind", string(load.Kind), "error", err)
	}
}

func loadRecord(kind domain.ArtifactKind, info model.Info, path string, status domain.LoadStatus, detail string) *domain.ArtifactLoad {
	return &domain.ArtifactLoad{
		ID:        uuid.New().String(),
		Kind:      kind,
		Path:      path,
		Checksum:  info.Checksum,
		SizeBytes: info.SizeBytes,
		Status:    status,
		Detail:    detail,
		LoadedAt:  time.Now().UTC(),
	}
}

// Evaluate scores x and returns a fresh result. It never returns a partial
// result: any stage failure aborts the call.
func (e *Engine) Evaluate(ctx context.Context, x domain.FeatureVector) (*domain.EvaluationResult, error) {
	ctx, span := tracer.Start(ctx, "engine.evaluate")
	defer span.End()

	result, err := e.evaluate(ctx, x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, x domain.FeatureVector) (*domain.EvaluationResult, error) {
	obs := Observation{Stage: StagePreAggregation, NumFeatures: len(x)}
	e.observe(ctx, obs)

	risk, uncertainty, err := e.aggregator.Aggregate(ctx, x)
	if err != nil {
		return nil, err
	}
	obs.Stage, obs.Risk, obs.Uncertainty = StagePostAggregation, risk, uncertainty
	e.observe(ctx, obs)

	anomalyScore, novel, err := e.novelty.Score(x)
	if err != nil {
		return nil, err
	}
	obs.Stage, obs.AnomalyScore, obs.Novelty = StagePostNovelty, anomalyScore, novel
	e.observe(ctx, obs)

	route, err := e.router.Route(risk, uncertainty, novel)
	if err != nil {
		return nil, err
	}
	tier := rules.ClassifyTier(risk, e.thresholds)
	obs.Stage, obs.Decision, obs.Label, obs.RuleID, obs.Tier = StagePostRouting, route.Decision, route.Label, route.RuleID, tier
	e.observe(ctx, obs)

	// costs follow the canonical decision so both views agree
	costs := e.costs.Estimate(route.Decision, risk)
	obs.Stage, obs.Costs = StagePostCost, costs
	e.observe(ctx, obs)

	return &domain.EvaluationResult{
		Decision:    route.Label,
		RiskScore:   risk,
		Uncertainty: uncertainty,
		NoveltyFlag: novel,
		Tier:        tier,
		Costs:       costs,
		Explanations: domain.Explanations{
			TopFeatures:  []string{},
			AnomalyScore: anomalyScore,
		},
		Meta: domain.ResultMeta{
			ModelVersion:      e.modelVersion,
			UncertaintyMethod: e.uncertaintyMethod,
			Timestamp:         domain.FormatTimestamp(e.now()),
		},
	}, nil
}

func (e *Engine) observe(ctx context.Context, obs Observation) {
	for _, o := range e.observers {
		o.Observe(ctx, obs)
	}
}

// NumFeatures returns the expected feature vector length.
func (e *Engine) NumFeatures() int {
	return e.aggregator.NumFeatures()
}

// Members returns the ensemble size.
func (e *Engine) Members() int {
	return e.aggregator.Size()
}

// NoveltyEnabled reports whether an anomaly model is active.
func (e *Engine) NoveltyEnabled() bool {
	return e.novelty.Enabled()
}

// ModelVersion returns the version reported in result metadata.
func (e *Engine) ModelVersion() string {
	return e.modelVersion
}

// Settings describes the active decision policy.
type Settings struct {
	Thresholds      domain.Thresholds    `json:"thresholds"`
	Costs           domain.CostConfig    `json:"costs"`
	View            domain.DecisionView  `json:"view"`
	Rules           []rules.DecisionRule `json:"rules"`
	NumFeatures     int                  `json:"numFeatures"`
	Members         int                  `json:"members"`
	NoveltyEnabled  bool                 `json:"noveltyEnabled"`
	NoveltyPolarity domain.ScorePolarity `json:"noveltyPolarity,omitempty"`
	ModelVersion    string               `json:"modelVersion"`
}

// Settings returns the active decision policy.
func (e *Engine) Settings() Settings {
	return Settings{
		Thresholds:      e.thresholds,
		Costs:           e.costs.Config(),
		View:            e.router.View(),
		Rules:           e.router.Rules(),
		NumFeatures:     e.aggregator.NumFeatures(),
		Members:         e.aggregator.Size(),
		NoveltyEnabled:  e.novelty.Enabled(),
		NoveltyPolarity: e.novelty.Polarity(),
		ModelVersion:    e.modelVersion,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
