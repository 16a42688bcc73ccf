// Package worker scores feature vectors received on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SourceBus marks decision events produced by the worker.
const SourceBus = "bus"

// Evaluator scores one feature vector.
type Evaluator interface {
	Evaluate(ctx context.Context, x domain.FeatureVector) (*domain.EvaluationResult, error)
}

// Recorder counts outcomes. Failures are logged and never fail a request.
type Recorder interface {
	Record(ctx context.Context, res *domain.EvaluationResult) error
	RecordError(ctx context.Context) error
}

// Worker evaluates score requests asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	engine   Evaluator
	recorder Recorder

	mu            sync.Mutex
	subscriptions []domain.Subscription
	group         *errgroup.Group
	ctx           context.Context
	cancel        context.CancelFunc

	// dispatch is held shared while a handler hands a request to the group
	// and exclusively by Stop to close the intake before waiting.
	dispatch  sync.RWMutex
	closing   *atomic.Bool
	processed *atomic.Int64
	failed    *atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds in-flight evaluations. Defaults to 1.
	Concurrency int
}

// NewWorker creates a new async worker. recorder may be nil.
func NewWorker(bus domain.EventBus, engine Evaluator, recorder Recorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		engine:    engine,
		recorder:  recorder,
		ctx:       ctx,
		cancel:    cancel,
		closing:   atomic.NewBool(false),
		processed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
	}
}

// Start subscribes to the score request topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.group != nil {
		return fmt.Errorf("worker already started")
	}

	g := &errgroup.Group{}
	g.SetLimit(cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicScoreRequest, func(_ context.Context, msg *domain.Message) error {
		w.dispatch.RLock()
		defer w.dispatch.RUnlock()

		if w.closing.Load() {
			slog.Debug("worker closing, dropping score request", "message_id", msg.ID)
			return nil
		}
		g.Go(func() error {
			w.process(w.ctx, msg)
			return nil
		})
		return nil
	})
	if err != nil {
		return err
	}

	w.group = g
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicScoreRequest,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// process evaluates one request and publishes the outcome.
func (w *Worker) process(ctx context.Context, msg *domain.Message) {
	start := time.Now()
	replyTo := msg.Metadata[domain.MetadataReplyTo]

	var req domain.ScoreRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse score request",
			"message_id", msg.ID,
			"error", err,
		)
		w.fail(ctx, msg.ID, replyTo, fmt.Errorf("invalid score request: %w", err))
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	slog.Debug("processing score request",
		"request_id", requestID,
		"features", len(req.Features),
	)

	result, err := w.engine.Evaluate(ctx, req.Features)
	if err != nil {
		slog.Error("evaluation failed",
			"request_id", requestID,
			"error", err,
		)
		w.fail(ctx, requestID, replyTo, err)
		return
	}

	if w.recorder != nil {
		if err := w.recorder.Record(ctx, result); err != nil {
			slog.Warn("failed to record decision", "request_id", requestID, "error", err)
		}
	}

	payload, err := json.Marshal(domain.DecisionEvent{
		RequestID: requestID,
		Source:    SourceBus,
		Result:    result,
	})
	if err != nil {
		slog.Error("failed to marshal decision", "request_id", requestID, "error", err)
		return
	}

	w.processed.Inc()
	w.publish(ctx, domain.TopicDecision, requestID, payload)

	if result.Decision.RequiresHandling() {
		w.publish(ctx, domain.TopicDecisionReview, requestID, payload)
	}

	if replyTo != "" {
		w.publish(ctx, replyTo, requestID, payload)
	}

	slog.Info("score request processed",
		"request_id", requestID,
		"decision", result.Decision,
		"risk_score", result.RiskScore,
		"novelty_flag", result.NoveltyFlag,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// fail publishes a ScoreError to the error topic and the reply topic.
func (w *Worker) fail(ctx context.Context, requestID, replyTo string, cause error) {
	w.failed.Inc()
	if w.recorder != nil {
		if err := w.recorder.RecordError(ctx); err != nil {
			slog.Warn("failed to record error", "request_id", requestID, "error", err)
		}
	}

	payload, err := json.Marshal(domain.ScoreError{
		RequestID: requestID,
		Error:     cause.Error(),
	})
	if err != nil {
		return
	}

	w.publish(ctx, domain.TopicScoreError, requestID, payload)
	if replyTo != "" {
		w.publish(ctx, replyTo, requestID, payload)
	}
}

func (w *Worker) publish(ctx context.Context, topic, requestID string, payload []byte) {
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish",
			"topic", topic,
			"request_id", requestID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight evaluations. Requests accepted
// before Stop are completed; later ones are dropped.
func (w *Worker) Stop() error {
	w.dispatch.Lock()
	w.closing.Store(true)
	w.dispatch.Unlock()

	w.mu.Lock()
	subs := w.subscriptions
	g := w.group
	w.subscriptions = nil
	w.group = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	if g != nil {
		_ = g.Wait()
	}
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
