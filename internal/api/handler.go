// Package api serves the decision engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/stats"
)

// SourceHTTP marks decision events produced by POST /predict.
const SourceHTTP = "http"

// maxBodyBytes bounds POST /predict bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	stats   *stats.Tracker
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		engine:  deps.Engine,
		repo:    deps.Repo,
		cache:   deps.Cache,
		bus:     deps.Bus,
		stats:   deps.Stats,
		version: deps.Version,
	}
}

// PredictRequest is the request body for POST /predict.
type PredictRequest struct {
	Features domain.FeatureVector `json:"features"`
}

// Predict handles POST /predict. The response body is the evaluation result.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PredictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	result, err := h.engine.Evaluate(ctx, req.Features)
	if err != nil {
		h.recordError(ctx)

		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeError(w, status, fmt.Sprintf("expected %d features, got %d", h.engine.NumFeatures(), len(req.Features)))
			return
		}

		slog.Error("evaluation failed",
			"request_id", GetRequestID(ctx),
			"error", err,
		)
		writeError(w, status, "evaluation failed")
		return
	}

	h.record(ctx, result)
	h.publish(ctx, result)

	slog.Debug("prediction served",
		"request_id", GetRequestID(ctx),
		"decision", result.Decision,
		"risk_score", result.RiskScore,
		"tier", result.Tier,
	)

	writeJSON(w, http.StatusOK, result)
}

// statusFor maps evaluation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFeatureDimensionMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) record(ctx context.Context, result *domain.EvaluationResult) {
	if h.stats == nil {
		return
	}
	if err := h.stats.Record(ctx, result); err != nil {
		slog.Warn("failed to record decision", "error", err)
	}
}

func (h *Handler) recordError(ctx context.Context) {
	if h.stats == nil {
		return
	}
	if err := h.stats.RecordError(ctx); err != nil {
		slog.Warn("failed to record error", "error", err)
	}
}

// publish emits the decision event. Bus failures never fail the request.
func (h *Handler) publish(ctx context.Context, result *domain.EvaluationResult) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.DecisionEvent{
		RequestID: GetRequestID(ctx),
		Source:    SourceHTTP,
		Result:    result,
	})
	if err != nil {
		slog.Error("failed to marshal decision event", "error", err)
		return
	}

	topics := []string{domain.TopicDecision}
	if result.Decision.RequiresHandling() {
		topics = append(topics, domain.TopicDecisionReview)
	}
	for _, topic := range topics {
		if err := h.bus.Publish(ctx, topic, payload); err != nil {
			slog.Warn("failed to publish decision",
				"topic", topic,
				"error", err,
			)
		}
	}
}

// Health returns server health status. Scoring without novelty detection
// reports degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	if !h.engine.NoveltyEnabled() {
		status = "degraded"
	}

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"model":   h.engine.ModelVersion(),
		"version": h.version,
		"novelty": h.engine.NoveltyEnabled(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("event_bus", h.bus.Ping)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// Stats returns the rolling decision counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusServiceUnavailable, "stats disabled")
		return
	}

	snap, err := h.stats.Snapshot(r.Context())
	if err != nil {
		slog.Error("failed to read stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// Models lists recent artifact loads, most recent first.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact registry not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	loads, err := h.repo.ListArtifactLoads(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list artifact loads", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list artifact loads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loads": loads,
		"count": len(loads),
	})
}

// Config returns the active decision policy.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Settings())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
