package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/stats"
)

const dim = 31

// firstFeatureMember returns x[0] as the fraud probability.
type firstFeatureMember struct{}

func (firstFeatureMember) Probability(x domain.FeatureVector) (float64, error) { return x[0], nil }
func (firstFeatureMember) NumFeatures() int                                   { return dim }

// quietForest scores every vector well inside the legitimate region.
type quietForest struct{}

func (quietForest) DecisionScore(domain.FeatureVector) (float64, error) { return -0.5, nil }
func (quietForest) NumFeatures() int                                    { return dim }
func (quietForest) Polarity() domain.ScorePolarity                      { return domain.PolarityHigherIsAnomalous }

type testEnv struct {
	server  *Server
	bus     *bus.ChannelBus
	tracker *stats.Tracker
	repo    *repository.SQLRepository
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithAnomaly(t, nil)
}

func newTestEnvWithAnomaly(t *testing.T, anomaly domain.AnomalyModel) *testEnv {
	t.Helper()

	repo, err := repository.New(context.Background(), domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ens := &model.Ensemble{NumFeatures: dim, Members: []domain.EnsembleMember{firstFeatureMember{}}}
	eng, err := engine.New(domain.DefaultConfig().Engine, ens, anomaly)
	require.NoError(t, err)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	counters := cache.NewLRUCache(100)
	tracker := stats.NewTracker(counters, time.Hour)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
		CORSOrigins:  []string{"https://glass.example.com"},
	}

	server := NewServer(cfg, Dependencies{
		Engine:  eng,
		Repo:    repo,
		Cache:   counters,
		Bus:     eventBus,
		Stats:   tracker,
		Version: "test-v1",
	})

	return &testEnv{server: server, bus: eventBus, tracker: tracker, repo: repo}
}

func features(p float64) domain.FeatureVector {
	x := make(domain.FeatureVector, dim)
	x[0] = p
	return x
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func TestPredictEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Decline", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.85)})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var res domain.EvaluationResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
		assert.Equal(t, domain.DecisionDecline, res.Decision)
		assert.Equal(t, domain.TierHigh, res.Tier)
		assert.Equal(t, domain.DefaultModelVersion, res.Meta.ModelVersion)
		assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	})

	t.Run("ResponseShape", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.1)})
		require.Equal(t, http.StatusOK, rr.Code)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
		for _, key := range []string{"decision", "risk_score", "uncertainty", "novelty_flag", "tier", "costs", "explanations", "meta"} {
			assert.Contains(t, raw, key)
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", PredictRequest{Features: domain.FeatureVector{0.1, 0.2}})
		require.Equal(t, http.StatusBadRequest, rr.Code)

		var body map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
		assert.Equal(t, "expected 31 features, got 2", body["error"])
	})

	t.Run("MissingFeatures", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", "{}")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/predict", "{invalid")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestPredictPublishesDecisions(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	got := map[string][]domain.DecisionEvent{}
	for _, topic := range []string{domain.TopicDecision, domain.TopicDecisionReview} {
		topic := topic
		env.bus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
			var ev domain.DecisionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			mu.Lock()
			got[topic] = append(got[topic], ev)
			mu.Unlock()
			return nil
		})
	}

	env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.1)}) // APPROVE
	env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.5)}) // STEP_UP_AUTH

	count := func(topic string) int {
		mu.Lock()
		defer mu.Unlock()
		return len(got[topic])
	}

	assert.Eventually(t, func() bool {
		return count(domain.TopicDecision) == 2 && count(domain.TopicDecisionReview) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, count(domain.TopicDecisionReview))

	mu.Lock()
	review := got[domain.TopicDecisionReview][0]
	mu.Unlock()
	assert.Equal(t, SourceHTTP, review.Source)
	assert.Equal(t, domain.DecisionStepUpAuth, review.Result.Decision)
	assert.NotEmpty(t, review.RequestID)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.1)})
	env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.9)})
	env.do(http.MethodPost, "/predict", PredictRequest{Features: features(0.9)})
	env.do(http.MethodPost, "/predict", PredictRequest{Features: domain.FeatureVector{1}})

	rr := env.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var snap stats.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, int64(3), snap.Evaluations)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(2), snap.Decisions[domain.DecisionDecline])
	assert.Equal(t, int64(1), snap.Tiers[domain.TierLow])
	assert.False(t, snap.WindowStart.IsZero())
}

func TestModelsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	err := env.repo.SaveArtifactLoad(context.Background(), &domain.ArtifactLoad{
		Kind:         domain.ArtifactEnsemble,
		Path:         "./models/ensemble.json",
		ModelVersion: "xgb_ensemble_v1",
		MemberCount:  5,
		NumFeatures:  dim,
		Status:       domain.LoadStatusLoaded,
	})
	require.NoError(t, err)

	rr := env.do(http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Loads []domain.ArtifactLoad `json:"loads"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Len(t, resp.Loads, 1)
	assert.Equal(t, domain.LoadStatusLoaded, resp.Loads[0].Status)

	rr = env.do(http.MethodGet, "/models?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var settings engine.Settings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &settings))
	assert.Equal(t, domain.DefaultThresholds(), settings.Thresholds)
	assert.Equal(t, domain.DefaultCosts(), settings.Costs)
	assert.Equal(t, domain.ViewCanonical, settings.View)
	assert.Equal(t, dim, settings.NumFeatures)
	assert.Len(t, settings.Rules, 6)
}

func TestHealthEndpoint(t *testing.T) {
	health := func(t *testing.T, env *testEnv) map[string]any {
		t.Helper()
		rr := env.do(http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, domain.DefaultModelVersion, resp["model"])
		assert.Equal(t, "test-v1", resp["version"])
		return resp
	}

	t.Run("NoveltyDisabled", func(t *testing.T) {
		resp := health(t, newTestEnv(t))
		assert.Equal(t, "degraded", resp["status"])
		assert.Equal(t, false, resp["novelty"])
	})

	t.Run("NoveltyEnabled", func(t *testing.T) {
		resp := health(t, newTestEnvWithAnomaly(t, quietForest{}))
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, true, resp["novelty"])
	})
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	env.bus.Close()

	rr = env.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOptionalDependencies(t *testing.T) {
	ens := &model.Ensemble{NumFeatures: dim, Members: []domain.EnsembleMember{firstFeatureMember{}}}
	eng, err := engine.New(domain.DefaultConfig().Engine, ens, nil)
	require.NoError(t, err)
	server := NewServer(domain.ServerConfig{}, Dependencies{Engine: eng})

	for _, path := range []string{"/stats", "/models"} {
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}

	body, _ := json.Marshal(PredictRequest{Features: features(0.9)})
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrFeatureDimensionMismatch, http.StatusBadRequest},
		{errors.Join(errors.New("wrapped"), domain.ErrFeatureDimensionMismatch), http.StatusBadRequest},
		{domain.ErrEnsembleMemberFailure, http.StatusInternalServerError},
		{domain.ErrInvalidRiskInput, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		origin  string
		allowed bool
	}{
		{"https://glass.example.com", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://evil.example.com", false},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", tc.origin)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code, tc.origin)
		got := rr.Header().Get("Access-Control-Allow-Origin")
		if tc.allowed {
			assert.Equal(t, tc.origin, got)
		} else {
			assert.Empty(t, got, tc.origin)
		}
	}
}
