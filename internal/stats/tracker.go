// Package stats counts evaluation outcomes in fixed windows on top of the
// cache counters.
package stats

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	keyEvaluations = "evaluations"
	keyErrors      = "errors"
	keyNovelty     = "novelty"
	prefixDecision = "decision:"
	prefixTier     = "tier:"
)

// Tracker records evaluation outcomes. Windows are aligned to multiples of
// the window length and shared by every counter, so the decision counts of
// a snapshot always sum to its evaluations.
type Tracker struct {
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker over cache. window <= 0 defaults to one hour.
func NewTracker(cache domain.Cache, window time.Duration) *Tracker {
	if window <= 0 {
		window = time.Hour
	}
	return &Tracker{cache: cache, window: window, now: time.Now}
}

// windowStart returns the start of the window containing now.
func (t *Tracker) windowStart() time.Time {
	return t.now().UTC().Truncate(t.window)
}

// key scopes a counter name to the window starting at start.
func key(start time.Time, name string) string {
	return strconv.FormatInt(start.Unix(), 10) + ":" + name
}

// Record counts one successful evaluation.
func (t *Tracker) Record(ctx context.Context, res *domain.EvaluationResult) error {
	keys := []string{
		keyEvaluations,
		prefixDecision + string(res.Decision),
		prefixTier + string(res.Tier),
	}
	if res.NoveltyFlag {
		keys = append(keys, keyNovelty)
	}

	start := t.windowStart()
	var errs []error
	for _, name := range keys {
		if _, err := t.cache.IncrementCounter(ctx, key(start, name), t.window); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordError counts one failed evaluation.
func (t *Tracker) RecordError(ctx context.Context) error {
	_, err := t.cache.IncrementCounter(ctx, key(t.windowStart(), keyErrors), t.window)
	return err
}

// Snapshot is the current state of all counters.
type Snapshot struct {
	Window      string                         `json:"window"`
	WindowStart time.Time                      `json:"windowStart"`
	Evaluations int64                          `json:"evaluations"`
	Errors      int64                          `json:"errors"`
	Novel       int64                          `json:"novel"`
	Decisions   map[domain.DecisionState]int64 `json:"decisions"`
	Tiers       map[domain.RiskTier]int64      `json:"tiers"`
}

// Snapshot reads every counter of the current window.
func (t *Tracker) Snapshot(ctx context.Context) (*Snapshot, error) {
	start := t.windowStart()
	snap := &Snapshot{
		Window:      t.window.String(),
		WindowStart: start,
		Decisions:   make(map[domain.DecisionState]int64),
		Tiers:       make(map[domain.RiskTier]int64),
	}

	var err error
	if snap.Evaluations, err = t.cache.GetCounter(ctx, key(start, keyEvaluations)); err != nil {
		return nil, err
	}
	if snap.Errors, err = t.cache.GetCounter(ctx, key(start, keyErrors)); err != nil {
		return nil, err
	}
	if snap.Novel, err = t.cache.GetCounter(ctx, key(start, keyNovelty)); err != nil {
		return nil, err
	}

	decisions := append(domain.CanonicalDecisions(), domain.DecisionManualReview)
	for _, d := range decisions {
		n, err := t.cache.GetCounter(ctx, key(start, prefixDecision+string(d)))
		if err != nil {
			return nil, err
		}
		snap.Decisions[d] = n
	}

	for _, tier := range []domain.RiskTier{domain.TierLow, domain.TierMedium, domain.TierHigh} {
		n, err := t.cache.GetCounter(ctx, key(start, prefixTier+string(tier)))
		if err != nil {
			return nil, err
		}
		snap.Tiers[tier] = n
	}

	return snap, nil
}
