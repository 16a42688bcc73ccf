package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	decisionApprove = "APPROVE"
	decisionDecline = "DECLINE"
)

// decisionOrder is the display order of decision columns.
var decisionOrder = []string{
	"APPROVE", "STEP_UP_AUTH", "ESCALATE_INVEST", "ABSTAIN", "DECLINE", "MANUAL_REVIEW",
}

// tally accumulates results by label and decision.
type tally struct {
	mu        sync.Mutex
	fraud     map[string]int64
	legit     map[string]int64
	errors    int64
	novel     int64
	latencyMs int64
	processed int64
}

func newTally() *tally {
	return &tally{
		fraud: make(map[string]int64),
		legit: make(map[string]int64),
	}
}

func (t *tally) add(r row, res *predictResponse, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	t.latencyMs += latency.Milliseconds()
	if err != nil {
		t.errors++
		return
	}
	if res.NoveltyFlag {
		t.novel++
	}
	if r.Fraud {
		t.fraud[res.Decision]++
	} else {
		t.legit[res.Decision]++
	}
}

// replay sends rows to the server with a fixed pool of workers.
func replay(ctx context.Context, c *client, rows []row, numWorkers int, verbose bool) *tally {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	t := newTally()
	work := make(chan row, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range work {
				start := time.Now()
				res, err := c.predict(ctx, r.Features)
				t.add(r, res, time.Since(start), err)

				if err != nil {
					slog.Debug("prediction failed", "line", r.Line, "error", err)
					continue
				}
				if verbose {
					fmt.Printf("line %-7d | fraud: %-5v | %-15s | risk: %.4f | unc: %.4f | tier: %s\n",
						r.Line, r.Fraud, res.Decision, res.RiskScore, res.Uncertainty, res.Tier)
				}
			}
		}()
	}

	for _, r := range rows {
		if ctx.Err() != nil {
			break
		}
		work <- r
	}
	close(work)

	wg.Wait()
	return t
}

// Report is the benchmark outcome.
type Report struct {
	Processed        int64            `json:"processed" yaml:"processed"`
	Errors           int64            `json:"errors" yaml:"errors"`
	Novel            int64            `json:"novel" yaml:"novel"`
	Fraud            map[string]int64 `json:"fraud" yaml:"fraud"`
	Legit            map[string]int64 `json:"legit" yaml:"legit"`
	CatchRate        float64          `json:"catchRate" yaml:"catch_rate"`
	FalseDeclines    float64          `json:"falseDeclineRate" yaml:"false_decline_rate"`
	HandlingRate     float64          `json:"handlingRate" yaml:"handling_rate"`
	MissedFraudCost  float64          `json:"missedFraudCost" yaml:"missed_fraud_cost"`
	ReviewCost       float64          `json:"reviewCost" yaml:"review_cost"`
	FalseDeclineCost float64          `json:"falseDeclineCost" yaml:"false_decline_cost"`
	TotalCost        float64          `json:"totalCost" yaml:"total_cost"`
	Costs            costPolicy       `json:"costs" yaml:"costs"`
	Duration         string           `json:"duration" yaml:"duration"`
	AvgLatencyMs     float64          `json:"avgLatencyMs" yaml:"avg_latency_ms"`
	Throughput       float64          `json:"throughput" yaml:"throughput"`
}

// report derives rates and realized cost under the server's cost policy.
// Fraud counts as caught unless it was approved.
func (t *tally) report(costs costPolicy, duration time.Duration) *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &Report{
		Processed: t.processed,
		Errors:    t.errors,
		Novel:     t.novel,
		Fraud:     copyCounts(t.fraud),
		Legit:     copyCounts(t.legit),
		Costs:     costs,
		Duration:  duration.Round(time.Millisecond).String(),
	}

	fraudTotal, legitTotal := sum(t.fraud), sum(t.legit)
	missed := t.fraud[decisionApprove]
	falseDeclines := t.legit[decisionDecline]

	var handled int64
	for _, counts := range []map[string]int64{t.fraud, t.legit} {
		for d, n := range counts {
			if d != decisionApprove && d != decisionDecline {
				handled += n
			}
		}
	}

	if fraudTotal > 0 {
		r.CatchRate = float64(fraudTotal-missed) / float64(fraudTotal)
	}
	if legitTotal > 0 {
		r.FalseDeclines = float64(falseDeclines) / float64(legitTotal)
	}
	if fraudTotal+legitTotal > 0 {
		r.HandlingRate = float64(handled) / float64(fraudTotal+legitTotal)
	}

	r.MissedFraudCost = float64(missed) * costs.FraudCost
	r.ReviewCost = float64(handled) * costs.ReviewCost
	r.FalseDeclineCost = float64(falseDeclines) * costs.FalsePositiveCost
	r.TotalCost = r.MissedFraudCost + r.ReviewCost + r.FalseDeclineCost

	if t.processed > 0 {
		r.AvgLatencyMs = float64(t.latencyMs) / float64(t.processed)
		if s := duration.Seconds(); s > 0 {
			r.Throughput = float64(t.processed) / s
		}
	}
	return r
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sum(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

// columns returns the decisions to display: the known order, then any
// unexpected labels sorted.
func (r *Report) columns() []string {
	seen := make(map[string]bool)
	for _, m := range []map[string]int64{r.Fraud, r.Legit} {
		for d := range m {
			seen[d] = true
		}
	}

	var cols []string
	for _, d := range decisionOrder {
		if seen[d] || d != "MANUAL_REVIEW" {
			cols = append(cols, d)
		}
		delete(seen, d)
	}
	var extra []string
	for d := range seen {
		extra = append(extra, d)
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func writeReport(w io.Writer, r *Report, format string) error {
	switch format {
	case formatJSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(r)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(r)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "BENCHMARK RESULTS")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Processed:  %d\n", r.Processed)
	fmt.Fprintf(w, "  Errors:     %d\n", r.Errors)
	fmt.Fprintf(w, "  Novel:      %d\n", r.Novel)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "DECISIONS BY LABEL")
	cols := r.columns()
	fmt.Fprintf(w, "  %-8s", "")
	for _, c := range cols {
		fmt.Fprintf(w, " %15s", c)
	}
	fmt.Fprintln(w)
	for _, line := range []struct {
		name   string
		counts map[string]int64
	}{{"fraud", r.Fraud}, {"legit", r.Legit}} {
		fmt.Fprintf(w, "  %-8s", line.name)
		for _, c := range cols {
			fmt.Fprintf(w, " %15d", line.counts[c])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "RATES")
	fmt.Fprintf(w, "  Catch rate:          %.4f\n", r.CatchRate)
	fmt.Fprintf(w, "  False decline rate:  %.4f\n", r.FalseDeclines)
	fmt.Fprintf(w, "  Handling rate:       %.4f\n", r.HandlingRate)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "COST (fraud %.0f, review %.0f, false positive %.0f)\n",
		r.Costs.FraudCost, r.Costs.ReviewCost, r.Costs.FalsePositiveCost)
	fmt.Fprintf(w, "  Missed fraud:   %12.2f\n", r.MissedFraudCost)
	fmt.Fprintf(w, "  Reviews:        %12.2f\n", r.ReviewCost)
	fmt.Fprintf(w, "  False declines: %12.2f\n", r.FalseDeclineCost)
	fmt.Fprintf(w, "  Total:          %12.2f\n", r.TotalCost)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "PERFORMANCE")
	fmt.Fprintf(w, "  Duration:     %s\n", r.Duration)
	fmt.Fprintf(w, "  Avg latency:  %.2f ms\n", r.AvgLatencyMs)
	fmt.Fprintf(w, "  Throughput:   %.2f req/sec\n", r.Throughput)
	fmt.Fprintln(w)
	return nil
}
