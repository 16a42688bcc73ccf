package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `"Time","V1","V2","Amount","Class"
0,-1.5,0.2,149.62,"0"
1,1.1,-0.3,2.69,"0"
2,-3.2,4.1,0,"1"
`

func TestParseDataset(t *testing.T) {
	rows, err := parseDataset(strings.NewReader(sampleCSV), datasetOptions{LabelColumn: "Class", LogAmount: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0]
	require.Len(t, first.Features, 4)
	assert.InDelta(t, math.Log1p(149.62), first.Features[3], 1e-12)
	assert.False(t, first.Fraud)
	assert.False(t, rows[1].Fraud)
	assert.True(t, rows[2].Fraud)
	assert.Equal(t, 2, first.Line)

	t.Run("RawAmount", func(t *testing.T) {
		rows, err := parseDataset(strings.NewReader(sampleCSV), datasetOptions{LabelColumn: "Class"})
		require.NoError(t, err)
		assert.Equal(t, 149.62, rows[0].Features[3])
	})

	t.Run("Limit", func(t *testing.T) {
		rows, _ := parseDataset(strings.NewReader(sampleCSV), datasetOptions{LabelColumn: "Class", Limit: 2})
		assert.Len(t, rows, 2)
	})

	t.Run("MissingLabel", func(t *testing.T) {
		_, err := parseDataset(strings.NewReader(sampleCSV), datasetOptions{LabelColumn: "isFraud"})
		assert.Error(t, err)
	})

	t.Run("BadNumber", func(t *testing.T) {
		_, err := parseDataset(strings.NewReader("a,Class\nx,0\n"), datasetOptions{LabelColumn: "Class"})
		assert.Error(t, err)
	})
}

func TestScaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaler.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mean": [1, 2], "scale": [2, 4]}`), 0o600))

	sc, err := loadScaler(path)
	require.NoError(t, err)

	x := []float64{3, 10}
	require.NoError(t, sc.apply(x))
	assert.Equal(t, []float64{1, 2}, x)

	assert.Error(t, sc.apply([]float64{1}), "wrong width")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("mean: [1]\nscale: [0]\n"), 0o600)
	_, err = loadScaler(bad)
	assert.Error(t, err, "zero scale")
}

func TestTallyReport(t *testing.T) {
	tl := newTally()
	add := func(fraud bool, decision string) {
		tl.add(row{Fraud: fraud}, &predictResponse{Decision: decision}, time.Millisecond, nil)
	}

	add(true, "DECLINE")
	add(true, "ESCALATE_INVEST")
	add(true, "APPROVE")
	add(false, "APPROVE")
	add(false, "APPROVE")
	add(false, "DECLINE")
	add(false, "STEP_UP_AUTH")
	tl.add(row{}, nil, time.Millisecond, context.DeadlineExceeded)

	r := tl.report(costPolicy{FraudCost: 1000, ReviewCost: 20, FalsePositiveCost: 50}, time.Second)

	assert.Equal(t, int64(8), r.Processed)
	assert.Equal(t, int64(1), r.Errors)
	assert.InDelta(t, 2.0/3.0, r.CatchRate, 1e-12)
	assert.Equal(t, 0.25, r.FalseDeclines)
	assert.Equal(t, 1000.0, r.MissedFraudCost)
	assert.Equal(t, 40.0, r.ReviewCost)
	assert.Equal(t, 50.0, r.FalseDeclineCost)
	assert.Equal(t, 1090.0, r.TotalCost)

	// manual review never appears in the canonical view
	assert.Len(t, r.columns(), 5)

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, r, formatTable))
	assert.Contains(t, buf.String(), "DECISIONS BY LABEL")

	buf.Reset()
	require.NoError(t, writeReport(&buf, r, formatJSON))
	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1090.0, decoded.TotalCost)
}

func TestReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Features []float64 `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Features) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "expected 2 features"})
			return
		}
		decision := "APPROVE"
		if req.Features[0] > 0.5 {
			decision = "DECLINE"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"decision": decision, "risk_score": req.Features[0]})
	}))
	defer srv.Close()

	rows := []row{
		{Line: 2, Features: []float64{0.9, 0}, Fraud: true},
		{Line: 3, Features: []float64{0.1, 0}, Fraud: false},
		{Line: 4, Features: []float64{0.1, 0}, Fraud: true},
		{Line: 5, Features: []float64{0.1}, Fraud: false},
	}

	tl := replay(context.Background(), newClient(srv.URL+"/", time.Second), rows, 3, false)
	r := tl.report(costPolicy{FraudCost: 1000}, time.Second)

	assert.Equal(t, int64(4), r.Processed)
	assert.Equal(t, int64(1), r.Errors)
	assert.Equal(t, int64(1), r.Fraud["DECLINE"])
	assert.Equal(t, int64(1), r.Fraud["APPROVE"])
	assert.Equal(t, int64(1), r.Legit["APPROVE"])
	assert.Equal(t, 1000.0, r.TotalCost)
}
