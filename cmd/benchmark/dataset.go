package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// amountColumn is log1p-transformed when datasetOptions.LogAmount is set.
const amountColumn = "amount"

type datasetOptions struct {
	LabelColumn string
	LogAmount   bool
	Limit       int
	Scaler      *scaler
}

// row is one labelled feature vector.
type row struct {
	Line     int
	Features []float64
	Fraud    bool
}

// scaler standardizes features as (x - mean) / scale.
type scaler struct {
	Mean  []float64 `json:"mean" yaml:"mean"`
	Scale []float64 `json:"scale" yaml:"scale"`
}

func loadScaler(path string) (*scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler: %w", err)
	}

	// yaml.v3 also reads JSON documents.
	var sc scaler
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scaler %s: %w", filepath.Base(path), err)
	}
	if len(sc.Mean) == 0 || len(sc.Mean) != len(sc.Scale) {
		return nil, fmt.Errorf("scaler %s: mean and scale must be non-empty and of equal length", filepath.Base(path))
	}
	for i, s := range sc.Scale {
		if s == 0 {
			return nil, fmt.Errorf("scaler %s: scale[%d] is zero", filepath.Base(path), i)
		}
	}
	return &sc, nil
}

func (s *scaler) apply(x []float64) error {
	if len(x) != len(s.Mean) {
		return fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	for i := range x {
		x[i] = (x[i] - s.Mean[i]) / s.Scale[i]
	}
	return nil
}

func readDataset(path string, opts datasetOptions) ([]row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseDataset(file, opts)
}

func parseDataset(r io.Reader, opts datasetOptions) ([]row, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelIdx, amountIdx := -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(col), `"`))
		switch name {
		case strings.ToLower(opts.LabelColumn):
			labelIdx = i
		case amountColumn:
			amountIdx = i
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("label column %q not found", opts.LabelColumn)
	}

	var rows []row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		features := make([]float64, 0, len(record)-1)
		var fraud bool
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(field), `"`), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				fraud = v == 1
				continue
			}
			if i == amountIdx && opts.LogAmount {
				v = math.Log1p(v)
			}
			features = append(features, v)
		}

		if opts.Scaler != nil {
			if err := opts.Scaler.apply(features); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}

		rows = append(rows, row{Line: line, Features: features, Fraud: fraud})

		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}

	return rows, nil
}
