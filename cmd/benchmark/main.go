// Benchmark replays a labelled transaction dataset against a running Harrier
// server and reports decisions per label and their cost.
//
// Usage:
//
//	benchmark --csv /path/to/creditcard.csv --url http://localhost:8080
//
// Every CSV column except the label column is sent as a feature, in header
// order. Amount is log1p-transformed unless --log-amount=false, and an
// optional scaler file standardizes each feature before it is sent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

var (
	version = "dev"
	commit  = ""
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func main() {
	initLogging(false)

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func initLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "benchmark",
		Usage:   "Replay a labelled dataset against POST /predict",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "csv",
				Usage:    "Path to the labelled CSV file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Harrier base URL",
				Value: "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:  "label",
				Usage: "Name of the label column (1 = fraud)",
				Value: "Class",
			},
			&cli.BoolFlag{
				Name:  "log-amount",
				Usage: "Apply log1p to the Amount column",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "scaler",
				Usage: "Optional JSON or YAML file with per-feature mean and scale",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum rows to replay (0 = all)",
				Value: 10000,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of concurrent workers",
				Value: 10,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-request timeout",
				Value: 10 * time.Second,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Report format [table, json, yaml]",
				Value: formatTable,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Print each result",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Prints verbose logs",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		initLogging(true)
	}

	format := cmd.String("format")
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unsupported format %q", format)
	}

	opts := datasetOptions{
		LabelColumn: cmd.String("label"),
		LogAmount:   cmd.Bool("log-amount"),
		Limit:       int(cmd.Int("limit")),
	}
	if path := cmd.String("scaler"); path != "" {
		sc, err := loadScaler(path)
		if err != nil {
			return err
		}
		opts.Scaler = sc
	}

	client := newClient(cmd.String("url"), cmd.Duration("timeout"))

	health, err := client.health(ctx)
	if err != nil {
		return fmt.Errorf("harrier not reachable at %s: %w", cmd.String("url"), err)
	}
	slog.Info("harrier is healthy", "model", health.Model, "status", health.Status)

	policy, err := client.config(ctx)
	if err != nil {
		return fmt.Errorf("failed to read decision policy: %w", err)
	}

	rows, err := readDataset(cmd.String("csv"), opts)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("dataset %s has no rows", cmd.String("csv"))
	}
	if policy.NumFeatures > 0 && len(rows[0].Features) != policy.NumFeatures {
		slog.Warn("dataset width differs from model",
			"dataset_features", len(rows[0].Features),
			"model_features", policy.NumFeatures,
		)
	}
	slog.Info("dataset loaded", "rows", len(rows))

	workers := int(cmd.Int("workers"))
	start := time.Now()
	tally := replay(ctx, client, rows, workers, cmd.Bool("verbose"))
	report := tally.report(policy.Costs, time.Since(start))

	return writeReport(os.Stdout, report, format)
}
