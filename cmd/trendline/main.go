package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/oakmont-labs/trendline/internal/config"
	"github.com/oakmont-labs/trendline/internal/engine"
	"github.com/oakmont-labs/trendline/internal/logger"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// runAction loads the configuration, replays the configured bar files and
// exports the journal to the result folder.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if folder := cmd.String("results"); folder != "" {
		cfg.Engine.ResultFolder = folder
	}

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	eng, err := engine.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer eng.Journal().Close()

	result, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if cfg.Engine.ResultFolder != "" {
		if err := eng.Journal().Write(cfg.Engine.ResultFolder); err != nil {
			return fmt.Errorf("failed to export journal: %w", err)
		}
	}

	log.Info("backtest finished",
		zap.Float64("initial_capital", result.InitialCapital),
		zap.Float64("final_equity", result.FinalEquity),
		zap.Float64("realized_pnl", result.RealizedPnL),
		zap.Int("fills", result.FillCount),
		zap.Int("rejections", result.RejectionCount),
	)

	return nil
}

// schemaAction prints the JSON schema for the run configuration.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "trendline",
		Usage: "Trend-following equity backtest engine",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Replay a backtest from a YAML config",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the YAML run configuration",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "results",
						Aliases: []string{"r"},
						Usage:   "Override the result folder for parquet exports",
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema for the run configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
