package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/treewalk/config"
	"github.com/pthm-cable/treewalk/driver"
	"github.com/pthm-cable/treewalk/telemetry"
)

var runFlags struct {
	seed        int64
	generations int
	outputDir   string
	logStats    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run traversal generations and report their statistics",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.Int64Var(&runFlags.seed, "seed", 0, "RNG seed (0 = world.seed, then time-based)")
	f.IntVar(&runFlags.generations, "generations", 1, "Number of traversal generations")
	f.StringVar(&runFlags.outputDir, "output-dir", "", "Output directory for CSV logs and config snapshot (empty = telemetry.output_dir)")
	f.BoolVar(&runFlags.logStats, "log-stats", false, "Log every walk summary")
}

func runRun(cmd *cobra.Command, _ []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	if err := config.Init(rootFlags.configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.Cfg()

	seed := runFlags.seed
	if seed == 0 {
		seed = cfg.World.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	outputDir := runFlags.outputDir
	if outputDir == "" {
		outputDir = cfg.Telemetry.OutputDir
	}
	om, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	d := driver.New(cfg, driver.Options{
		Seed:     seed,
		LogStats: runFlags.logStats,
		Output:   om,
	})
	defer d.Close()

	slog.Info("starting run",
		"seed", seed,
		"generations", runFlags.generations,
		"output_dir", om.Dir(),
	)

	start := time.Now()
	results, err := d.Run(ctx, runFlags.generations)
	if err != nil {
		return err
	}

	var total telemetry.WalkSummary
	for _, r := range results {
		total.Add(r.Total)
	}
	total.Walk = "run"
	total.SetDuration(time.Since(start))
	slog.Info("run complete",
		"generations", d.Generations(),
		"interactions", total.Interactions(),
		"summary", total,
	)
	return nil
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rootFlags.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", rootFlags.logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}
