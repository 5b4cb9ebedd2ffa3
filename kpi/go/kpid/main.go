// Command kpid is the job controller's binary entrypoint: it loads a
// payload configuration, opens the CockroachDB pool, and drives
// controller.Run until the configured keep-alive elapses. Host
// programs that need actual schedule/stage business logic embed
// kpi/go/payload, kpi/go/controller, and kpi/go/config as libraries and
// populate payload.Payload.Stages themselves; this binary runs a
// payload whose stages are whatever its config/caller supplied,
// following goldmine's cmd-style mains of wiring a config file and a
// pool and calling into a driving package.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"go.kpiflow.build/go/sklog"
	"go.kpiflow.build/kpi/go/config"
	"go.kpiflow.build/kpi/go/controller"
	"go.kpiflow.build/kpi/go/payload"
)

var (
	configFilename string
	useYAML        bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "kpid",
		Short: "Runs the KPI job controller for one payload configuration.",
		RunE:  run,
	}
	cmd.Flags().StringVar(&configFilename, "config", "", "Path to the payload configuration file (required).")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Parse --config as YAML instead of JSON.")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configFilename == "" {
		return fmt.Errorf("the --config flag is required")
	}

	cfg, err := loadConfig(configFilename, useYAML)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.Connect(ctx, cfg.ConnectionString)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Schema, err)
	}
	defer pool.Close()

	p := &payload.Payload{
		Name:                  cfg.Name,
		DB:                    pool,
		Schema:                cfg.Schema,
		Context:               ctx,
		Schedules:             cfg.SchedulesMap(),
		Granularities:         cfg.GranularitiesMap(),
		DataItems:             cfg.DataItemsMap(),
		IsScheduleProgressive: cfg.IsScheduleProgressive,
		ChunkSize:             time.Duration(cfg.ChunkSize),
	}

	c, err := controller.New(ctx, p)
	if err != nil {
		return fmt.Errorf("building controller for %s: %w", cfg.Name, err)
	}

	sklog.Infof("Starting %s for a keep-alive window of %s.", cfg.Name, cfg.KeepAlive)
	return c.Run(ctx, time.Duration(cfg.KeepAlive))
}

func loadConfig(path string, yaml bool) (*config.PayloadConfig, error) {
	if yaml {
		return config.LoadYAML(path)
	}
	return config.LoadJSON(path)
}
