package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cfraser/docsink/internal/config"
	"github.com/cfraser/docsink/internal/hnap"
	"github.com/cfraser/docsink/internal/logging"
	"github.com/cfraser/docsink/internal/metrics"
	"github.com/cfraser/docsink/internal/poller"
	"github.com/cfraser/docsink/internal/queue"
	"github.com/cfraser/docsink/internal/sink"
)

var runFlags struct {
	configPath string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the polling pipeline",
	Long: `Start the authenticated polling pipeline: log in to the modem, scrape
status telemetry on the configured interval, and deliver records to
ClickHouse through the bounded in-memory queue.

Configuration comes from environment variables (MODEM_URL, MODEM_USERNAME,
MODEM_PASSWORD, CLICKHOUSE_URL, CLICKHOUSE_USERNAME, CLICKHOUSE_PASSWORD,
CLICKHOUSE_DATABASE, ...) with an optional YAML file underneath.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runFlags.configPath, "config", getEnv("DOCSINK_CONFIG", ""), "path to optional YAML config file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runFlags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sink.Open(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	defer db.Close()

	q := queue.New(cfg.QueueCapacity)
	m := metrics.New(q.Len)

	modem := hnap.NewClient(cfg.Modem.URL, cfg.Modem.Username, cfg.Modem.Password, logger.Named("hnap"))
	writer := sink.NewWriter(db, q, m, logger.Named("sink"))
	p := poller.New(modem, q, m, logger.Named("poller"), poller.Config{
		Interval:  cfg.PollInterval,
		ModemName: cfg.Modem.Name,
		Statement: sink.InsertStatement(cfg.ClickHouse.Table),
	})

	logger.Info("starting docsink",
		logging.Modem(cfg.Modem.Name),
		logging.Table(cfg.ClickHouse.Table),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("queue_capacity", cfg.QueueCapacity))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	if cfg.Metrics.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger.Named("metrics")); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// The poller runs on this goroutine so a fatal initial login turns
	// into the process exit status.
	runErr := p.Run(ctx)

	stop()
	wg.Wait()
	logger.Info("shut down")

	return runErr
}
