// Package sink writes status records to ClickHouse and runs the delivery
// loop draining the queue.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/cfraser/docsink/internal/config"
	"github.com/cfraser/docsink/internal/logging"
	"github.com/cfraser/docsink/internal/metrics"
	"github.com/cfraser/docsink/internal/queue"
)

// retryDelay is how long the writer pauses after a failed insert before
// draining the next batch. The failed batch itself is not retried.
const retryDelay = 5 * time.Second

// Columns of the target table, in insert order.
var columns = []string{
	"modem_name",
	"modem_config_filename",
	"modem_uptime",
	"modem_version",
	"modem_model",
	"downstream_channels",
	"upstream_channels",
	"scrape_latency",
	"timestamp",
}

// Open connects to ClickHouse using the native protocol driver.
func Open(cfg config.ClickHouseConfig) (*sql.DB, error) {
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse url: %w", err)
	}
	opts.Auth = clickhouse.Auth{
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	return clickhouse.OpenDB(opts), nil
}

// InsertStatement builds the parameterized insert for the target table.
func InsertStatement(table string) string {
	stmt := "INSERT INTO " + table + " ("
	for i, col := range columns {
		if i > 0 {
			stmt += ", "
		}
		stmt += col
	}
	stmt += ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	return stmt
}

// Writer drains the delivery queue into ClickHouse, one batch at a time.
type Writer struct {
	db      *sql.DB
	queue   *queue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	delay   time.Duration
}

// NewWriter builds the sink writer. It does not start draining; call Run.
func NewWriter(db *sql.DB, q *queue.Queue, m *metrics.Metrics, logger *zap.Logger) *Writer {
	return &Writer{
		db:      db,
		queue:   q,
		metrics: m,
		logger:  logger,
		delay:   retryDelay,
	}
}

// Run drains batches until ctx is cancelled. A failed insert is logged,
// counted, and dropped; the loop pauses before the next dequeue so a
// down database is not hammered.
func (w *Writer) Run(ctx context.Context) {
	w.logger.Info("sink writer started", logging.Component("sink"))
	for {
		batch, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.Info("sink writer stopped", logging.Component("sink"))
			return
		}

		if err := w.insert(ctx, batch); err != nil {
			w.metrics.InsertFailures.Inc()
			w.logger.Error("insert failed, dropping batch",
				logging.Component("sink"),
				logging.QueueLen(w.queue.Len()),
				zap.Error(err))
			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				w.logger.Info("sink writer stopped", logging.Component("sink"))
				return
			}
			continue
		}

		w.metrics.InsertedBatches.Inc()
		w.logger.Debug("batch inserted",
			logging.Component("sink"),
			zap.Int("rows", len(batch.Rows)),
			logging.QueueLen(w.queue.Len()))
	}
}

func (w *Writer) insert(ctx context.Context, b queue.Batch) error {
	for _, row := range b.Rows {
		if _, err := w.db.ExecContext(ctx, b.Statement, row...); err != nil {
			return err
		}
	}
	return nil
}
