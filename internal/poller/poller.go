// Package poller runs the authenticated scrape loop: poll the modem,
// parse the status payloads, and hand records to the delivery queue.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cfraser/docsink/internal/hnap"
	"github.com/cfraser/docsink/internal/logging"
	"github.com/cfraser/docsink/internal/metrics"
	"github.com/cfraser/docsink/internal/queue"
	"github.com/cfraser/docsink/internal/telemetry"
)

// ModemClient is the slice of the HNAP client the poller needs.
type ModemClient interface {
	Login(ctx context.Context) error
	Status(ctx context.Context) (*hnap.Status, error)
}

// Config carries the poller's fixed parameters.
type Config struct {
	// Interval is the sleep between cycles, applied after every cycle
	// whether it succeeded or not.
	Interval time.Duration
	// ModemName labels the records; the model column stays constant.
	ModemName string
	// Statement is the insert each record is enqueued under.
	Statement string
}

// Poller owns the modem session. Nothing else logs in or reads it.
type Poller struct {
	modem   ModemClient
	queue   *queue.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config
}

// New builds a poller. Run starts it.
func New(modem ModemClient, q *queue.Queue, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Poller {
	return &Poller{
		modem:   modem,
		queue:   q,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run logs in and polls until ctx is cancelled. A failed initial login
// is fatal and returned; every later failure only skips its own cycle.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.modem.Login(ctx); err != nil {
		return fmt.Errorf("initial login: %w", err)
	}
	p.logger.Info("poller started",
		logging.Component("poller"),
		logging.Modem(p.cfg.ModemName),
		zap.Duration("interval", p.cfg.Interval))

	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped", logging.Component("poller"))
			return nil
		case <-time.After(p.cfg.Interval):
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	start := time.Now()

	status, err := p.modem.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, hnap.ErrSessionExpired) {
			p.reauthenticate(ctx)
			return
		}
		p.metrics.ScrapeCycles.WithLabelValues("error").Inc()
		p.logger.Error("status scrape failed", logging.Component("poller"), zap.Error(err))
		return
	}

	latency := time.Since(start)

	record, err := p.buildRecord(status, latency)
	if err != nil {
		p.metrics.ScrapeCycles.WithLabelValues("error").Inc()
		p.logger.Error("malformed status payload", logging.Component("poller"), zap.Error(err))
		return
	}

	p.metrics.ScrapeLatency.Observe(latency.Seconds())
	p.logger.Info("scrape complete",
		logging.Component("poller"),
		logging.Latency(latency),
		logging.Downstream(len(record.Downstream)),
		logging.Upstream(len(record.Upstream)),
		logging.QueueLen(p.queue.Len()))

	// Blocks when the queue is full; backpressure is intentional.
	if err := p.queue.Enqueue(ctx, queue.Batch{
		Statement: p.cfg.Statement,
		Rows:      [][]any{record.Row()},
	}); err != nil {
		return
	}
	p.metrics.ScrapeCycles.WithLabelValues("success").Inc()
}

// reauthenticate runs exactly one login attempt; the next poll happens
// after the regular interval either way.
func (p *Poller) reauthenticate(ctx context.Context) {
	p.metrics.Reauthentications.Inc()
	p.metrics.ScrapeCycles.WithLabelValues("reauth").Inc()
	p.logger.Warn("session expired, logging in again", logging.Component("poller"))

	if err := p.modem.Login(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("reauthentication failed", logging.Component("poller"), zap.Error(err))
	}
}

func (p *Poller) buildRecord(status *hnap.Status, latency time.Duration) (*telemetry.StatusRecord, error) {
	downstream, err := telemetry.ParseDownstream(status.DownstreamChannels)
	if err != nil {
		return nil, err
	}
	upstream, err := telemetry.ParseUpstream(status.UpstreamChannels)
	if err != nil {
		return nil, err
	}
	uptime, err := telemetry.ParseUptime(status.SystemUpTime)
	if err != nil {
		return nil, err
	}

	return &telemetry.StatusRecord{
		ModemName:            p.cfg.ModemName,
		ConfigFilename:       status.ConfigFilename,
		UptimeSeconds:        uptime,
		SoftwareVersion:      status.SoftwareVersion,
		ModemModel:           telemetry.ModemModel,
		Downstream:           downstream,
		Upstream:             upstream,
		ScrapeLatencySeconds: latency.Seconds(),
		TimestampUTC:         float64(time.Now().UTC().UnixNano()) / 1e9,
	}, nil
}
