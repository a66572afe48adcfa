// Package metrics exposes operational counters for the poller and sink
// writer over a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const namespace = "docsink"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	ScrapeCycles      *prometheus.CounterVec
	ScrapeLatency     prometheus.Histogram
	Reauthentications prometheus.Counter
	InsertedBatches   prometheus.Counter
	InsertFailures    prometheus.Counter

	registry *prometheus.Registry
}

// New builds and registers all collectors on a fresh registry. queueLen
// feeds the queue length gauge on collection.
func New(queueLen func() int) *Metrics {
	m := &Metrics{
		ScrapeCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_cycles_total",
			Help:      "Scrape cycles by outcome.",
		}, []string{"result"}),
		ScrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_latency_seconds",
			Help:      "Wall-clock latency of the combined modem status call.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Reauthentications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reauthentications_total",
			Help:      "HNAP logins triggered by session expiry.",
		}),
		InsertedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserted_batches_total",
			Help:      "Batches successfully written to ClickHouse.",
		}),
		InsertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insert_failures_total",
			Help:      "Batches dropped after a failed ClickHouse insert.",
		}),
		registry: prometheus.NewRegistry(),
	}

	queueGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Batches currently buffered in the delivery queue.",
	}, func() float64 { return float64(queueLen()) })

	m.registry.MustRegister(
		m.ScrapeCycles,
		m.ScrapeLatency,
		m.Reauthentications,
		m.InsertedBatches,
		m.InsertFailures,
		queueGauge,
	)

	return m
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ErrorLog:          errLog,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		return nil
	}
}
