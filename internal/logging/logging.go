// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "docsink"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("LOG_LEVEL", "info"),
		Format: getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Action returns a zap field for an HNAP action name.
func Action(action string) zap.Field { return zap.String("action", action) }

// Modem returns a zap field for the modem name.
func Modem(name string) zap.Field { return zap.String("modem", name) }

// Table returns a zap field for the sink table name.
func Table(table string) zap.Field { return zap.String("table", table) }

// Latency returns a zap field for a scrape latency measured in seconds.
func Latency(d time.Duration) zap.Field { return zap.Float64("latency_seconds", d.Seconds()) }

// QueueLen returns a zap field for the delivery queue length.
func QueueLen(n int) zap.Field { return zap.Int("queue_len", n) }

// Downstream returns a zap field for a downstream channel count.
func Downstream(n int) zap.Field { return zap.Int("downstream_channels", n) }

// Upstream returns a zap field for an upstream channel count.
func Upstream(n int) zap.Field { return zap.Int("upstream_channels", n) }
