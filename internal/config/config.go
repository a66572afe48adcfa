// Package config loads and validates the docsink configuration.
//
// Every value can come from an optional YAML file, but environment
// variables always win so the binary drops into a container without a
// config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPollInterval is the lowest accepted modem poll interval.
	MinPollInterval = 1 * time.Second
	// MinQueueCapacity is the lowest accepted delivery queue capacity.
	MinQueueCapacity = 25
)

// Config is the full runtime configuration.
type Config struct {
	Modem      ModemConfig      `yaml:"modem"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// PollIntervalSeconds is the YAML-facing poll interval, in whole
	// seconds like the SCRAPE_DELAY variable it mirrors.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// QueueCapacity bounds the in-memory delivery queue.
	QueueCapacity int `yaml:"queue_capacity"`

	// PollInterval is derived from PollIntervalSeconds or SCRAPE_DELAY.
	PollInterval time.Duration `yaml:"-"`
}

// ModemConfig describes the modem's HNAP endpoint and credentials.
type ModemConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ClickHouseConfig describes the ClickHouse sink.
type ClickHouseConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// MetricsConfig describes the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Load reads the optional YAML file at path, overlays environment
// variables, applies defaults and validates the result. An empty path
// means environment-only configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Modem.Name, "MODEM_NAME")
	setString(&c.Modem.URL, "MODEM_URL")
	setString(&c.Modem.Username, "MODEM_USERNAME")
	setString(&c.Modem.Password, "MODEM_PASSWORD")

	setString(&c.ClickHouse.URL, "CLICKHOUSE_URL")
	setString(&c.ClickHouse.Username, "CLICKHOUSE_USERNAME")
	setString(&c.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	setString(&c.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	setString(&c.ClickHouse.Table, "CLICKHOUSE_TABLE")

	setString(&c.Metrics.Addr, "METRICS_ADDR")

	if v := os.Getenv("SCRAPE_DELAY"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 1 {
			return fmt.Errorf("invalid SCRAPE_DELAY %q: must be a number >= 1", v)
		}
		c.PollInterval = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv("CLICKHOUSE_QUEUE_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < MinQueueCapacity {
			return fmt.Errorf("invalid CLICKHOUSE_QUEUE_LIMIT %q: must be a number >= %d", v, MinQueueCapacity)
		}
		c.QueueCapacity = limit
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Modem.Name == "" {
		c.Modem.Name = "MB8600"
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "docsis"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1000
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Modem.URL == "" {
		return fmt.Errorf("modem.url is required (MODEM_URL)")
	}
	if c.Modem.Username == "" {
		return fmt.Errorf("modem.username is required (MODEM_USERNAME)")
	}
	if c.Modem.Password == "" {
		return fmt.Errorf("modem.password is required (MODEM_PASSWORD)")
	}
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("clickhouse.url is required (CLICKHOUSE_URL)")
	}
	if c.ClickHouse.Username == "" {
		return fmt.Errorf("clickhouse.username is required (CLICKHOUSE_USERNAME)")
	}
	if c.ClickHouse.Password == "" {
		return fmt.Errorf("clickhouse.password is required (CLICKHOUSE_PASSWORD)")
	}
	if c.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse.database is required (CLICKHOUSE_DATABASE)")
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", MinPollInterval, c.PollInterval)
	}
	if c.QueueCapacity < MinQueueCapacity {
		return fmt.Errorf("queue_capacity must be at least %d, got %d", MinQueueCapacity, c.QueueCapacity)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
