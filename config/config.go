package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/pkg/tlsutil"
)

// Broker kinds.
const (
	BrokerAMQP = "amqp"
	BrokerNATS = "nats"
)

// Spool overflow policies.
const (
	SpoolDropOldest = "drop_oldest"
	SpoolDropNewest = "drop_newest"
)

// Config is the complete ingester configuration. It is not modified after Load.
type Config struct {
	Firehose FirehoseConfig `json:"firehose"`
	Broker   BrokerConfig   `json:"broker"`
	Profile  ProfileConfig  `json:"profile"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      LogConfig      `json:"log"`
}

// FirehoseConfig selects the relay and the reconnect behaviour.
type FirehoseConfig struct {
	URL            string        `json:"url"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty"`
	CursorFlush    time.Duration `json:"cursor_flush"`
	PersistCursor  bool          `json:"persist_cursor"`
	CursorBucket   string        `json:"cursor_bucket,omitempty"`
}

// BrokerConfig describes where operations are published.
type BrokerConfig struct {
	Kind      string `json:"kind"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Vhost     string `json:"vhost"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Exchange  string `json:"exchange"`
	NATSURL   string `json:"nats_url,omitempty"`
	SpoolSize int    `json:"spool_size"`
	// SpoolOverflow is "drop_oldest" or "drop_newest".
	SpoolOverflow string `json:"spool_overflow"`
	// TLS applies to whichever broker connection is opened, NATS included.
	TLS tlsutil.ClientConfig `json:"tls"`
}

// ProfileConfig sizes the profile cache and points it at an AppView.
type ProfileConfig struct {
	ServiceURL string        `json:"service_url"`
	CacheMax   int           `json:"cache_max"`
	CacheTTL   time.Duration `json:"cache_ttl"`
	GroupSize  int           `json:"group_size"`
	RateLimit  float64       `json:"rate_limit"`
}

// MetricsConfig controls the /metrics and /health server. Port 0 disables it.
type MetricsConfig struct {
	Port               int           `json:"port"`
	Path               string        `json:"path"`
	ThroughputInterval time.Duration `json:"throughput_interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Firehose: FirehoseConfig{
			URL:            "wss://bsky.network",
			ReconnectDelay: 5 * time.Second,
			ReadTimeout:    60 * time.Second,
			CursorFlush:    time.Second,
			CursorBucket:   "skystream_cursor",
		},
		Broker: BrokerConfig{
			Kind:          BrokerAMQP,
			Host:          "localhost",
			Port:          5672,
			Vhost:         "/",
			Exchange:      "firehose",
			NATSURL:       "nats://localhost:4222",
			SpoolSize:     10000,
			SpoolOverflow: SpoolDropOldest,
		},
		Profile: ProfileConfig{
			ServiceURL: "https://public.api.bsky.app",
			CacheMax:   1000,
			CacheTTL:   time.Hour,
			GroupSize:  100,
			RateLimit:  10,
		},
		Metrics: MetricsConfig{
			Port:               9090,
			Path:               "/metrics",
			ThroughputInterval: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if u, err := url.Parse(c.Firehose.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		add("firehose.url must be a ws:// or wss:// URL, got %q", c.Firehose.URL)
	}
	if c.Firehose.ReconnectDelay <= 0 {
		add("firehose.reconnect_delay must be positive")
	}
	if c.Firehose.ReadTimeout <= 0 {
		add("firehose.read_timeout must be positive")
	}
	if c.Firehose.PersistCursor && c.Broker.NATSURL == "" {
		add("firehose.persist_cursor requires broker.nats_url")
	}

	switch c.Broker.Kind {
	case BrokerAMQP:
		if c.Broker.Host == "" {
			add("broker.host is required")
		}
		if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
			add("broker.port %d out of range", c.Broker.Port)
		}
		if c.Broker.Username == "" || c.Broker.Password == "" {
			add("broker.username and broker.password are required for amqp")
		}
	case BrokerNATS:
		if c.Broker.NATSURL == "" {
			add("broker.nats_url is required for nats")
		}
	default:
		add("broker.kind must be %q or %q, got %q", BrokerAMQP, BrokerNATS, c.Broker.Kind)
	}
	if c.Broker.Exchange == "" {
		add("broker.exchange is required")
	}
	if c.Broker.SpoolOverflow != SpoolDropOldest && c.Broker.SpoolOverflow != SpoolDropNewest {
		add("broker.spool_overflow must be %q or %q, got %q", SpoolDropOldest, SpoolDropNewest, c.Broker.SpoolOverflow)
	}
	if err := c.Broker.TLS.Validate(); err != nil {
		add("broker.tls: %v", err)
	}

	if c.Profile.CacheMax <= 0 {
		add("profile.cache_max must be positive")
	}
	if c.Profile.CacheTTL < 0 {
		add("profile.cache_ttl cannot be negative")
	}
	if c.Profile.GroupSize < 1 || c.Profile.GroupSize > 100 {
		add("profile.group_size must be between 1 and 100")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Port > 0 && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with /")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "check values")
	}
	return nil
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Broker.Password != "" {
		masked.Broker.Password = "****"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}
