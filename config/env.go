package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/skystream/errors"
)

// envBinding maps one setting to its environment variables. The prefixed name is
// tried first, then the legacy names.
type envBinding struct {
	key    string   // suffix after the prefix, e.g. BROKER_HOST
	legacy []string // unprefixed names
	apply  func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"FIREHOSE_URL", []string{"BSKY_FIREHOSE_URL"}, setString(func(c *Config) *string { return &c.Firehose.URL })},
	{"FIREHOSE_RECONNECT_DELAY", nil, setDuration(func(c *Config) *int64 { return (*int64)(&c.Firehose.ReconnectDelay) })},
	{"FIREHOSE_READ_TIMEOUT", nil, setDuration(func(c *Config) *int64 { return (*int64)(&c.Firehose.ReadTimeout) })},
	{"FIREHOSE_CURSOR_FLUSH", nil, setDuration(func(c *Config) *int64 { return (*int64)(&c.Firehose.CursorFlush) })},
	{"FIREHOSE_PERSIST_CURSOR", nil, setBool(func(c *Config) *bool { return &c.Firehose.PersistCursor })},
	{"FIREHOSE_CURSOR_BUCKET", nil, setString(func(c *Config) *string { return &c.Firehose.CursorBucket })},

	{"BROKER_KIND", nil, setString(func(c *Config) *string { return &c.Broker.Kind })},
	{"BROKER_HOST", []string{"RABBIT_HOST"}, setString(func(c *Config) *string { return &c.Broker.Host })},
	{"BROKER_PORT", []string{"RABBIT_PORT"}, setInt(func(c *Config) *int { return &c.Broker.Port })},
	{"BROKER_VHOST", []string{"RABBIT_VHOST"}, setString(func(c *Config) *string { return &c.Broker.Vhost })},
	{"BROKER_USERNAME", []string{"RABBIT_USER"}, setString(func(c *Config) *string { return &c.Broker.Username })},
	{"BROKER_PASSWORD", []string{"RABBIT_PASS"}, setString(func(c *Config) *string { return &c.Broker.Password })},
	{"BROKER_EXCHANGE", []string{"RABBIT_FIREHOSE_EXCHANGE"}, setString(func(c *Config) *string { return &c.Broker.Exchange })},
	{"BROKER_NATS_URL", nil, setString(func(c *Config) *string { return &c.Broker.NATSURL })},
	{"BROKER_SPOOL_SIZE", nil, setInt(func(c *Config) *int { return &c.Broker.SpoolSize })},
	{"BROKER_SPOOL_OVERFLOW", nil, setString(func(c *Config) *string { return &c.Broker.SpoolOverflow })},

	{"PROFILE_SERVICE_URL", []string{"BSKY_SERVICE_URL"}, setString(func(c *Config) *string { return &c.Profile.ServiceURL })},
	{"PROFILE_CACHE_MAX", []string{"PROFILE_CACHE_MAX"}, setInt(func(c *Config) *int { return &c.Profile.CacheMax })},
	{"PROFILE_CACHE_TTL", []string{"PROFILE_CACHE_TTL"}, setDuration(func(c *Config) *int64 { return (*int64)(&c.Profile.CacheTTL) })},
	{"PROFILE_GROUP_SIZE", nil, setInt(func(c *Config) *int { return &c.Profile.GroupSize })},
	{"PROFILE_RATE_LIMIT", nil, setFloat(func(c *Config) *float64 { return &c.Profile.RateLimit })},

	{"METRICS_PORT", nil, setInt(func(c *Config) *int { return &c.Metrics.Port })},
	{"METRICS_PATH", nil, setString(func(c *Config) *string { return &c.Metrics.Path })},
	{"METRICS_THROUGHPUT_INTERVAL", nil, setDuration(func(c *Config) *int64 { return (*int64)(&c.Metrics.ThroughputInterval) })},

	{"LOG_LEVEL", []string{"LOG_LEVEL"}, setString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", nil, setString(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnvOverrides applies every bound variable found by lookup.
func (l *Loader) applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		names := append([]string{l.envPrefix + "_" + b.key}, b.legacy...)
		for _, name := range names {
			value, ok := lookup(name)
			if !ok || value == "" {
				continue
			}
			if err := validateEnvVar(name, value); err != nil {
				return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", name)
			}
			if err := b.apply(cfg, value); err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %s=%q: %v", errors.ErrInvalidConfig, name, value, err),
					"Loader", "applyEnvOverrides", name)
			}
			break
		}
	}
	return nil
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setFloat(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = int64(d)
		return nil
	}
}
