package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/c360/skystream/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "SKYSTREAM"

// durationKeys are the section.key paths holding durations.
var durationKeys = map[string][]string{
	"firehose": {"reconnect_delay", "read_timeout", "cursor_flush"},
	"profile":  {"cache_ttl"},
	"metrics":  {"throughput_interval"},
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers     []string
	envFile    string
	validation bool
	envPrefix  string
	lookup     func(string) (string, bool)
}

// NewLoader creates a loader that reads the process environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookup:    os.LookupEnv,
	}
}

// AddLayer adds a JSON file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// SetEnvFile reads variables from a .env file. A missing file is not an error.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// SetLookup replaces os.LookupEnv.
func (l *Loader) SetLookup(lookup func(string) (string, bool)) {
	if lookup != nil {
		l.lookup = lookup
	}
}

// EnableValidation runs Config.Validate at the end of Load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load builds the configuration from all layers.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	lookup := l.lookup
	if l.envFile != "" {
		dotenv, err := readEnvFile(l.envFile)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read env file")
		}
		lookup = func(key string) (string, bool) {
			if v, ok := l.lookup(key); ok {
				return v, true
			}
			v, ok := dotenv[key]
			return v, ok
		}
	}

	if err := l.applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return godotenv.Read(path)
}

// loadRawJSON loads a JSON file as a map with durations converted to nanoseconds.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations replaces duration strings and millisecond counts with nanoseconds so
// the map unmarshals into time.Duration fields.
func parseDurations(raw map[string]any) error {
	for section, keys := range durationKeys {
		m, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			v, ok := m[key]
			if !ok || v == nil {
				continue
			}
			var d time.Duration
			switch val := v.(type) {
			case string:
				parsed, err := parseDuration(val)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", section, key, err)
				}
				d = parsed
			case float64:
				d = time.Duration(val * float64(time.Millisecond))
			default:
				return fmt.Errorf("%s.%s: expected duration, got %T", section, key, v)
			}
			m[key] = int64(d)
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare millisecond counts.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	merged := &Config{}
	if err := json.Unmarshal(mergedJSON, merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
