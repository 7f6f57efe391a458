package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	logx "remindd/pkg/logx"
)

// Load reads, decodes and validates the config file at path.
// Validation is fail-fast: a config that would leave the daemon unable to
// deliver (e.g. telegram driver without a token) refuses to start.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config bytes (JSON or YAML, by extension) strictly:
// unknown fields and trailing data are errors.
func Parse(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated fields and required credentials.
func (c *Config) Validate() error {
	if !logx.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Channel.Driver)) {
	case "", "telegram":
		if strings.TrimSpace(c.Channel.Token) == "" {
			return fmt.Errorf("channel.token is required for telegram driver")
		}
	case "mock":
	default:
		return fmt.Errorf("channel.driver: unknown driver %q", c.Channel.Driver)
	}
	if c.Channel.RatePerSec < 0 {
		return fmt.Errorf("channel.rate_per_sec must be >= 0")
	}
	if _, err := ParseDurationField("channel.send_timeout", c.Channel.SendTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("engine.cycle_interval", c.Engine.CycleInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.dedup_window", c.Engine.DedupWindow); err != nil {
		return err
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if c.Engine.DefaultMaxPerDay < 0 {
		return fmt.Errorf("engine.default_max_per_day must be >= 0")
	}

	if c.Search.Enabled {
		if strings.TrimSpace(c.Search.APIKey) == "" {
			return fmt.Errorf("search.api_key is required when search is enabled")
		}
		if _, err := ParseDurationField("search.timeout", c.Search.Timeout); err != nil {
			return err
		}
	}

	if c.Calendar.LeadMinutes < 0 {
		return fmt.Errorf("calendar.default_lead_minutes must be >= 0")
	}
	return nil
}
