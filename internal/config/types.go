package config

import "time"

// Config is the single validated configuration structure for remindd.
// It is built once at startup; unknown fields are rejected so typos and
// removed keys are caught early. All durations are Go duration strings
// (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Channel  ChannelConfig  `json:"channel"`
	Engine   EngineConfig   `json:"engine"`
	Search   SearchConfig   `json:"search,omitempty"`
	Calendar CalendarConfig `json:"calendar,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (dev/tests; nothing survives a restart)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ChannelConfig controls the outbound delivery channel.
//
// Driver values:
//   - "telegram": deliver via Telegram bot API (token required)
//   - "mock": log instead of sending (dev/tests)
type ChannelConfig struct {
	Driver      string `json:"driver"`
	Token       string `json:"token,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// EngineConfig controls the admission engine and its cycle driver.
//
// Defaults (when fields are omitted/zero):
//   - cycle_interval: "5m"
//   - dedup_window: "6h"
//   - workers: 8
//   - default_max_per_day: 5
type EngineConfig struct {
	CycleInterval    string `json:"cycle_interval,omitempty"`
	DedupWindow      string `json:"dedup_window,omitempty"`
	Workers          int    `json:"workers,omitempty"`
	DefaultMaxPerDay int    `json:"default_max_per_day,omitempty"`
}

// SearchConfig controls the polled external-discovery source.
type SearchConfig struct {
	Enabled    bool   `json:"enabled"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// CalendarConfig controls the stub calendar source.
type CalendarConfig struct {
	Enabled     bool `json:"enabled"`
	LeadMinutes int  `json:"default_lead_minutes,omitempty"`
}

const (
	DefaultCycleInterval = 5 * time.Minute
	DefaultDedupWindow   = 6 * time.Hour
	DefaultWorkers       = 8
	DefaultMaxPerDay     = 5
	DefaultSendTimeout   = 10 * time.Second
	DefaultLeadMinutes   = 15
)
