package types

import "time"

// Config holds all configuration options for the application
type Config struct {
	// Query Service connection
	ServiceURL     string        `json:"service_url" yaml:"service_url"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Local API for the dashboard front-end
	HTTPPort int `json:"http_port" yaml:"http_port"`

	// Durable filter state
	StateDriver string `json:"state_driver" yaml:"state_driver"`
	StatePath   string `json:"state_path" yaml:"state_path"`

	// Paging and export
	DefaultLimit  int    `json:"default_limit" yaml:"default_limit"`
	ExportCeiling int    `json:"export_ceiling" yaml:"export_ceiling"`
	ExportDir     string `json:"export_dir" yaml:"export_dir"`

	// Explicit timezone for queries; empty uses the persisted or detected one
	Timezone string `json:"timezone" yaml:"timezone"`

	// Connection-status indicator
	StatusInterval time.Duration `json:"status_interval" yaml:"status_interval"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// State drivers understood by storage.Open
const (
	StateDriverSQLite = "sqlite"
	StateDriverBadger = "badger"
	StateDriverMemory = "memory"
)
