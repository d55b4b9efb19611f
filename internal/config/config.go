// Package config loads the application configuration from defaults, an optional
// YAML file, command-line flags and RECORDSCOPE_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"recordscope/internal/preset"
	"recordscope/internal/types"
)

// EnvPrefix prefixes every environment variable read by the loader
const EnvPrefix = "RECORDSCOPE_"

// Flag names
const (
	FlagConfig         = "config"
	FlagServiceURL     = "service-url"
	FlagRequestTimeout = "request-timeout"
	FlagHTTPPort       = "http-port"
	FlagStateDriver    = "state-driver"
	FlagStatePath      = "state-path"
	FlagDefaultLimit   = "default-limit"
	FlagExportCeiling  = "export-ceiling"
	FlagExportDir      = "export-dir"
	FlagTimezone       = "timezone"
	FlagStatusInterval = "status-interval"
	FlagLogLevel       = "log-level"
	FlagLogFormat      = "log-format"
)

// Default returns the configuration used when nothing else is set
func Default() *types.Config {
	return &types.Config{
		ServiceURL:     "http://localhost:8000",
		RequestTimeout: 30 * time.Second,
		HTTPPort:       8080,
		StateDriver:    types.StateDriverSQLite,
		StatePath:      "recordscope.db",
		DefaultLimit:   types.DefaultLimit,
		ExportCeiling:  types.DefaultExportCeiling,
		ExportDir:      ".",
		StatusInterval: 15 * time.Second,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// RegisterFlags defines the configuration flags on fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "Path to a YAML configuration file")
	fs.String(FlagServiceURL, d.ServiceURL, "Base URL of the Query Service")
	fs.Duration(FlagRequestTimeout, d.RequestTimeout, "Timeout of a single Query Service call")
	fs.Int(FlagHTTPPort, d.HTTPPort, "HTTP port for the local API")
	fs.String(FlagStateDriver, d.StateDriver, "Filter state backend (sqlite, badger, memory)")
	fs.String(FlagStatePath, d.StatePath, "Path of the filter state database")
	fs.Int(FlagDefaultLimit, d.DefaultLimit, "Page size used when none is persisted")
	fs.Int(FlagExportCeiling, d.ExportCeiling, "Maximum number of rows in a CSV export")
	fs.String(FlagExportDir, d.ExportDir, "Directory CSV exports are written to")
	fs.String(FlagTimezone, "", "Explicit IANA timezone for queries")
	fs.Duration(FlagStatusInterval, d.StatusInterval, "Interval between Query Service health probes")
	fs.String(FlagLogLevel, d.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.String(FlagLogFormat, d.LogFormat, "Log output format (console, json)")
}

// LoadConfigWithFlagSet loads configuration using a parsed flag set registered with RegisterFlags.
// Precedence, lowest first: defaults, YAML file, explicitly set flags, environment variables.
func LoadConfigWithFlagSet(fs *pflag.FlagSet) (*types.Config, error) {
	config := Default()

	path := getStringFromEnv(EnvPrefix+"CONFIG", "")
	if fs != nil {
		if f := fs.Lookup(FlagConfig); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		if err := applyFlags(fs, config); err != nil {
			return nil, err
		}
	}
	applyEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFile overlays the YAML file at path onto config
func loadFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyFlags copies the flags the user set explicitly
func applyFlags(fs *pflag.FlagSet, config *types.Config) error {
	var errs []string
	fs.Visit(func(f *pflag.Flag) {
		value := f.Value.String()
		var err error
		switch f.Name {
		case FlagServiceURL:
			config.ServiceURL = value
		case FlagRequestTimeout:
			config.RequestTimeout, err = time.ParseDuration(value)
		case FlagHTTPPort:
			config.HTTPPort, err = strconv.Atoi(value)
		case FlagStateDriver:
			config.StateDriver = value
		case FlagStatePath:
			config.StatePath = value
		case FlagDefaultLimit:
			config.DefaultLimit, err = strconv.Atoi(value)
		case FlagExportCeiling:
			config.ExportCeiling, err = strconv.Atoi(value)
		case FlagExportDir:
			config.ExportDir = value
		case FlagTimezone:
			config.Timezone = value
		case FlagStatusInterval:
			config.StatusInterval, err = time.ParseDuration(value)
		case FlagLogLevel:
			config.LogLevel = value
		case FlagLogFormat:
			config.LogFormat = value
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("--%s: %v", f.Name, err))
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("invalid flags: %s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnv overrides config with RECORDSCOPE_* variables
func applyEnv(config *types.Config) {
	config.ServiceURL = getStringFromEnv(EnvPrefix+"SERVICE_URL", config.ServiceURL)
	config.RequestTimeout = getDurationFromEnv(EnvPrefix+"REQUEST_TIMEOUT", config.RequestTimeout)
	config.HTTPPort = getIntFromEnv(EnvPrefix+"HTTP_PORT", config.HTTPPort)
	config.StateDriver = getStringFromEnv(EnvPrefix+"STATE_DRIVER", config.StateDriver)
	config.StatePath = getStringFromEnv(EnvPrefix+"STATE_PATH", config.StatePath)
	config.DefaultLimit = getIntFromEnv(EnvPrefix+"DEFAULT_LIMIT", config.DefaultLimit)
	config.ExportCeiling = getIntFromEnv(EnvPrefix+"EXPORT_CEILING", config.ExportCeiling)
	config.ExportDir = getStringFromEnv(EnvPrefix+"EXPORT_DIR", config.ExportDir)
	config.Timezone = getStringFromEnv(EnvPrefix+"TIMEZONE", config.Timezone)
	config.StatusInterval = getDurationFromEnv(EnvPrefix+"STATUS_INTERVAL", config.StatusInterval)
	config.LogLevel = getStringFromEnv(EnvPrefix+"LOG_LEVEL", config.LogLevel)
	config.LogFormat = getStringFromEnv(EnvPrefix+"LOG_FORMAT", config.LogFormat)
}

// validateConfig validates the configuration and applies business rules
func validateConfig(config *types.Config) error {
	// Validate the Query Service address
	if strings.TrimSpace(config.ServiceURL) == "" {
		return fmt.Errorf("service-url cannot be empty")
	}
	u, err := url.Parse(config.ServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service-url must be an absolute http(s) URL, got %q", config.ServiceURL)
	}
	config.ServiceURL = strings.TrimRight(config.ServiceURL, "/")

	if config.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %s", config.RequestTimeout)
	}

	// Validate port range
	if config.HTTPPort < 1 || config.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", config.HTTPPort)
	}

	// Validate the state backend
	switch config.StateDriver {
	case types.StateDriverSQLite, types.StateDriverBadger:
		if strings.TrimSpace(config.StatePath) == "" {
			return fmt.Errorf("state-path cannot be empty for the %s driver", config.StateDriver)
		}
	case types.StateDriverMemory:
	default:
		return fmt.Errorf("state-driver must be one of sqlite, badger, memory, got %q", config.StateDriver)
	}

	// Validate paging and export
	if config.DefaultLimit < 1 {
		return fmt.Errorf("default-limit must be at least 1, got %d", config.DefaultLimit)
	}
	if config.ExportCeiling < 1 {
		return fmt.Errorf("export-ceiling must be at least 1, got %d", config.ExportCeiling)
	}
	if strings.TrimSpace(config.ExportDir) == "" {
		return fmt.Errorf("export-dir cannot be empty")
	}

	if config.Timezone != "" && !preset.ValidTimezone(config.Timezone) {
		return fmt.Errorf("timezone %q is not a valid IANA timezone", config.Timezone)
	}

	if config.StatusInterval < time.Second {
		return fmt.Errorf("status-interval must be at least 1s, got %s", config.StatusInterval)
	}

	// Validate logging
	if _, err := zerolog.ParseLevel(strings.ToLower(config.LogLevel)); err != nil || config.LogLevel == "" {
		return fmt.Errorf("log-level %q is not a valid level", config.LogLevel)
	}
	switch config.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", config.LogFormat)
	}

	return nil
}

// Helper functions for environment variable parsing

func getStringFromEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
