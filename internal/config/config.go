// Package config loads and validates the service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the SRB_ prefix (e.g., SRB_CACHE_BASE_PATH
// overrides cache.base_path in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The tenants table can only come from the YAML file — Viper cannot address list
// entries through environment variables — but each tenant's api_key supports
// ${VAR} expansion so credentials never need to live in the file itself.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Tenants   []TenantConfig  `mapstructure:"tenants"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CacheConfig holds the per-tenant cache store configuration
type CacheConfig struct {
	// Backend selects the registered cache backend (currently "fs")
	Backend string `mapstructure:"backend"`
	// BasePath is the root directory under which each tenant gets its own namespace
	BasePath string `mapstructure:"base_path"`
	// TTLSeconds is how long a cached raw dataset is considered fresh
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// TTL returns the configured freshness window as a duration
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SheetsConfig holds the external spreadsheet API client configuration
type SheetsConfig struct {
	// Endpoint is the base URL of the spreadsheet values API
	Endpoint string `mapstructure:"endpoint"`
	// Timeout bounds a single fetch call
	Timeout time.Duration `mapstructure:"timeout"`
	// Retries is the number of attempts for transient upstream failures
	Retries int `mapstructure:"retries"`
}

// TenantConfig holds one tenant's sheet coordinates, credentials, and report settings
type TenantConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	// APIKey authenticates against the external spreadsheet API; supports ${VAR} expansion
	APIKey     string `mapstructure:"api_key"`
	WorkbookID string `mapstructure:"workbook_id"`

	RegistrantsSheet    string `mapstructure:"registrants_sheet"`
	RegistrantsStartRow int    `mapstructure:"registrants_start_row"`
	SubmissionsSheet    string `mapstructure:"submissions_sheet"`
	SubmissionsStartRow int    `mapstructure:"submissions_start_row"`

	// MinStartDate is the earliest reportable date for this tenant (MM-DD-YY)
	MinStartDate string `mapstructure:"min_start_date"`

	// Demo relabels the organization column on every cached row
	Demo      bool   `mapstructure:"demo"`
	DemoLabel string `mapstructure:"demo_label"`

	// Groups maps a roll-up group (e.g. a district) to its member organizations
	Groups map[string][]string `mapstructure:"groups"`
}

// RefreshConfig holds background refresh job configuration
type RefreshConfig struct {
	// Enabled starts the periodic cache-warming sweep over all tenants
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds pprof configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Cache
		"cache.backend",
		"cache.base_path",
		"cache.ttl_seconds",

		// Sheets
		"sheets.endpoint",
		"sheets.timeout",
		"sheets.retries",

		// Refresh job
		"refresh.enabled",
		"refresh.interval_minutes",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/sheet-reports")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("SRB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in per-tenant credentials
	for i := range cfg.Tenants {
		cfg.Tenants[i].APIKey = os.ExpandEnv(cfg.Tenants[i].APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.backend", "fs")
	v.SetDefault("cache.base_path", "./cache")
	v.SetDefault("cache.ttl_seconds", 3600)

	// Sheets defaults
	v.SetDefault("sheets.endpoint", "https://sheets.googleapis.com/v4/spreadsheets")
	v.SetDefault("sheets.timeout", "30s")
	v.SetDefault("sheets.retries", 3)

	// Refresh job defaults
	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.interval_minutes", 30)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "sheet-reports")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Cache.Backend == "" {
		return fmt.Errorf("cache.backend is required")
	}
	if c.Cache.BasePath == "" {
		return fmt.Errorf("cache.base_path is required")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative: %d", c.Cache.TTLSeconds)
	}

	if c.Sheets.Endpoint == "" {
		return fmt.Errorf("sheets.endpoint is required")
	}
	if !strings.HasPrefix(c.Sheets.Endpoint, "http://") && !strings.HasPrefix(c.Sheets.Endpoint, "https://") {
		return fmt.Errorf("sheets.endpoint must use http or https scheme: %s", c.Sheets.Endpoint)
	}
	if c.Sheets.Retries < 1 {
		return fmt.Errorf("sheets.retries must be at least 1: %d", c.Sheets.Retries)
	}

	if c.Refresh.Enabled && c.Refresh.IntervalMinutes < 1 {
		return fmt.Errorf("refresh.interval_minutes must be at least 1 when refresh is enabled")
	}

	seen := make(map[string]bool)
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if err := t.validate(); err != nil {
			return fmt.Errorf("tenant %d: %w", i, err)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate tenant id: %s", t.ID)
		}
		seen[t.ID] = true
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// validate checks a single tenant entry. Tenant IDs double as cache directory
// names, so anything that could escape the tenant's namespace is rejected.
func (t *TenantConfig) validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(t.ID, "/\\") || strings.Contains(t.ID, "..") {
		return fmt.Errorf("id must not contain path separators: %s", t.ID)
	}
	if t.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if t.WorkbookID == "" {
		return fmt.Errorf("workbook_id is required")
	}
	if t.RegistrantsSheet == "" || t.SubmissionsSheet == "" {
		return fmt.Errorf("registrants_sheet and submissions_sheet are required")
	}
	if t.RegistrantsStartRow < 1 || t.SubmissionsStartRow < 1 {
		return fmt.Errorf("sheet start rows must be at least 1")
	}
	if t.MinStartDate != "" {
		if _, err := time.Parse("01-02-06", t.MinStartDate); err != nil {
			return fmt.Errorf("min_start_date must be MM-DD-YY: %s", t.MinStartDate)
		}
	}
	return nil
}
