// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/domain/sandbox"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gate     GateConfig     `yaml:"gate"`
	Quota    QuotaConfig    `yaml:"quota"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Plans    []PlanConfig   `yaml:"plans"`
	Usage    UsageConfig    `yaml:"usage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-request deadline, queue wait included
	Environment    string        `yaml:"environment"`     // "production" or "development"
}

// Production reports whether error responses should mask internals.
func (s ServerConfig) Production() bool {
	return s.Environment == "production"
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// GateConfig configures the processing concurrency gate.
type GateConfig struct {
	Capacity int64 `yaml:"capacity"` // simultaneous processing slots
}

// QuotaConfig configures quota enforcement.
type QuotaConfig struct {
	Enforce string `yaml:"enforce"` // "hard" or "soft"
}

// Mode returns the typed enforcement mode.
func (q QuotaConfig) Mode() quota.EnforceMode {
	return quota.EnforceMode(q.Enforce)
}

// SandboxConfig configures the isolated test mode.
type SandboxConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"` // bytes
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxOperations  int      `yaml:"max_operations"`
	DailyLimit     int64    `yaml:"daily_limit"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

// Limits returns the typed sandbox limits.
func (s SandboxConfig) Limits() sandbox.Limits {
	return sandbox.Limits{
		MaxFileSize:    s.MaxFileSize,
		MaxPixels:      s.MaxPixels,
		MaxOperations:  s.MaxOperations,
		DailyLimit:     s.DailyLimit,
		AllowedFormats: s.AllowedFormats,
	}
}

// PlanConfig configures a plan tier.
type PlanConfig struct {
	Tier           string        `yaml:"tier"`
	MaxFileSize    int64         `yaml:"max_file_size"` // bytes
	MaxPixels      int64         `yaml:"max_pixels"`
	MaxOperations  int           `yaml:"max_operations"`
	MonthlyLimit   int64         `yaml:"monthly_limit"` // -1 = unlimited
	RateLimit      int           `yaml:"rate_limit"`    // requests per window
	RateWindow     time.Duration `yaml:"rate_window"`
	AllowedFormats []string      `yaml:"allowed_formats"`
}

// Limits returns the typed plan limits.
func (p PlanConfig) Limits() plan.Limits {
	return plan.Limits{
		Tier:           p.Tier,
		MaxFileSize:    p.MaxFileSize,
		MaxPixels:      p.MaxPixels,
		MaxOperations:  p.MaxOperations,
		MonthlyLimit:   p.MonthlyLimit,
		RateLimit:      p.RateLimit,
		RateWindow:     p.RateWindow,
		AllowedFormats: p.AllowedFormats,
	}
}

// Catalog builds the plan catalog from the configured tiers.
func (c *Config) Catalog() *plan.Catalog {
	limits := make([]plan.Limits, 0, len(c.Plans))
	for _, p := range c.Plans {
		limits = append(limits, p.Limits())
	}
	return plan.NewCatalog(limits)
}

// UsageConfig configures async usage recording.
type UsageConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	PIXELPRESS_SERVER_HOST     - Server host (default: 0.0.0.0)
//	PIXELPRESS_SERVER_PORT     - Server port (default: 8080)
//	PIXELPRESS_DATABASE_DSN    - Database path (default: pixelpress.db)
//	PIXELPRESS_GATE_CAPACITY   - Simultaneous processing slots (default: 4)
//	PIXELPRESS_QUOTA_ENFORCE   - Enforcement mode: hard or soft (default: hard)
//	PIXELPRESS_LOG_LEVEL       - Log level: debug, info, warn, error (default: info)
//	PIXELPRESS_LOG_FORMAT      - Log format: json or console (default: json)
//	PIXELPRESS_METRICS_ENABLED - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables when the file does not exist.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies PIXELPRESS_* environment variables to the
// config. Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("PIXELPRESS_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PIXELPRESS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PIXELPRESS_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("PIXELPRESS_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("PIXELPRESS_SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("PIXELPRESS_ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}

	// Database configuration
	if v := os.Getenv("PIXELPRESS_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PIXELPRESS_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Gate configuration
	if v := os.Getenv("PIXELPRESS_GATE_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Gate.Capacity = n
		}
	}

	// Quota configuration
	if v := os.Getenv("PIXELPRESS_QUOTA_ENFORCE"); v != "" {
		cfg.Quota.Enforce = v
	}

	// Sandbox configuration
	if v := os.Getenv("PIXELPRESS_SANDBOX_DAILY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sandbox.DailyLimit = n
		}
	}

	// Usage configuration
	if v := os.Getenv("PIXELPRESS_USAGE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.BatchSize = n
		}
	}
	if v := os.Getenv("PIXELPRESS_USAGE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Usage.FlushInterval = d
		}
	}

	// Logging configuration
	if v := os.Getenv("PIXELPRESS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PIXELPRESS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("PIXELPRESS_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("PIXELPRESS_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "production"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "pixelpress.db"
	}

	if cfg.Gate.Capacity == 0 {
		cfg.Gate.Capacity = 4
	}

	if cfg.Quota.Enforce == "" {
		cfg.Quota.Enforce = string(quota.EnforceHard)
	}

	sb := sandbox.DefaultLimits()
	if cfg.Sandbox.MaxFileSize == 0 {
		cfg.Sandbox.MaxFileSize = sb.MaxFileSize
	}
	if cfg.Sandbox.MaxPixels == 0 {
		cfg.Sandbox.MaxPixels = sb.MaxPixels
	}
	if cfg.Sandbox.MaxOperations == 0 {
		cfg.Sandbox.MaxOperations = sb.MaxOperations
	}
	if cfg.Sandbox.DailyLimit == 0 {
		cfg.Sandbox.DailyLimit = sb.DailyLimit
	}
	if len(cfg.Sandbox.AllowedFormats) == 0 {
		cfg.Sandbox.AllowedFormats = sb.AllowedFormats
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}
	if cfg.Usage.BufferSize == 0 {
		cfg.Usage.BufferSize = 1000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Default tiers if none configured
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}
}

// DefaultPlans returns the built-in plan catalog. Allowed formats are
// limited to what the processing engine can both decode and re-encode;
// operators wiring a richer engine can widen the lists in config.
func DefaultPlans() []PlanConfig {
	return []PlanConfig{
		{
			Tier:           "free",
			MaxFileSize:    5 << 20,
			MaxPixels:      16_000_000,
			MaxOperations:  1,
			MonthlyLimit:   500,
			RateLimit:      30,
			RateWindow:     time.Minute,
			AllowedFormats: []string{"jpg", "jpeg", "png"},
		},
		{
			Tier:           "starter",
			MaxFileSize:    10 << 20,
			MaxPixels:      36_000_000,
			MaxOperations:  2,
			MonthlyLimit:   2000,
			RateLimit:      60,
			RateWindow:     time.Minute,
			AllowedFormats: []string{"jpg", "jpeg", "png", "gif"},
		},
		{
			Tier:           "pro",
			MaxFileSize:    25 << 20,
			MaxPixels:      64_000_000,
			MaxOperations:  3,
			MonthlyLimit:   10000,
			RateLimit:      120,
			RateWindow:     time.Minute,
			AllowedFormats: []string{"jpg", "jpeg", "png", "gif", "tiff"},
		},
		{
			Tier:           "business",
			MaxFileSize:    50 << 20,
			MaxPixels:      64_000_000,
			MaxOperations:  4,
			MonthlyLimit:   50000,
			RateLimit:      300,
			RateWindow:     time.Minute,
			AllowedFormats: []string{"jpg", "jpeg", "png", "gif", "tiff", "bmp"},
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	if cfg.Gate.Capacity < 1 {
		return fmt.Errorf("gate.capacity must be at least 1, got %d", cfg.Gate.Capacity)
	}

	if !cfg.Quota.Mode().Valid() {
		return fmt.Errorf("quota.enforce must be 'hard' or 'soft', got %q", cfg.Quota.Enforce)
	}

	if cfg.Sandbox.DailyLimit < 0 {
		return fmt.Errorf("sandbox.daily_limit must not be negative")
	}

	seen := map[string]bool{}
	for i, p := range cfg.Plans {
		if p.Tier == "" {
			return fmt.Errorf("plans[%d].tier is required", i)
		}
		if seen[p.Tier] {
			return fmt.Errorf("plans[%d].tier %q is duplicated", i, p.Tier)
		}
		seen[p.Tier] = true
		if p.MaxFileSize < 1 {
			return fmt.Errorf("plans[%d].max_file_size must be positive", i)
		}
		if p.MaxOperations < 1 {
			return fmt.Errorf("plans[%d].max_operations must be positive", i)
		}
		if p.MonthlyLimit < -1 {
			return fmt.Errorf("plans[%d].monthly_limit must be -1 (unlimited) or non-negative", i)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}

	return nil
}
