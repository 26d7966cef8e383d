// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Schema   SchemaConfig   `yaml:"schema"`
	API      APIConfig      `yaml:"api"`
	Auth     AuthConfig     `yaml:"auth"`
	Docs     DocsConfig     `yaml:"docs"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Reload   ReloadConfig   `yaml:"reload"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // "sqlite" or "postgres"
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// SchemaConfig locates the schema document.
type SchemaConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // Reload on file change and SIGHUP
}

// APIConfig configures the synthesized API.
type APIConfig struct {
	Prefix         string `yaml:"prefix"`
	DefaultPerPage int    `yaml:"default_per_page"`
	MaxPerPage     int    `yaml:"max_per_page"`
	MaxExpandDepth int    `yaml:"max_expand_depth"`
	ValidationMode string `yaml:"validation_mode"` // "all" or "first"
}

// AuthConfig configures caller identity.
// Use "jwt" for bearer tokens, "header" behind a trusted proxy, "none" to
// treat every caller as anonymous.
type AuthConfig struct {
	Mode       string `yaml:"mode"`
	JWTSecret  string `yaml:"jwt_secret,omitempty"`
	RolesClaim string `yaml:"roles_claim"`
	Issuer     string `yaml:"issuer,omitempty"`
}

// DocsConfig configures the API description and Swagger UI.
type DocsConfig struct {
	Enabled bool   `yaml:"enabled"` // Serve Swagger UI
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
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

// ReloadConfig configures fleet-wide reloads over Redis. Disabled when
// RedisURL is empty.
type ReloadConfig struct {
	RedisURL       string `yaml:"redis_url,omitempty"`
	Channel        string `yaml:"channel"`
	FingerprintKey string `yaml:"fingerprint_key"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{Docs: DocsConfig{Enabled: true}, Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	APIFORGE_SCHEMA_PATH        - Schema document (required)
//	APIFORGE_SCHEMA_WATCH       - Reload on change and SIGHUP (default: false)
//	APIFORGE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	APIFORGE_SERVER_PORT        - Server port (default: 1111)
//	APIFORGE_DATABASE_DRIVER    - sqlite or postgres (default: sqlite)
//	APIFORGE_DATABASE_DSN       - Database DSN (default: apiforge.db)
//	APIFORGE_API_PREFIX         - API prefix (default: /api)
//	APIFORGE_VALIDATION_MODE    - all or first (default: all)
//	APIFORGE_AUTH_MODE          - jwt, header or none (default: none)
//	APIFORGE_AUTH_JWT_SECRET    - HS256 secret (required for jwt)
//	APIFORGE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	APIFORGE_LOG_FORMAT         - Log format: json or console (default: json)
//	APIFORGE_METRICS_ENABLED    - Enable /metrics endpoint (default: true)
//	APIFORGE_DOCS_ENABLED       - Enable Swagger UI (default: true)
//	APIFORGE_RELOAD_REDIS_URL   - Redis URL for fleet reloads
func LoadFromEnv() (*Config, error) {
	cfg := Config{Docs: DocsConfig{Enabled: true}, Metrics: MetricsConfig{Enabled: true}}
	return finish(&cfg)
}

// LoadWithFallback tries to load from file, falls back to environment variables.
// This is the recommended method for container deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set APIFORGE_SCHEMA_PATH")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("APIFORGE_SCHEMA_PATH") != ""
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies APIFORGE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("APIFORGE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("APIFORGE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("APIFORGE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("APIFORGE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("APIFORGE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("APIFORGE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("APIFORGE_DATABASE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.QueryTimeout = d
		}
	}

	// Schema configuration
	if v := os.Getenv("APIFORGE_SCHEMA_PATH"); v != "" {
		cfg.Schema.Path = v
	}
	if v := os.Getenv("APIFORGE_SCHEMA_WATCH"); v != "" {
		cfg.Schema.Watch = parseBool(v)
	}

	// API configuration
	if v := os.Getenv("APIFORGE_API_PREFIX"); v != "" {
		cfg.API.Prefix = v
	}
	if v := os.Getenv("APIFORGE_VALIDATION_MODE"); v != "" {
		cfg.API.ValidationMode = v
	}
	if v := os.Getenv("APIFORGE_API_MAX_EXPAND_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.MaxExpandDepth = n
		}
	}

	// Auth configuration
	if v := os.Getenv("APIFORGE_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("APIFORGE_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("APIFORGE_AUTH_ROLES_CLAIM"); v != "" {
		cfg.Auth.RolesClaim = v
	}
	if v := os.Getenv("APIFORGE_AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}

	// Docs configuration
	if v := os.Getenv("APIFORGE_DOCS_ENABLED"); v != "" {
		cfg.Docs.Enabled = parseBool(v)
	}

	// Logging configuration
	if v := os.Getenv("APIFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APIFORGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("APIFORGE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("APIFORGE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// Reload configuration
	if v := os.Getenv("APIFORGE_RELOAD_REDIS_URL"); v != "" {
		cfg.Reload.RedisURL = v
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
		cfg.Server.Port = 1111
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "apiforge.db"
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 5 * time.Second
	}

	if cfg.API.Prefix == "" {
		cfg.API.Prefix = "/api"
	}
	if cfg.API.DefaultPerPage == 0 {
		cfg.API.DefaultPerPage = 20
	}
	if cfg.API.MaxPerPage == 0 {
		cfg.API.MaxPerPage = 100
	}
	if cfg.API.MaxExpandDepth == 0 {
		cfg.API.MaxExpandDepth = 2
	}
	if cfg.API.ValidationMode == "" {
		cfg.API.ValidationMode = "all"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "none"
	}
	if cfg.Auth.RolesClaim == "" {
		cfg.Auth.RolesClaim = "roles"
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

	if cfg.Reload.Channel == "" {
		cfg.Reload.Channel = "apiforge:reload"
	}
	if cfg.Reload.FingerprintKey == "" {
		cfg.Reload.FingerprintKey = "apiforge:fingerprint"
	}
}

func validate(cfg *Config) error {
	if cfg.Schema.Path == "" {
		return fmt.Errorf("schema.path is required")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"sqlite": true, "sqlite3": true, "postgres": true, "pgx": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got %q", cfg.Database.Driver)
	}

	if !strings.HasPrefix(cfg.API.Prefix, "/") {
		return fmt.Errorf("api.prefix must start with '/', got %q", cfg.API.Prefix)
	}
	if cfg.API.DefaultPerPage < 1 || cfg.API.DefaultPerPage > cfg.API.MaxPerPage {
		return fmt.Errorf("api.default_per_page must be between 1 and api.max_per_page (%d)", cfg.API.MaxPerPage)
	}
	if cfg.API.MaxExpandDepth < 0 {
		return fmt.Errorf("api.max_expand_depth must not be negative")
	}

	validModes := map[string]bool{"all": true, "first": true}
	if !validModes[cfg.API.ValidationMode] {
		return fmt.Errorf("api.validation_mode must be 'all' or 'first', got %q", cfg.API.ValidationMode)
	}

	validAuthModes := map[string]bool{"jwt": true, "header": true, "none": true}
	if !validAuthModes[cfg.Auth.Mode] {
		return fmt.Errorf("auth.mode must be 'jwt', 'header' or 'none', got %q", cfg.Auth.Mode)
	}
	if cfg.Auth.Mode == "jwt" && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.mode is 'jwt'")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
