// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every loopweb component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, upstream, cache, etc.)
// - Defaults that serve the public site out of the box
// - Validation per section to catch misconfigurations at startup
// - Secrets (upstream token, admin token) only ever come from file or environment
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Cache strategy constants. They mirror the strategies the site's service
// worker applies in the browser.
const (
	CacheStrategyCacheFirst           = "cache-first"
	CacheStrategyNetworkFirst         = "network-first"
	CacheStrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// DefaultContentSecurityPolicy is the policy the production site has always
// been served with.
const DefaultContentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
	"style-src 'self' 'unsafe-inline' fonts.googleapis.com; " +
	"font-src 'self' fonts.gstatic.com; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self' https://api.github.com"

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Upstream: GitHub Releases feed the proxy reads from
// - Cache: Release response caching
// - Storage: Release snapshots and download statistics
// - Security: Admin token, rate limiting and response headers
// - Static: Built single-page site
// - Refresh: Scheduled cache warming
// - Logging, Metrics, Observability: Operational visibility
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Static        StaticConfig        `yaml:"static" json:"static"`
	Refresh       RefreshConfig       `yaml:"refresh" json:"refresh"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	Host            string        `yaml:"host" json:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLSEnabled      bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file" json:"tls_key_file"`
	Compression     bool          `yaml:"compression" json:"compression"`
	// TrustProxy makes client IPs come from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a reverse proxy that sets those headers.
	TrustProxy bool       `yaml:"trust_proxy" json:"trust_proxy"`
	CORS       CORSConfig `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// UpstreamConfig points at the public releases feed. Token is optional and
// only raises the API rate limit; it is never exposed to browsers.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Owner     string        `yaml:"owner" json:"owner"`
	Repo      string        `yaml:"repo" json:"repo"`
	Token     string        `yaml:"token" json:"-"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Strategy   string        `yaml:"strategy" json:"strategy"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"-"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	AdminToken string                `yaml:"admin_token" json:"-"`
	RateLimit  RateLimitConfig       `yaml:"rate_limit" json:"rate_limit"`
	Headers    SecurityHeadersConfig `yaml:"headers" json:"headers"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type SecurityHeadersConfig struct {
	Enabled               bool   `yaml:"enabled" json:"enabled"`
	ContentSecurityPolicy string `yaml:"content_security_policy" json:"content_security_policy"`
	HSTSMaxAge            int    `yaml:"hsts_max_age" json:"hsts_max_age"`
	FrameOptions          string `yaml:"frame_options" json:"frame_options"`
	ReferrerPolicy        string `yaml:"referrer_policy" json:"referrer_policy"`
}

type StaticConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Dir         string `yaml:"dir" json:"dir"`
	IndexFile   string `yaml:"index_file" json:"index_file"`
	SPAFallback bool   `yaml:"spa_fallback" json:"spa_fallback"`
}

type RefreshConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 3000: the port the site has always listened on
// - 10-minute cache TTL: keeps the anonymous GitHub API quota comfortable
// - Stale-while-revalidate: visitors never wait on GitHub once the cache is warm
// - Memory storage: no external dependencies for a single instance
// - Security headers and rate limiting on by default
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Compression:     true,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:   "https://api.github.com",
			Owner:     "maildan",
			Repo:      "loop",
			Timeout:   15 * time.Second,
			UserAgent: "loopweb",
		},
		Cache: CacheConfig{
			Enabled:    true,
			Strategy:   CacheStrategyStaleWhileRevalidate,
			TTL:        10 * time.Minute,
			MaxEntries: 128,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/releases.json",
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				BurstSize:         30,
				CleanupInterval:   5 * time.Minute,
			},
			Headers: SecurityHeadersConfig{
				Enabled:               true,
				ContentSecurityPolicy: DefaultContentSecurityPolicy,
				HSTSMaxAge:            15552000,
				FrameOptions:          "SAMEORIGIN",
				ReferrerPolicy:        "no-referrer",
			},
		},
		Static: StaticConfig{
			Enabled:     true,
			Dir:         "./build",
			IndexFile:   "index.html",
			SPAFallback: true,
		},
		Refresh: RefreshConfig{
			Enabled:  true,
			Schedule: "@every 5m",
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "loopweb",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Static.Validate(); err != nil {
		return fmt.Errorf("invalid static config: %w", err)
	}

	if err := c.Refresh.Validate(); err != nil {
		return fmt.Errorf("invalid refresh config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 || sc.ShutdownTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	parsed, err := url.Parse(uc.BaseURL)
	if err != nil {
		return fmt.Errorf("malformed base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("base URL must use HTTP or HTTPS scheme")
	}
	if parsed.Host == "" {
		return errors.New("base URL must have a valid host")
	}

	if uc.Owner == "" || uc.Repo == "" {
		return errors.New("owner and repo are required")
	}
	if strings.Contains(uc.Owner, "/") || strings.Contains(uc.Repo, "/") {
		return errors.New("owner and repo cannot contain '/'")
	}

	if uc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	return nil
}

func (cc *CacheConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}

	switch cc.Strategy {
	case CacheStrategyCacheFirst, CacheStrategyNetworkFirst, CacheStrategyStaleWhileRevalidate:
	default:
		return fmt.Errorf("invalid cache strategy: %s", cc.Strategy)
	}

	if cc.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}

	if cc.MaxEntries <= 0 {
		return errors.New("cache max entries must be positive")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Database.MaxOpenConns < 0 || stc.Database.MaxIdleConns < 0 {
		return errors.New("connection limits cannot be negative")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.AdminToken != "" && len(sec.AdminToken) < 16 {
		return errors.New("admin token must be at least 16 characters")
	}

	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("requests per minute must be positive")
		}
		if sec.RateLimit.BurstSize <= 0 {
			return errors.New("burst size must be positive")
		}
		if sec.RateLimit.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	}

	if sec.Headers.HSTSMaxAge < 0 {
		return errors.New("HSTS max age cannot be negative")
	}

	return nil
}

func (st *StaticConfig) Validate() error {
	if !st.Enabled {
		return nil
	}
	if st.Dir == "" {
		return errors.New("static dir cannot be empty")
	}
	if st.IndexFile == "" {
		return errors.New("index file cannot be empty")
	}
	return nil
}

func (rc *RefreshConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.Schedule == "" {
		return errors.New("refresh schedule cannot be empty")
	}
	if rc.Timeout <= 0 {
		return errors.New("refresh timeout must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !containsString([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !containsString([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !containsString([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
