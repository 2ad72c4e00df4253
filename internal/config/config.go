package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"loopweb/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LOOPWEB_"

// DefaultEnvFile is read when present. Variables already set in the process
// environment win over values in the file.
const DefaultEnvFile = ".env"

// Load loads configuration from file, .env and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	envFile := os.Getenv(EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv populates the process environment from an env file. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// warnUnknownKeys logs keys the service does not understand. They are ignored
// by the main decoder so the service still starts.
func warnUnknownKeys(data []byte) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var check models.Config
	if err := dec.Decode(&check); err != nil && strings.Contains(err.Error(), "not found in type") {
		slog.Warn("Config file contains unknown keys; they are ignored", "error", err)
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration. PORT is honoured for platforms that inject it.
	envInt("PORT", &config.Server.Port)
	envInt(EnvPrefix+"PORT", &config.Server.Port)
	envString(EnvPrefix+"HOST", &config.Server.Host)
	envDuration(EnvPrefix+"READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration(EnvPrefix+"WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration(EnvPrefix+"IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envDuration(EnvPrefix+"SHUTDOWN_TIMEOUT", &config.Server.ShutdownTimeout)
	envBool(EnvPrefix+"TLS_ENABLED", &config.Server.TLSEnabled)
	envString(EnvPrefix+"TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString(EnvPrefix+"TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool(EnvPrefix+"COMPRESSION", &config.Server.Compression)
	envBool(EnvPrefix+"TRUST_PROXY", &config.Server.TrustProxy)
	envBool(EnvPrefix+"CORS_ENABLED", &config.Server.CORS.Enabled)
	envList(EnvPrefix+"CORS_ALLOWED_ORIGINS", &config.Server.CORS.AllowedOrigins)

	// Upstream configuration
	envString(EnvPrefix+"UPSTREAM_BASE_URL", &config.Upstream.BaseURL)
	envString(EnvPrefix+"UPSTREAM_OWNER", &config.Upstream.Owner)
	envString(EnvPrefix+"UPSTREAM_REPO", &config.Upstream.Repo)
	envDuration(EnvPrefix+"UPSTREAM_TIMEOUT", &config.Upstream.Timeout)
	envString(EnvPrefix+"UPSTREAM_USER_AGENT", &config.Upstream.UserAgent)
	envString("GITHUB_TOKEN", &config.Upstream.Token)
	envString(EnvPrefix+"GITHUB_TOKEN", &config.Upstream.Token)

	// Cache configuration
	envBool(EnvPrefix+"CACHE_ENABLED", &config.Cache.Enabled)
	envString(EnvPrefix+"CACHE_STRATEGY", &config.Cache.Strategy)
	envDuration(EnvPrefix+"CACHE_TTL", &config.Cache.TTL)
	envInt(EnvPrefix+"CACHE_MAX_ENTRIES", &config.Cache.MaxEntries)

	// Storage configuration
	envString(EnvPrefix+"STORAGE_TYPE", &config.Storage.Type)
	envString(EnvPrefix+"STORAGE_PATH", &config.Storage.Path)
	envString(EnvPrefix+"DATABASE_DSN", &config.Storage.Database.DSN)
	envInt(EnvPrefix+"DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt(EnvPrefix+"DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration
	envString(EnvPrefix+"ADMIN_TOKEN", &config.Security.AdminToken)
	envBool(EnvPrefix+"RATE_LIMIT_ENABLED", &config.Security.RateLimit.Enabled)
	envInt(EnvPrefix+"RATE_LIMIT_RPM", &config.Security.RateLimit.RequestsPerMinute)
	envInt(EnvPrefix+"RATE_LIMIT_BURST", &config.Security.RateLimit.BurstSize)
	envBool(EnvPrefix+"SECURITY_HEADERS_ENABLED", &config.Security.Headers.Enabled)
	envString(EnvPrefix+"CONTENT_SECURITY_POLICY", &config.Security.Headers.ContentSecurityPolicy)

	// Static site configuration
	envBool(EnvPrefix+"STATIC_ENABLED", &config.Static.Enabled)
	envString(EnvPrefix+"STATIC_DIR", &config.Static.Dir)

	// Refresh configuration
	envBool(EnvPrefix+"REFRESH_ENABLED", &config.Refresh.Enabled)
	envString(EnvPrefix+"REFRESH_SCHEDULE", &config.Refresh.Schedule)

	// Logging configuration
	envString(EnvPrefix+"LOG_LEVEL", &config.Logging.Level)
	envString(EnvPrefix+"LOG_FORMAT", &config.Logging.Format)
	envString(EnvPrefix+"LOG_OUTPUT", &config.Logging.Output)
	envString(EnvPrefix+"LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool(EnvPrefix+"METRICS_ENABLED", &config.Metrics.Enabled)
	envString(EnvPrefix+"METRICS_PATH", &config.Metrics.Path)
	envInt(EnvPrefix+"METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	envBool(EnvPrefix+"TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString(EnvPrefix+"TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString(EnvPrefix+"OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring malformed integer environment variable", "key", key, "value", v)
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring malformed duration environment variable", "key", key, "value", v)
		}
	}
}

func envList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example values for settings that are off by default
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/loopweb.db"
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"
	config.Observability.Tracing.OTLPEndpoint = "localhost:4317"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
