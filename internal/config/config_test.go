package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"loopweb/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears variables that would leak into Load from the host.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv(EnvPrefix+"ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "loopweb.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	isolateEnv(t)

	configFile := writeConfig(t, `
server:
  port: 8080
  host: "localhost"
  read_timeout: 20s
  compression: false
  cors:
    enabled: true
    allowed_origins: ["https://loop.example.com"]

upstream:
  owner: "maildan"
  repo: "loop"
  timeout: 5s

cache:
  enabled: true
  strategy: "network-first"
  ttl: 2m
  max_entries: 16

storage:
  type: "json"
  path: "./data/test.json"

security:
  admin_token: "0123456789abcdef-admin"
  rate_limit:
    enabled: true
    requests_per_minute: 100
    burst_size: 10
    cleanup_interval: 300s

static:
  dir: "./public"

refresh:
  schedule: "@every 1m"

logging:
  level: "debug"
  format: "text"
  output: "stdout"

metrics:
  enabled: true
  path: "/metrics"
  port: 9191
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 20*time.Second, config.Server.ReadTimeout)
	assert.False(t, config.Server.Compression)
	assert.Equal(t, []string{"https://loop.example.com"}, config.Server.CORS.AllowedOrigins)

	assert.Equal(t, 5*time.Second, config.Upstream.Timeout)
	assert.Equal(t, "https://api.github.com", config.Upstream.BaseURL)

	assert.Equal(t, models.CacheStrategyNetworkFirst, config.Cache.Strategy)
	assert.Equal(t, 2*time.Minute, config.Cache.TTL)
	assert.Equal(t, 16, config.Cache.MaxEntries)

	assert.Equal(t, models.StorageTypeJSON, config.Storage.Type)
	assert.Equal(t, "./data/test.json", config.Storage.Path)

	assert.Equal(t, "0123456789abcdef-admin", config.Security.AdminToken)
	assert.Equal(t, 100, config.Security.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, config.Security.RateLimit.BurstSize)
	assert.Equal(t, 300*time.Second, config.Security.RateLimit.CleanupInterval)

	assert.Equal(t, "./public", config.Static.Dir)
	assert.Equal(t, "index.html", config.Static.IndexFile)
	assert.Equal(t, "@every 1m", config.Refresh.Schedule)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, 9191, config.Metrics.Port)
}

func TestLoad_WithDefaults(t *testing.T) {
	isolateEnv(t)

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, models.CacheStrategyStaleWhileRevalidate, config.Cache.Strategy)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL)
	assert.Equal(t, "maildan", config.Upstream.Owner)
	assert.Equal(t, "loop", config.Upstream.Repo)
	assert.Empty(t, config.Security.AdminToken)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	isolateEnv(t)

	t.Setenv("LOOPWEB_PORT", "9999")
	t.Setenv("LOOPWEB_HOST", "127.0.0.1")
	t.Setenv("LOOPWEB_STORAGE_TYPE", "memory")
	t.Setenv("LOOPWEB_CACHE_STRATEGY", "cache-first")
	t.Setenv("LOOPWEB_CACHE_TTL", "30s")
	t.Setenv("LOOPWEB_LOG_LEVEL", "warn")
	t.Setenv("LOOPWEB_ADMIN_TOKEN", "env-admin-token-0123456789")
	t.Setenv("LOOPWEB_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOOPWEB_REFRESH_ENABLED", "false")
	t.Setenv("GITHUB_TOKEN", "ghp_example")

	configFile := writeConfig(t, `
server:
  port: 8080
  host: "localhost"

storage:
  type: "json"
  path: "./data.json"

logging:
  level: "info"
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	// Environment variables should override config file values
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, models.CacheStrategyCacheFirst, config.Cache.Strategy)
	assert.Equal(t, 30*time.Second, config.Cache.TTL)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "env-admin-token-0123456789", config.Security.AdminToken)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Server.CORS.AllowedOrigins)
	assert.False(t, config.Refresh.Enabled)
	assert.Equal(t, "ghp_example", config.Upstream.Token)
}

func TestLoad_PlatformPortVariable(t *testing.T) {
	isolateEnv(t)
	t.Setenv("PORT", "5000")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5000, config.Server.Port)

	t.Setenv("LOOPWEB_PORT", "5001")
	config, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 5001, config.Server.Port)
}

func TestLoad_MalformedEnvironmentValuesAreIgnored(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOOPWEB_PORT", "not-a-number")
	t.Setenv("LOOPWEB_CACHE_TTL", "forever")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, 10*time.Minute, config.Cache.TTL)
}

func TestLoad_WithEnvFile(t *testing.T) {
	isolateEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOOPWEB_LOG_LEVEL=debug\nLOOPWEB_STATIC_DIR=/srv/site\n"), 0644))
	t.Setenv(EnvPrefix+"ENV_FILE", envFile)

	// Register cleanup for the variables the env file will set.
	t.Setenv("LOOPWEB_LOG_LEVEL", "")
	t.Setenv("LOOPWEB_STATIC_DIR", "")
	require.NoError(t, os.Unsetenv("LOOPWEB_LOG_LEVEL"))
	require.NoError(t, os.Unsetenv("LOOPWEB_STATIC_DIR"))

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "/srv/site", config.Static.Dir)
}

func TestLoad_ProcessEnvironmentWinsOverEnvFile(t *testing.T) {
	isolateEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOOPWEB_LOG_LEVEL=debug\n"), 0644))
	t.Setenv(EnvPrefix+"ENV_FILE", envFile)
	t.Setenv("LOOPWEB_LOG_LEVEL", "error")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", config.Logging.Level)
}

func TestLoad_NonExistentFile(t *testing.T) {
	isolateEnv(t)

	_, err := Load("/non/existent/path.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolateEnv(t)

	configFile := writeConfig(t, `
server:
  port: 8080
  invalid: [unclosed array
`)

	_, err := Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_UnknownKeysAreIgnored(t *testing.T) {
	isolateEnv(t)

	configFile := writeConfig(t, `
server:
  port: 8081
  trusted_proxies: ["10.0.0.0/8"]
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8081, config.Server.Port)
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	isolateEnv(t)

	config, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	isolateEnv(t)

	configFile := writeConfig(t, `
cache:
  strategy: "cache-only"
`)

	_, err := Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "invalid cache strategy")
}

func TestLoad_WithDatabaseConfig(t *testing.T) {
	isolateEnv(t)

	configFile := writeConfig(t, `
storage:
  type: "sqlite"
  database:
    dsn: "file:loopweb.db"
    max_open_conns: 4
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.Equal(t, "file:loopweb.db", config.Storage.Database.DSN)
	assert.Equal(t, 4, config.Storage.Database.MaxOpenConns)
}

func TestSaveExample(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "loopweb.example.yaml")
	require.NoError(t, SaveExample(path))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.Equal(t, "file:./data/loopweb.db", config.Storage.Database.DSN)
}
