package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"port": 8080}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Kind)
	assert.Equal(t, DefaultMaxBatchSize, cfg.Batching.MaxBatchSize)
	assert.Equal(t, time.Second, cfg.Batching.GetMaxWaitDuration())
	assert.Equal(t, 100*time.Millisecond, cfg.Batching.GetMinWaitDuration())
	assert.True(t, cfg.Batching.IsAdaptiveDelay())
	assert.True(t, cfg.Batching.IsCoalescing())
	assert.Equal(t, DefaultMaxRetries, cfg.Batching.GetMaxRetries())
	assert.True(t, cfg.IsMetricsEnabled())
	assert.False(t, cfg.IsEventsEnabled())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 9000
logLevel: debug
batching:
  maxBatchSize: 10
  maxWaitTime: 500
  minWaitTime: 50
  adaptiveDelay: false
  enableCoalescing: false
  maxRetries: 0
ledger:
  kind: http
  endpoints:
    - name: primary
      url: http://ledger.local/rpc
    - name: backup
      url: http://backup.local/rpc
      role: fallback
      weight: 3
events:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Batching.MaxBatchSize)
	assert.False(t, cfg.Batching.IsAdaptiveDelay())
	assert.False(t, cfg.Batching.IsCoalescing())
	assert.Equal(t, 0, cfg.Batching.GetMaxRetries())
	require.Len(t, cfg.Ledger.Endpoints, 2)
	assert.Equal(t, RoleMain, cfg.Ledger.Endpoints[0].Role)
	assert.Equal(t, DefaultEndpointWeight, cfg.Ledger.Endpoints[0].Weight)
	assert.Equal(t, RoleFallback, cfg.Ledger.Endpoints[1].Role)
	assert.Equal(t, 3, cfg.Ledger.Endpoints[1].Weight)
	assert.True(t, cfg.IsEventsEnabled())
	assert.Equal(t, DefaultEventsBufferSize, cfg.GetEventsBufferSize())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", `{"port": 70000}`},
		{"bad log level", `{"logLevel": "trace"}`},
		{"negative batch size", `{"batching": {"maxBatchSize": -1}}`},
		{"negative retries", `{"batching": {"maxRetries": -1}}`},
		{"http without endpoints", `{"ledger": {"kind": "http"}}`},
		{"duplicate endpoints", `{"ledger": {"kind": "http", "endpoints": [{"name": "a", "url": "http://a"}, {"name": "a", "url": "http://b"}]}}`},
		{"unknown ledger", `{"ledger": {"kind": "postgres"}}`},
		{"min wait above max", `{"batching": {"maxWaitTime": 100, "minWaitTime": 200}}`},
		{"negative wait", `{"batching": {"maxWaitTime": -5}}`},
		{"rate beyond sample ring", `{"batching": {"highActivityRate": 1000000, "activityWindow": 1000}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:        "WARN",
		EnvListen:          "0.0.0.0:4000",
		EnvLedgerKind:      "redis",
		EnvLedgerAuthToken: "secret",
		EnvRedisAddr:       "redis:6379",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{}
	applyEnv(cfg, lookup)
	applyDefaults(cfg)
	require.NoError(t, validate(cfg))

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, LedgerRedis, cfg.Ledger.Kind)
	assert.Equal(t, "secret", cfg.Ledger.AuthToken)
	assert.Equal(t, "redis:6379", cfg.Ledger.Redis.Addr)
	assert.Equal(t, DefaultRedisMarkerTTL, cfg.Ledger.Redis.MarkerTTL)
}

func TestLoadEnvFiles(t *testing.T) {
	path := writeFile(t, ".env", "ALLOCBATCH_TEST_ONLY=from-file\n")
	t.Setenv("ALLOCBATCH_TEST_ONLY", "")
	os.Unsetenv("ALLOCBATCH_TEST_ONLY")

	require.NoError(t, LoadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("ALLOCBATCH_TEST_ONLY"))
}

func TestBatchingConfig_ClampsMinWait(t *testing.T) {
	b := BatchingConfig{MaxWaitTime: Int(40)}
	b.ApplyDefaults()
	assert.Equal(t, 40, b.GetMinWaitTime())
	assert.NoError(t, b.Validate())
}

func TestBatchingConfig_ZeroWaitIsKept(t *testing.T) {
	cfg, err := Parse([]byte(`{"batching": {"maxWaitTime": 0}}`), ".json")
	require.NoError(t, err)
	applyDefaults(cfg)
	require.NoError(t, validate(cfg))

	assert.Zero(t, cfg.Batching.GetMaxWaitDuration())
	assert.Zero(t, cfg.Batching.GetMinWaitDuration())

	cfg, err = Parse([]byte(`{"batching": {}}`), ".json")
	require.NoError(t, err)
	applyDefaults(cfg)
	assert.Equal(t, DefaultMaxWaitTime, cfg.Batching.GetMaxWaitTime())
	assert.Equal(t, DefaultMinWaitTime, cfg.Batching.GetMinWaitTime())
}

func TestLoadOrDefault_MissingFileKeepsEnvOverrides(t *testing.T) {
	t.Setenv(EnvListen, "0.0.0.0:4100")
	t.Setenv(EnvLedgerKind, "redis")
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvLedgerAuthToken, "secret")

	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, LedgerRedis, cfg.Ledger.Kind)
	assert.Equal(t, "redis:6379", cfg.Ledger.Redis.Addr)
	assert.Equal(t, "secret", cfg.Ledger.AuthToken)
	assert.Equal(t, DefaultMaxBatchSize, cfg.Batching.MaxBatchSize)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, found, err := LoadOrDefault(writeFile(t, "config.json", `{"port": 8081}`))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 8081, cfg.Port)

	_, _, err = LoadOrDefault(writeFile(t, "config.json", `{"port": -1}`))
	assert.Error(t, err)

	t.Setenv(EnvLedgerKind, "carrier-pigeon")
	_, found, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, found)
	assert.Error(t, err)
}
