package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/carlosrabelo/orion/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONFillsDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"pool": {"url": "stratum+tcp://pool.example.com:3333", "user": "wallet"},
		"cpu": {"threads": 4}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "stratum+tcp://pool.example.com:3333", cfg.Pool.URL)
	assert.Equal(t, 4, cfg.CPU.Threads)
	assert.Equal(t, "stock", cfg.CPU.Hasher)
	assert.Equal(t, "disabled", cfg.GPU.Hasher)
	assert.Equal(t, 0.33, cfg.NonceRatio)
	assert.Equal(t, 180*time.Second, cfg.Timeout())
	assert.Equal(t, 2*time.Second, cfg.MinimumHashTime())
	assert.Equal(t, 10*time.Second, cfg.DialTimeout())
	assert.Equal(t, time.Minute, cfg.ReportInterval())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1000, cfg.Pool.BackoffMinMs)
	assert.Equal(t, 30000, cfg.Pool.BackoffMaxMs)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
pool:
  url: wss://pool.example.com/mine
  user: wallet
  worker: rig1
  socks_proxy: socks5://127.0.0.1:9050
cpu:
  auto: true
  minimum_hash_time_ms: 500
nonce_ratio: 0.5
timeout_sec: 60
http:
  listen: 127.0.0.1:8080
  pprof: true
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "rig1", cfg.Pool.Worker)
	assert.Equal(t, "socks5://127.0.0.1:9050", cfg.Pool.SocksProxy)
	assert.True(t, cfg.CPU.Auto)
	assert.Equal(t, 500*time.Millisecond, cfg.MinimumHashTime())
	assert.Equal(t, 0.5, cfg.NonceRatio)
	assert.Equal(t, time.Minute, cfg.Timeout())
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Listen)
	assert.True(t, cfg.HTTP.Pprof)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yml", "pool:\n  hostname: x\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeFile(t, "broken.json", `{"pool": `)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Pool.URL = "stratum+tcp://pool.example.com"
		cfg.Pool.User = "wallet"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing url", func(c *Config) { c.Pool.URL = "" }, false},
		{"missing user", func(c *Config) { c.Pool.User = "" }, false},
		{"negative threads", func(c *Config) { c.CPU.Threads = -1 }, false},
		{"ratio above one", func(c *Config) { c.NonceRatio = 1.5 }, false},
		{"ratio of one", func(c *Config) { c.NonceRatio = 1 }, true},
		{"negative timeout", func(c *Config) { c.TimeoutSec = -5 }, false},
		{"backoff inverted", func(c *Config) { c.Pool.BackoffMaxMs = 10 }, false},
		{"gpu without hasher", func(c *Config) { c.GPU.Enabled = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.New(apperrors.CodeConfig, ""))
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ORION_POOL_URL":  "stratum+ssl://other.example.com",
		"ORION_POOL_USER": "someone",
		"ORION_THREADS":   "6",
		"LOG_LEVEL":       "warn",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "stratum+ssl://other.example.com", cfg.Pool.URL)
	assert.Equal(t, "someone", cfg.Pool.User)
	assert.Equal(t, 6, cfg.CPU.Threads)
	assert.Equal(t, "warn", cfg.Log.Level)

	env["ORION_THREADS"] = "many"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}
