// Package config loads the orion configuration file
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/carlosrabelo/orion/pkg/errors"
)

// Config holds all configuration for the miner
type Config struct {
	Pool struct {
		URL                string `json:"url" yaml:"url"`
		User               string `json:"user" yaml:"user"`
		Worker             string `json:"worker" yaml:"worker"`
		Pass               string `json:"pass" yaml:"pass"`
		InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
		SocksProxy         string `json:"socks_proxy" yaml:"socks_proxy"`
		DialTimeoutMs      int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
		BackoffMinMs       int    `json:"backoff_min_ms" yaml:"backoff_min_ms"`
		BackoffMaxMs       int    `json:"backoff_max_ms" yaml:"backoff_max_ms"`
	} `json:"pool" yaml:"pool"`
	CPU struct {
		Threads           int    `json:"threads" yaml:"threads"`
		Hasher            string `json:"hasher" yaml:"hasher"`
		Auto              bool   `json:"auto" yaml:"auto"`
		MinimumHashTimeMs int    `json:"minimum_hash_time_ms" yaml:"minimum_hash_time_ms"`
	} `json:"cpu" yaml:"cpu"`
	GPU struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Hasher  string `json:"hasher" yaml:"hasher"`
	} `json:"gpu" yaml:"gpu"`
	NonceRatio float64 `json:"nonce_ratio" yaml:"nonce_ratio"`
	TimeoutSec int     `json:"timeout_sec" yaml:"timeout_sec"`
	HTTP       struct {
		Listen string `json:"listen" yaml:"listen"`
		Pprof  bool   `json:"pprof" yaml:"pprof"`
	} `json:"http" yaml:"http"`
	Log struct {
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`
	ReportIntervalSec int `json:"report_interval_sec" yaml:"report_interval_sec"`
}

// Load reads path, decoding YAML for .yaml/.yml files and JSON otherwise,
// then fills defaults. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config holding only defaults
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Pool.DialTimeoutMs == 0 {
		c.Pool.DialTimeoutMs = 10000
	}
	if c.Pool.BackoffMinMs == 0 {
		c.Pool.BackoffMinMs = 1000
	}
	if c.Pool.BackoffMaxMs == 0 {
		c.Pool.BackoffMaxMs = 30000
	}
	if c.CPU.Hasher == "" {
		c.CPU.Hasher = "stock"
	}
	if c.CPU.MinimumHashTimeMs == 0 {
		c.CPU.MinimumHashTimeMs = 2000
	}
	if c.GPU.Hasher == "" {
		c.GPU.Hasher = "disabled"
	}
	if c.NonceRatio == 0 {
		c.NonceRatio = 0.33
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 180
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.ReportIntervalSec == 0 {
		c.ReportIntervalSec = 60
	}
}

// ApplyEnv overrides fields from the environment. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("ORION_POOL_URL"); v != "" {
		c.Pool.URL = v
	}
	if v := getenv("ORION_POOL_USER"); v != "" {
		c.Pool.User = v
	}
	if v := getenv("ORION_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeConfig, "ORION_THREADS must be an integer", err)
		}
		c.CPU.Threads = n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.Pool.URL == "" {
		return apperrors.New(apperrors.CodeConfig, "pool.url is required")
	}
	if c.Pool.User == "" {
		return apperrors.New(apperrors.CodeConfig, "pool.user is required")
	}
	if c.CPU.Threads < 0 {
		return apperrors.New(apperrors.CodeConfig, fmt.Sprintf("cpu.threads (%d) must be >= 0", c.CPU.Threads))
	}
	if c.CPU.MinimumHashTimeMs < 0 {
		return apperrors.New(apperrors.CodeConfig, "cpu.minimum_hash_time_ms must be >= 0")
	}
	if c.NonceRatio <= 0 || c.NonceRatio > 1 {
		return apperrors.New(apperrors.CodeConfig, fmt.Sprintf("nonce_ratio (%g) must be in (0, 1]", c.NonceRatio))
	}
	if c.TimeoutSec < 0 {
		return apperrors.New(apperrors.CodeConfig, "timeout_sec must be >= 0")
	}
	if c.Pool.BackoffMaxMs < c.Pool.BackoffMinMs {
		return apperrors.New(apperrors.CodeConfig, fmt.Sprintf(
			"pool.backoff_max_ms (%d) must be >= backoff_min_ms (%d)", c.Pool.BackoffMaxMs, c.Pool.BackoffMinMs))
	}
	if c.GPU.Enabled && c.GPU.Hasher == "disabled" {
		return apperrors.New(apperrors.CodeConfig, "gpu.enabled requires gpu.hasher")
	}
	return nil
}

func (c *Config) MinimumHashTime() time.Duration {
	return time.Duration(c.CPU.MinimumHashTimeMs) * time.Millisecond
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Pool.DialTimeoutMs) * time.Millisecond
}

func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalSec) * time.Second
}
