package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
// Environment overrides are applied after parsing and before defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, os.LookupEnv)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Parse decodes raw config bytes. ext selects the format (".yaml", ".yml" or JSON otherwise).
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with
// environment overrides applied. The bool reports whether the file was found.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = fromEnv(os.LookupEnv)
	return cfg, false, err
}

func fromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	applyEnv(cfg, lookup)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.IdempotencyCacheSize == 0 {
		cfg.IdempotencyCacheSize = DefaultIdempotencyCacheSize
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}

	cfg.Batching.ApplyDefaults()

	if cfg.Ledger.Kind == "" {
		cfg.Ledger.Kind = DefaultLedgerKind
	}
	if cfg.Ledger.RequestTimeout == 0 {
		cfg.Ledger.RequestTimeout = DefaultRequestTimeout
	}
	for i := range cfg.Ledger.Endpoints {
		if cfg.Ledger.Endpoints[i].Weight == 0 {
			cfg.Ledger.Endpoints[i].Weight = DefaultEndpointWeight
		}
		if cfg.Ledger.Endpoints[i].Role == "" {
			cfg.Ledger.Endpoints[i].Role = DefaultEndpointRole
		}
	}
	if cb := cfg.Ledger.CircuitBreaker; cb != nil {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = DefaultFailureThreshold
		}
		if cb.RecoveryTimeout == 0 {
			cb.RecoveryTimeout = DefaultRecoveryTimeout
		}
		if cb.HalfOpenMaxRequests == 0 {
			cb.HalfOpenMaxRequests = DefaultHalfOpenRequests
		}
	}
	if cfg.Ledger.Kind == LedgerRedis && cfg.Ledger.Redis == nil {
		cfg.Ledger.Redis = &RedisConfig{}
	}
	if r := cfg.Ledger.Redis; r != nil {
		if r.Addr == "" {
			r.Addr = DefaultRedisAddr
		}
		if r.MarkerTTL == 0 {
			r.MarkerTTL = DefaultRedisMarkerTTL
		}
	}
}

// ApplyDefaults sets default values for unset batching fields
func (c *BatchingConfig) ApplyDefaults() {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxWaitTime == nil {
		c.MaxWaitTime = Int(DefaultMaxWaitTime)
	}
	// an unset minWaitTime above an explicit small maxWaitTime collapses to it
	if c.MinWaitTime == nil {
		c.MinWaitTime = Int(c.GetMinWaitTime())
	}
	if c.BaseRetryDelay == 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.MaxAbsDeltaCents == 0 {
		c.MaxAbsDeltaCents = DefaultMaxAbsDeltaCents
	}
	if c.ActivityWindow == 0 {
		c.ActivityWindow = DefaultActivityWindow
	}
	if c.HighActivityRate == 0 {
		c.HighActivityRate = DefaultHighActivityRate
	}
	if c.TransportTimeout == 0 {
		c.TransportTimeout = DefaultTransportTimeout
	}
}

// Validate checks the batching configuration for errors
func (c *BatchingConfig) Validate() error {
	if c.MaxBatchSize < 1 {
		return errors.New("batching.maxBatchSize must be at least 1")
	}
	if (c.MaxWaitTime != nil && *c.MaxWaitTime < 0) || (c.MinWaitTime != nil && *c.MinWaitTime < 0) {
		return errors.New("batching wait times must be non-negative")
	}
	if c.MinWaitTime != nil && *c.MinWaitTime > c.GetMaxWaitTime() {
		return errors.New("batching.minWaitTime must not exceed maxWaitTime")
	}
	if c.GetMaxRetries() < 0 {
		return errors.New("batching.maxRetries must be non-negative")
	}
	if c.BaseRetryDelay < 0 {
		return errors.New("batching.baseRetryDelay must be non-negative")
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		return errors.New("batching.maxRetryDelay must not be below baseRetryDelay")
	}
	if c.MaxAbsDeltaCents < 0 {
		return errors.New("batching.maxAbsDeltaCents must be non-negative")
	}
	if c.ActivityWindow <= 0 {
		return errors.New("batching.activityWindow must be positive")
	}
	if c.HighActivityRate <= 0 {
		return errors.New("batching.highActivityRate must be positive")
	}
	if c.HighActivityRate*c.GetActivityWindowDuration().Seconds() > MaxActivitySamples {
		return fmt.Errorf("batching.highActivityRate over activityWindow must not exceed %d submissions", MaxActivitySamples)
	}
	if c.TransportTimeout < 0 {
		return errors.New("batching.transportTimeout must be non-negative")
	}
	return nil
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxBodySize < 0 {
		return fmt.Errorf("maxBodySize must be non-negative")
	}
	if cfg.IdempotencyCacheSize < 0 {
		return fmt.Errorf("idempotencyCacheSize must be non-negative")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("rateLimitRPS must be non-negative")
	}

	if err := cfg.Batching.Validate(); err != nil {
		return err
	}

	return validateLedger(&cfg.Ledger)
}

func validateLedger(l *LedgerConfig) error {
	switch l.Kind {
	case LedgerMemory:
		return nil
	case LedgerRedis:
		if l.Redis == nil || l.Redis.Addr == "" {
			return errors.New("ledger.redis.addr is required for the redis ledger")
		}
		return nil
	case LedgerHTTP:
	default:
		return fmt.Errorf("ledger.kind must be one of: memory, http, redis")
	}

	if len(l.Endpoints) == 0 {
		return errors.New("ledger: at least one endpoint is required for the http ledger")
	}

	names := make(map[string]bool)
	for i, ep := range l.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("ledger.endpoints[%d]: name is required", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("ledger: duplicate endpoint name '%s'", ep.Name)
		}
		names[ep.Name] = true

		if ep.URL == "" {
			return fmt.Errorf("ledger endpoint '%s': url is required", ep.Name)
		}
		if ep.Weight <= 0 {
			return fmt.Errorf("ledger endpoint '%s': weight must be positive", ep.Name)
		}
		if ep.Role != RoleMain && ep.Role != RoleFallback {
			return fmt.Errorf("ledger endpoint '%s': role must be 'main' or 'fallback'", ep.Name)
		}
	}

	if l.HealthCheckInterval < 0 || l.StatusLogInterval < 0 {
		return fmt.Errorf("ledger intervals must be non-negative")
	}
	if l.RequestTimeout < 0 {
		return fmt.Errorf("ledger.requestTimeout must be non-negative")
	}
	return nil
}
