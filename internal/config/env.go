package config

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings
const (
	EnvLogLevel        = "ALLOCBATCH_LOG_LEVEL"
	EnvListen          = "ALLOCBATCH_LISTEN"
	EnvLedgerKind      = "ALLOCBATCH_LEDGER_KIND"
	EnvLedgerAuthToken = "ALLOCBATCH_LEDGER_AUTH_TOKEN"
	EnvRedisAddr       = "ALLOCBATCH_REDIS_ADDR"
)

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv overrides config fields from the environment
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		host, port := splitHostPort(v)
		if host != "" {
			cfg.Host = host
		}
		if port > 0 {
			cfg.Port = port
		}
	}
	if v, ok := lookup(EnvLedgerKind); ok && v != "" {
		cfg.Ledger.Kind = LedgerKind(strings.ToLower(v))
	}
	if v, ok := lookup(EnvLedgerAuthToken); ok && v != "" {
		cfg.Ledger.AuthToken = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		if cfg.Ledger.Redis == nil {
			cfg.Ledger.Redis = &RedisConfig{}
		}
		cfg.Ledger.Redis.Addr = v
	}
}

// splitHostPort parses "host:port", ":port" or "host"
func splitHostPort(s string) (string, int) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
