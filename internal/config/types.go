package config

import "time"

// Role defines the ledger endpoint role type
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// LedgerKind selects the transport used to reach the ledger
type LedgerKind string

const (
	LedgerMemory LedgerKind = "memory"
	LedgerHTTP   LedgerKind = "http"
	LedgerRedis  LedgerKind = "redis"
)

// Config represents the main configuration structure
type Config struct {
	Host                 string         `json:"host" yaml:"host"`
	Port                 int            `json:"port" yaml:"port"`
	LogLevel             string         `json:"logLevel" yaml:"logLevel"`
	MaxBodySize          int64          `json:"maxBodySize" yaml:"maxBodySize"`
	IdempotencyCacheSize int            `json:"idempotencyCacheSize" yaml:"idempotencyCacheSize"`
	IdempotencyTTL       int            `json:"idempotencyTTL" yaml:"idempotencyTTL"` // seconds
	RateLimitRPS         float64        `json:"rateLimitRPS" yaml:"rateLimitRPS"`     // 0 disables limiting
	RateLimitBurst       int            `json:"rateLimitBurst" yaml:"rateLimitBurst"`
	Batching             BatchingConfig `json:"batching" yaml:"batching"`
	Ledger               LedgerConfig   `json:"ledger" yaml:"ledger"`
	Metrics              *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Events               *EventsConfig  `json:"events,omitempty" yaml:"events,omitempty"`
}

// BatchingConfig controls the allocation batcher. Durations are in ms.
type BatchingConfig struct {
	MaxBatchSize     int     `json:"maxBatchSize" yaml:"maxBatchSize"`
	MaxWaitTime      *int    `json:"maxWaitTime,omitempty" yaml:"maxWaitTime,omitempty"` // 0 flushes on the next tick
	MinWaitTime      *int    `json:"minWaitTime,omitempty" yaml:"minWaitTime,omitempty"`
	AdaptiveDelay    *bool   `json:"adaptiveDelay,omitempty" yaml:"adaptiveDelay,omitempty"`
	EnableCoalescing *bool   `json:"enableCoalescing,omitempty" yaml:"enableCoalescing,omitempty"`
	MaxRetries       *int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	BaseRetryDelay   int     `json:"baseRetryDelay" yaml:"baseRetryDelay"`
	MaxRetryDelay    int     `json:"maxRetryDelay" yaml:"maxRetryDelay"`
	MaxAbsDeltaCents int64   `json:"maxAbsDeltaCents" yaml:"maxAbsDeltaCents"`
	ActivityWindow   int     `json:"activityWindow" yaml:"activityWindow"`
	HighActivityRate float64 `json:"highActivityRate" yaml:"highActivityRate"` // submissions per second
	TransportTimeout int     `json:"transportTimeout" yaml:"transportTimeout"`
}

// LedgerConfig selects and configures the ledger transport
type LedgerConfig struct {
	Kind                LedgerKind            `json:"kind" yaml:"kind"`
	Endpoints           []EndpointConfig      `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	AuthToken           string                `json:"authToken,omitempty" yaml:"authToken,omitempty"`
	RequestTimeout      int                   `json:"requestTimeout" yaml:"requestTimeout"`           // ms
	HealthCheckInterval int                   `json:"healthCheckInterval" yaml:"healthCheckInterval"` // ms, 0 disables probing
	StatusLogInterval   int                   `json:"statusLogInterval" yaml:"statusLogInterval"`     // ms, 0 disables status logs
	CircuitBreaker      *CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	Redis               *RedisConfig          `json:"redis,omitempty" yaml:"redis,omitempty"`
	FloorCents          *int64                `json:"floorCents,omitempty" yaml:"floorCents,omitempty"` // lowest allowed allocation
}

// EndpointConfig represents a single HTTP ledger endpoint
type EndpointConfig struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	Weight int    `json:"weight" yaml:"weight"`
	Role   Role   `json:"role" yaml:"role"`
}

// CircuitBreakerConfig represents per-endpoint circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	FailureThreshold    int  `json:"failureThreshold" yaml:"failureThreshold"`
	RecoveryTimeout     int  `json:"recoveryTimeout" yaml:"recoveryTimeout"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests" yaml:"halfOpenMaxRequests"`
}

// RedisConfig configures the redis-backed ledger
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db" yaml:"db"`
	MarkerTTL int    `json:"markerTTL" yaml:"markerTTL"` // seconds
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// EventsConfig toggles the websocket event stream
type EventsConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	BufferSize int  `json:"bufferSize" yaml:"bufferSize"`
}

// Default values
const (
	DefaultHost                 = "localhost"
	DefaultPort                 = 3000
	DefaultLogLevel             = "info"
	DefaultMaxBodySize          = int64(1 << 20)
	DefaultIdempotencyCacheSize = 10000
	DefaultIdempotencyTTL       = 600 // seconds
	DefaultRateLimitBurst       = 20

	DefaultMaxBatchSize     = 50
	DefaultMaxWaitTime      = 1000 // ms
	DefaultMinWaitTime      = 100  // ms
	DefaultAdaptiveDelay    = true
	DefaultEnableCoalescing = true
	DefaultMaxRetries       = 3
	DefaultBaseRetryDelay   = 200   // ms
	DefaultMaxRetryDelay    = 30000 // ms
	DefaultMaxAbsDeltaCents = int64(100_000_000)
	DefaultActivityWindow   = 1000 // ms
	DefaultHighActivityRate = 10.0
	DefaultTransportTimeout = 10000 // ms

	DefaultLedgerKind       = LedgerMemory
	DefaultRequestTimeout   = 5000 // ms
	DefaultEndpointWeight   = 1
	DefaultEndpointRole     = RoleMain
	DefaultRedisAddr        = "127.0.0.1:6379"
	DefaultRedisMarkerTTL   = 86400 // seconds
	DefaultMetricsPath      = "/metrics"
	DefaultEventsBufferSize = 256
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30000 // ms
	DefaultHalfOpenRequests = 2

	// MaxActivitySamples bounds the activity window ring; highActivityRate
	// times activityWindow must fit in it
	MaxActivitySamples = 1 << 16
)

// GetIdempotencyTTLDuration returns idempotency cache TTL as time.Duration
func (c *Config) GetIdempotencyTTLDuration() time.Duration {
	return time.Duration(c.IdempotencyTTL) * time.Second
}

// IsMetricsEnabled returns true unless metrics were explicitly disabled
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics == nil || c.Metrics.Enabled
}

// GetMetricsPath returns the path the prometheus handler is mounted on
func (c *Config) GetMetricsPath() string {
	if c.Metrics == nil || c.Metrics.Path == "" {
		return DefaultMetricsPath
	}
	return c.Metrics.Path
}

// IsEventsEnabled returns true if the websocket event stream is configured and enabled
func (c *Config) IsEventsEnabled() bool {
	return c.Events != nil && c.Events.Enabled
}

// GetEventsBufferSize returns the per-client event buffer size
func (c *Config) GetEventsBufferSize() int {
	if c.Events == nil || c.Events.BufferSize <= 0 {
		return DefaultEventsBufferSize
	}
	return c.Events.BufferSize
}

// GetMaxWaitTime returns maxWaitTime in ms. Zero is a valid explicit value.
func (c *BatchingConfig) GetMaxWaitTime() int {
	if c.MaxWaitTime == nil {
		return DefaultMaxWaitTime
	}
	return *c.MaxWaitTime
}

// GetMinWaitTime returns minWaitTime in ms, never above maxWaitTime
func (c *BatchingConfig) GetMinWaitTime() int {
	maxWait := c.GetMaxWaitTime()
	minWait := DefaultMinWaitTime
	if c.MinWaitTime != nil {
		minWait = *c.MinWaitTime
	}
	if minWait > maxWait {
		return maxWait
	}
	return minWait
}

// GetMaxWaitDuration returns the maximum wait window as time.Duration
func (c *BatchingConfig) GetMaxWaitDuration() time.Duration {
	return time.Duration(c.GetMaxWaitTime()) * time.Millisecond
}

// GetMinWaitDuration returns the minimum wait window as time.Duration
func (c *BatchingConfig) GetMinWaitDuration() time.Duration {
	return time.Duration(c.GetMinWaitTime()) * time.Millisecond
}

// GetBaseRetryDelayDuration returns the base retry delay as time.Duration
func (c *BatchingConfig) GetBaseRetryDelayDuration() time.Duration {
	return time.Duration(c.BaseRetryDelay) * time.Millisecond
}

// GetMaxRetryDelayDuration returns the retry delay cap as time.Duration
func (c *BatchingConfig) GetMaxRetryDelayDuration() time.Duration {
	return time.Duration(c.MaxRetryDelay) * time.Millisecond
}

// GetActivityWindowDuration returns the activity window as time.Duration
func (c *BatchingConfig) GetActivityWindowDuration() time.Duration {
	return time.Duration(c.ActivityWindow) * time.Millisecond
}

// GetTransportTimeoutDuration returns the per-attempt transport timeout
func (c *BatchingConfig) GetTransportTimeoutDuration() time.Duration {
	return time.Duration(c.TransportTimeout) * time.Millisecond
}

// IsAdaptiveDelay returns the adaptiveDelay flag, defaulting to true
func (c *BatchingConfig) IsAdaptiveDelay() bool {
	if c.AdaptiveDelay == nil {
		return DefaultAdaptiveDelay
	}
	return *c.AdaptiveDelay
}

// IsCoalescing returns the enableCoalescing flag, defaulting to true
func (c *BatchingConfig) IsCoalescing() bool {
	if c.EnableCoalescing == nil {
		return DefaultEnableCoalescing
	}
	return *c.EnableCoalescing
}

// GetMaxRetries returns the retry budget. Zero is a valid explicit value.
func (c *BatchingConfig) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// GetRequestTimeoutDuration returns the HTTP ledger request timeout
func (c *LedgerConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHealthCheckIntervalDuration returns the endpoint health check interval
func (c *LedgerConfig) GetHealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// GetStatusLogIntervalDuration returns the endpoint status log interval
func (c *LedgerConfig) GetStatusLogIntervalDuration() time.Duration {
	return time.Duration(c.StatusLogInterval) * time.Millisecond
}

// GetFloorCents returns the lowest allowed allocation, 0 by default
func (c *LedgerConfig) GetFloorCents() int64 {
	if c.FloorCents == nil {
		return 0
	}
	return *c.FloorCents
}

// IsCircuitBreakerEnabled returns true if circuit breaking is configured and enabled
func (c *LedgerConfig) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetRecoveryTimeoutDuration returns the breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}

// GetMarkerTTLDuration returns the redis commit marker TTL as time.Duration
func (c *RedisConfig) GetMarkerTTLDuration() time.Duration {
	return time.Duration(c.MarkerTTL) * time.Second
}

// Bool returns a pointer to b, for building configs in code
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for building configs in code
func Int(n int) *int { return &n }

// Int64 returns a pointer to n, for building configs in code
func Int64(n int64) *int64 { return &n }
