package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/config"
	"allocbatch/internal/jsonrpc"
)

// maxErrorBody bounds how much of a failed response body is kept for errors
const maxErrorBody = 512

// PingMethod is answered by every ledger endpoint and used for health checks
const PingMethod = "ledger_ping"

// Endpoint is a single HTTP ledger endpoint speaking JSON-RPC
type Endpoint struct {
	name      string
	url       string
	weight    int
	role      Role
	authToken string

	httpClient *http.Client
	status     *Status
	breaker    *CircuitBreaker
	logger     zerolog.Logger
}

// Config for creating a new Endpoint
type Config struct {
	Name           string
	URL            string
	Weight         int
	Role           Role
	AuthToken      string
	RequestTimeout time.Duration
	Breaker        CircuitBreakerConfig
	Logger         zerolog.Logger
}

// NewEndpoint creates a new Endpoint instance
func NewEndpoint(cfg Config) *Endpoint {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Endpoint{
		name:      cfg.Name,
		url:       cfg.URL,
		weight:    cfg.Weight,
		role:      cfg.Role,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		status:  NewStatus(),
		breaker: NewCircuitBreaker(cfg.Breaker),
		logger:  cfg.Logger.With().Str("endpoint", cfg.Name).Logger(),
	}
}

// NewEndpointFromConfig creates an Endpoint from the ledger config
func NewEndpointFromConfig(ep config.EndpointConfig, ledgerCfg *config.LedgerConfig, logger zerolog.Logger) *Endpoint {
	return NewEndpoint(Config{
		Name:           ep.Name,
		URL:            ep.URL,
		Weight:         ep.Weight,
		Role:           RoleFromConfig(ep.Role),
		AuthToken:      ledgerCfg.AuthToken,
		RequestTimeout: ledgerCfg.GetRequestTimeoutDuration(),
		Breaker:        BreakerConfigFrom(ledgerCfg.CircuitBreaker),
		Logger:         logger,
	})
}

// Name returns the endpoint name
func (e *Endpoint) Name() string {
	return e.name
}

// URL returns the endpoint URL
func (e *Endpoint) URL() string {
	return e.url
}

// Weight returns the weight for load balancing
func (e *Endpoint) Weight() int {
	return e.weight
}

// Role returns the endpoint role
func (e *Endpoint) Role() Role {
	return e.role
}

// IsMain returns true if this is a main endpoint
func (e *Endpoint) IsMain() bool {
	return e.role == RoleMain
}

// IsFallback returns true if this is a fallback endpoint
func (e *Endpoint) IsFallback() bool {
	return e.role == RoleFallback
}

// IsHealthy returns the last checked health status
func (e *Endpoint) IsHealthy() bool {
	return e.status.IsHealthy()
}

// SetHealthy sets the health status
func (e *Endpoint) SetHealthy(healthy bool) {
	if e.status.SetHealthy(healthy) {
		e.logger.Info().Bool("healthy", healthy).Msg("endpoint health changed")
	}
}

// IsAvailable reports whether the endpoint may receive a request now:
// it is healthy and its circuit breaker lets the call through.
func (e *Endpoint) IsAvailable() bool {
	return e.status.IsHealthy() && e.breaker.AllowRequest()
}

// Breaker returns the endpoint circuit breaker
func (e *Endpoint) Breaker() *CircuitBreaker {
	return e.breaker
}

// Status returns the endpoint status counters
func (e *Endpoint) Status() *Status {
	return e.status
}

// Call posts a JSON-RPC batch and returns the responses in the order the
// server sent them. Transport failures and non-200 statuses come back as
// errors; per-request JSON-RPC errors are left in the responses.
func (e *Endpoint) Call(ctx context.Context, requests []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	reqBytes, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	body, err := e.post(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	responses, _, err := jsonrpc.ParseBatchResponse(body)
	if err != nil {
		e.fail()
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}

	e.breaker.RecordSuccess()
	return responses, nil
}

// Ping issues a single ledger_ping request
func (e *Endpoint) Ping(ctx context.Context) error {
	req, err := jsonrpc.NewRequest(PingMethod, nil, jsonrpc.NewIDInt(1))
	if err != nil {
		return err
	}
	reqBytes, err := req.Bytes()
	if err != nil {
		return err
	}

	body, err := e.post(ctx, reqBytes)
	if err != nil {
		return err
	}

	resp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return fmt.Errorf("failed to parse ping response: %w", err)
	}
	if resp.HasError() {
		return resp.Error
	}
	return nil
}

func (e *Endpoint) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	e.status.IncrementRequests()

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil {
			e.fail()
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
		if httpErr.Temporary() {
			e.fail()
		} else {
			e.breaker.RecordSuccess()
		}
		return nil, httpErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.fail()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (e *Endpoint) fail() {
	e.status.IncrementFailures()
	e.breaker.RecordFailure()
}

// Close releases idle connections
func (e *Endpoint) Close() {
	e.httpClient.CloseIdleConnections()
}
