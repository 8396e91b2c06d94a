package upstream

import (
	"fmt"
	"sync/atomic"

	"allocbatch/internal/config"
)

// Role represents the endpoint role
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// RoleFromConfig converts config.Role to upstream.Role
func RoleFromConfig(r config.Role) Role {
	switch r {
	case config.RoleFallback:
		return RoleFallback
	default:
		return RoleMain
	}
}

// Status tracks the health and traffic of one endpoint
type Status struct {
	healthy  atomic.Bool
	requests atomic.Uint64
	failures atomic.Uint64
}

// NewStatus creates a new Status
func NewStatus() *Status {
	s := &Status{}
	s.healthy.Store(true)
	return s
}

// IsHealthy returns the health status
func (s *Status) IsHealthy() bool {
	return s.healthy.Load()
}

// SetHealthy sets the health status and reports whether it changed
func (s *Status) SetHealthy(healthy bool) bool {
	return s.healthy.Swap(healthy) != healthy
}

// IncrementRequests counts one HTTP call
func (s *Status) IncrementRequests() {
	s.requests.Add(1)
}

// IncrementFailures counts one failed HTTP call
func (s *Status) IncrementFailures() {
	s.failures.Add(1)
}

// SwapCounters returns the request and failure counts and resets them
func (s *Status) SwapCounters() (requests, failures uint64) {
	return s.requests.Swap(0), s.failures.Swap(0)
}

// HTTPError is returned when the ledger answers with a non-200 status
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status signals a condition that may clear
// on its own: timeouts, throttling and server-side failures.
func (e *HTTPError) Temporary() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}
