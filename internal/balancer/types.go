package balancer

import "allocbatch/internal/upstream"

// Selector picks the next endpoint, skipping names in exclude.
// It returns nil when nothing is available.
type Selector interface {
	Next(exclude map[string]bool) *upstream.Endpoint
}

// EndpointProvider provides access to endpoints that can take a request
type EndpointProvider interface {
	// GetHealthyMain returns available main endpoints
	GetHealthyMain() []*upstream.Endpoint

	// GetHealthyFallback returns available fallback endpoints
	GetHealthyFallback() []*upstream.Endpoint
}
