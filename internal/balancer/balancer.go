package balancer

import (
	"sync"

	"allocbatch/internal/upstream"
)

// WeightedRoundRobin implements interleaved weighted round-robin
type WeightedRoundRobin struct {
	provider      EndpointProvider
	mu            sync.Mutex
	currentIndex  int
	currentWeight int
}

// NewWeightedRoundRobin creates a new WeightedRoundRobin balancer
func NewWeightedRoundRobin(provider EndpointProvider) *WeightedRoundRobin {
	return &WeightedRoundRobin{
		provider:     provider,
		currentIndex: -1,
	}
}

// Next returns the next endpoint. Main endpoints are preferred; fallback
// endpoints are used only when no main endpoint is left after exclusion.
func (wrr *WeightedRoundRobin) Next(exclude map[string]bool) *upstream.Endpoint {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	endpoints := wrr.available(exclude)
	switch len(endpoints) {
	case 0:
		return nil
	case 1:
		return endpoints[0]
	}

	step := gcdWeights(endpoints)
	maxWeight := maxWeight(endpoints)
	if wrr.currentIndex >= len(endpoints) {
		wrr.currentIndex = -1
	}

	for {
		wrr.currentIndex = (wrr.currentIndex + 1) % len(endpoints)
		if wrr.currentIndex == 0 {
			wrr.currentWeight -= step
			if wrr.currentWeight <= 0 {
				wrr.currentWeight = maxWeight
			}
		}

		if e := endpoints[wrr.currentIndex]; e.Weight() >= wrr.currentWeight {
			return e
		}
	}
}

// Reset resets the balancer state
func (wrr *WeightedRoundRobin) Reset() {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	wrr.currentIndex = -1
	wrr.currentWeight = 0
}

func (wrr *WeightedRoundRobin) available(exclude map[string]bool) []*upstream.Endpoint {
	main := filterExcluded(wrr.provider.GetHealthyMain(), exclude)
	if len(main) > 0 {
		return main
	}
	return filterExcluded(wrr.provider.GetHealthyFallback(), exclude)
}

func filterExcluded(endpoints []*upstream.Endpoint, exclude map[string]bool) []*upstream.Endpoint {
	if len(exclude) == 0 {
		return endpoints
	}

	result := make([]*upstream.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if !exclude[e.Name()] {
			result = append(result, e)
		}
	}
	return result
}

func gcdWeights(endpoints []*upstream.Endpoint) int {
	result := endpoints[0].Weight()
	for _, e := range endpoints[1:] {
		result = gcd(result, e.Weight())
	}
	if result <= 0 {
		return 1
	}
	return result
}

func maxWeight(endpoints []*upstream.Endpoint) int {
	m := 0
	for _, e := range endpoints {
		if e.Weight() > m {
			m = e.Weight()
		}
	}
	return m
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
