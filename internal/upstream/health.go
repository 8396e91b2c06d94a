package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthMonitor pings ledger endpoints and periodically logs their status
type HealthMonitor struct {
	endpoints         []*Endpoint
	checkInterval     time.Duration
	checkTimeout      time.Duration
	statusLogInterval time.Duration
	logger            zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a new HealthMonitor. A zero interval disables
// the corresponding loop.
func NewHealthMonitor(endpoints []*Endpoint, checkInterval, checkTimeout, statusLogInterval time.Duration, logger zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &HealthMonitor{
		endpoints:         endpoints,
		checkInterval:     checkInterval,
		checkTimeout:      checkTimeout,
		statusLogInterval: statusLogInterval,
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start begins health monitoring
func (hm *HealthMonitor) Start() {
	if hm.checkInterval > 0 {
		for _, e := range hm.endpoints {
			hm.wg.Add(1)
			go hm.monitor(e)
		}
	}

	if hm.statusLogInterval > 0 {
		hm.wg.Add(1)
		go hm.logStatus()
	}
}

// Stop stops health monitoring
func (hm *HealthMonitor) Stop() {
	hm.cancel()
	hm.wg.Wait()
}

func (hm *HealthMonitor) monitor(e *Endpoint) {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	hm.Check(e)

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.Check(e)
		}
	}
}

// Check pings one endpoint and updates its health
func (hm *HealthMonitor) Check(e *Endpoint) {
	ctx, cancel := context.WithTimeout(hm.ctx, hm.checkTimeout)
	defer cancel()

	err := e.Ping(ctx)
	if err != nil && hm.ctx.Err() != nil {
		return
	}
	if err != nil {
		hm.logger.Debug().Err(err).Str("endpoint", e.Name()).Msg("health check failed")
	}
	e.SetHealthy(err == nil)
}

func (hm *HealthMonitor) logStatus() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.logCurrentStatus()
		}
	}
}

// logCurrentStatus logs health, breaker state and traffic, resetting the counters
func (hm *HealthMonitor) logCurrentStatus() {
	var healthy, unhealthy []string
	var totalRequests, totalFailures uint64

	event := hm.logger.Info().Dur("interval", hm.statusLogInterval)
	for _, e := range hm.endpoints {
		if e.IsHealthy() {
			healthy = append(healthy, e.Name())
		} else {
			unhealthy = append(unhealthy, e.Name())
		}
		requests, failures := e.Status().SwapCounters()
		totalRequests += requests
		totalFailures += failures
		event = event.Dict(e.Name(), zerolog.Dict().
			Str("breaker", e.Breaker().State().String()).
			Uint64("requests", requests).
			Uint64("failures", failures))
	}

	event.
		Strs("healthy", healthy).
		Strs("unhealthy", unhealthy).
		Uint64("totalRequests", totalRequests).
		Uint64("totalFailures", totalFailures).
		Msg("ledger endpoints status")
}
