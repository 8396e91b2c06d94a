package upstream

import (
	"github.com/rs/zerolog"

	"allocbatch/internal/config"
)

// Pool holds the configured ledger endpoints. The set is fixed at startup.
type Pool struct {
	endpoints []*Endpoint
	monitor   *HealthMonitor
	logger    zerolog.Logger
}

// NewPool creates a Pool from the ledger configuration
func NewPool(cfg *config.LedgerConfig, logger zerolog.Logger) *Pool {
	poolLogger := logger.With().Str("component", "ledger-pool").Logger()

	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, epCfg := range cfg.Endpoints {
		endpoints = append(endpoints, NewEndpointFromConfig(epCfg, cfg, poolLogger))
	}

	return &Pool{
		endpoints: endpoints,
		monitor: NewHealthMonitor(
			endpoints,
			cfg.GetHealthCheckIntervalDuration(),
			cfg.GetRequestTimeoutDuration(),
			cfg.GetStatusLogIntervalDuration(),
			poolLogger,
		),
		logger: poolLogger,
	}
}

// NewPoolFromEndpoints wraps already built endpoints without health probing
func NewPoolFromEndpoints(endpoints []*Endpoint, logger zerolog.Logger) *Pool {
	return &Pool{
		endpoints: endpoints,
		monitor:   NewHealthMonitor(endpoints, 0, 0, 0, logger),
		logger:    logger,
	}
}

// Start starts the health monitor
func (p *Pool) Start() {
	p.monitor.Start()
	p.logger.Info().
		Int("endpoints", len(p.endpoints)).
		Msg("ledger pool started")
}

// Stop stops the monitor and closes idle connections
func (p *Pool) Stop() {
	p.monitor.Stop()
	for _, e := range p.endpoints {
		e.Close()
	}
	p.logger.Info().Msg("ledger pool stopped")
}

// GetAll returns all endpoints
func (p *Pool) GetAll() []*Endpoint {
	result := make([]*Endpoint, len(p.endpoints))
	copy(result, p.endpoints)
	return result
}

// GetHealthyMain returns main endpoints that can take a request
func (p *Pool) GetHealthyMain() []*Endpoint {
	return p.available(RoleMain)
}

// GetHealthyFallback returns fallback endpoints that can take a request
func (p *Pool) GetHealthyFallback() []*Endpoint {
	return p.available(RoleFallback)
}

// GetForRequest returns main endpoints if any are available, otherwise fallback
func (p *Pool) GetForRequest() []*Endpoint {
	main := p.GetHealthyMain()
	if len(main) > 0 {
		return main
	}
	return p.GetHealthyFallback()
}

// GetByName returns an endpoint by name
func (p *Pool) GetByName(name string) *Endpoint {
	for _, e := range p.endpoints {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// Count returns the total number of endpoints
func (p *Pool) Count() int {
	return len(p.endpoints)
}

func (p *Pool) available(role Role) []*Endpoint {
	result := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.Role() == role && e.IsAvailable() {
			result = append(result, e)
		}
	}
	return result
}
