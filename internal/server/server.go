package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/batcher"
	"allocbatch/internal/cache"
	"allocbatch/internal/config"
	"allocbatch/internal/events"
	"allocbatch/internal/ledger"
	"allocbatch/internal/metrics"
)

// Server wires the batching engine to its ledger backend and serves the HTTP API
type Server struct {
	cfg        *config.Config
	engine     *batcher.Engine
	backend    *ledger.Backend
	metrics    *metrics.Collector
	hub        *events.Hub
	idemCache  cache.Cache
	idem       *cache.Idempotency
	limiter    *limiterPool
	httpServer *http.Server
	listener   net.Listener
	closing    atomic.Bool
	logger     zerolog.Logger
}

// New builds the ledger backend and the engine. hub may be nil when the
// event stream is disabled.
func New(cfg *config.Config, hub *events.Hub, logger zerolog.Logger) (*Server, error) {
	backend, err := ledger.Build(&cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger backend: %w", err)
	}

	engine, err := batcher.New(backend.Transport, cfg.Batching, logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create batcher: %w", err)
	}

	var collector *metrics.Collector
	if cfg.IsMetricsEnabled() {
		collector = metrics.New()
		engine.SetObserver(collector)
		logger.Info().Str("path", cfg.GetMetricsPath()).Msg("metrics enabled")
	} else {
		logger.Info().Msg("metrics disabled")
	}

	var idemCache cache.Cache = cache.NoopCache{}
	if cfg.IdempotencyCacheSize > 0 {
		mc, err := cache.NewMemoryCache(cfg.IdempotencyCacheSize, cfg.GetIdempotencyTTLDuration())
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
		}
		idemCache = mc
	}

	var limiter *limiterPool
	if cfg.RateLimitRPS > 0 {
		limiter = newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info().
			Float64("rps", cfg.RateLimitRPS).
			Int("burst", cfg.RateLimitBurst).
			Msg("submission rate limit enabled")
	}

	batcher.SetDefault(engine)

	return &Server{
		cfg:       cfg,
		engine:    engine,
		backend:   backend,
		metrics:   collector,
		hub:       hub,
		idemCache: idemCache,
		idem:      cache.NewIdempotency(idemCache),
		limiter:   limiter,
		logger:    logger.With().Str("component", "server").Logger(),
	}, nil
}

// Engine returns the batching engine
func (s *Server) Engine() *batcher.Engine {
	return s.engine
}

// Backend returns the ledger backend
func (s *Server) Backend() *ledger.Backend {
	return s.backend
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("ledger", string(s.cfg.Ledger.Kind)).
		Bool("events", s.hub != nil).
		Msg("server started")
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the engine and shuts everything down. Pending allocations are
// flushed first; what cannot be delivered before ctx ends is rejected.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")
	s.closing.Store(true)

	var errs []error

	if err := s.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("batcher close: %w", err))
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close: %w", err))
	}
	s.idemCache.Close()

	if batcher.Default() == s.engine {
		batcher.SetDefault(nil)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}
