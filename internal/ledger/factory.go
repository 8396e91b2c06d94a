package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/balancer"
	"allocbatch/internal/batcher"
	"allocbatch/internal/config"
	"allocbatch/internal/upstream"
)

// Backend is a built ledger transport plus whatever it needs to shut down
type Backend struct {
	Transport batcher.Transport
	// Ledger is set for in-process backends
	Ledger Ledger

	pool  *upstream.Pool
	redis *GoRedisEvaler
}

// Build creates the backend selected by cfg.Kind
func Build(cfg *config.LedgerConfig, logger zerolog.Logger) (*Backend, error) {
	switch cfg.Kind {
	case config.LedgerMemory, "":
		mem, err := NewMemoryLedger(cfg.GetFloorCents(), DefaultCommitCacheSize)
		if err != nil {
			return nil, err
		}
		logger.Info().Int64("floorCents", cfg.GetFloorCents()).Msg("using in-memory ledger")
		return &Backend{Transport: NewLocalTransport(mem), Ledger: mem}, nil

	case config.LedgerRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis ledger requires a redis section")
		}
		client := NewGoRedisEvaler(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable yet, continuing")
		}
		rl := NewRedisLedger(client, cfg.Redis.GetMarkerTTLDuration(), cfg.GetFloorCents())
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis ledger")
		return &Backend{Transport: NewLocalTransport(rl), Ledger: rl, redis: client}, nil

	case config.LedgerHTTP:
		pool := upstream.NewPool(cfg, logger)
		transport := NewHTTPTransport(balancer.NewWeightedRoundRobin(pool), logger)
		pool.Start()
		logger.Info().Int("endpoints", pool.Count()).Msg("using http ledger")
		return &Backend{Transport: transport, pool: pool}, nil
	}
	return nil, fmt.Errorf("unknown ledger kind %q", cfg.Kind)
}

// Balance reads the confirmed allocation of a target from whichever ledger
// the backend talks to
func (b *Backend) Balance(ctx context.Context, targetKey string) (int64, error) {
	if b.Ledger != nil {
		return b.Ledger.Balance(ctx, targetKey)
	}
	if t, ok := b.Transport.(*HTTPTransport); ok {
		return t.Balance(ctx, targetKey)
	}
	return 0, fmt.Errorf("backend cannot read balances")
}

// Close releases connections held by the backend
func (b *Backend) Close() error {
	if b.pool != nil {
		b.pool.Stop()
	}
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
