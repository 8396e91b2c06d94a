package ledger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocbatch/internal/config"
)

func TestBuild(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		b, err := Build(&config.LedgerConfig{Kind: config.LedgerMemory, FloorCents: config.Int64(-100)}, zerolog.Nop())
		require.NoError(t, err)
		defer b.Close()

		assert.IsType(t, &LocalTransport{}, b.Transport)
		mem, ok := b.Ledger.(*MemoryLedger)
		require.True(t, ok)
		assert.Equal(t, int64(-100), mem.floor)

		mem.Seed("a", 5)
		cents, err := b.Balance(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, int64(5), cents)
	})

	t.Run("http", func(t *testing.T) {
		m, srv := newLedgerServer(t, 0)
		m.Seed("a", 9)
		b, err := Build(&config.LedgerConfig{
			Kind:           config.LedgerHTTP,
			AuthToken:      "token",
			RequestTimeout: 1000,
			Endpoints:      []config.EndpointConfig{{Name: "one", URL: srv.URL, Weight: 1, Role: config.RoleMain}},
		}, zerolog.Nop())
		require.NoError(t, err)
		defer b.Close()

		assert.IsType(t, &HTTPTransport{}, b.Transport)
		assert.Nil(t, b.Ledger)
		cents, err := b.Balance(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, int64(9), cents)
	})

	t.Run("redis", func(t *testing.T) {
		b, err := Build(&config.LedgerConfig{
			Kind:  config.LedgerRedis,
			Redis: &config.RedisConfig{Addr: "127.0.0.1:1", MarkerTTL: 60},
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, &RedisLedger{}, b.Ledger)
		assert.NoError(t, b.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Build(&config.LedgerConfig{Kind: "carrier-pigeon"}, zerolog.Nop())
		assert.Error(t, err)
	})
}
