package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocbatch/internal/batcher"
)

func TestMemoryLedger_ApplyAndDedup(t *testing.T) {
	m, err := NewMemoryLedger(0, 16)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := m.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 500, CommitID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.AllocatedCents)

	res, err = m.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 500, CommitID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.AllocatedCents)

	res, err = m.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: -200, CommitID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.AllocatedCents)

	cents, err := m.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(300), cents)
	assert.Equal(t, map[string]int64{"a": 300}, m.Snapshot())
}

func TestMemoryLedger_Floor(t *testing.T) {
	m, err := NewMemoryLedger(0, 0)
	require.NoError(t, err)
	m.Seed("a", 100)

	_, err = m.Apply(context.Background(), ApplyParams{TargetKey: "a", DeltaCents: -101, CommitID: "c1"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	cents, _ := m.Balance(context.Background(), "a")
	assert.Equal(t, int64(100), cents)
}

func TestMemoryLedger_Errors(t *testing.T) {
	m, err := NewMemoryLedger(0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 1})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = m.Balance(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestLocalTransport_PerEntryOutcomes(t *testing.T) {
	m, err := NewMemoryLedger(0, 0)
	require.NoError(t, err)
	tr := NewLocalTransport(m)

	results, err := tr.Send(context.Background(), []batcher.Entry{
		{TargetKey: "a", NetDeltaCents: 100, CommitID: "c1"},
		{TargetKey: "b", NetDeltaCents: -5, CommitID: "c2"},
		{TargetKey: "c", NetDeltaCents: 7, CommitID: "c3"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, int64(100), results[0].AllocatedCents)

	assert.ErrorIs(t, results[1].Err, batcher.ErrRejected)
	assert.ErrorIs(t, results[1].Err, ErrInsufficientBalance)
	assert.False(t, batcher.IsRetryable(results[1].Err))

	assert.NoError(t, results[2].Err)
	assert.Equal(t, "c", results[2].TargetKey)
}

func TestLocalTransport_WithEngine(t *testing.T) {
	m, err := NewMemoryLedger(0, 0)
	require.NoError(t, err)
	m.Seed("a", 1000)

	e, err := batcher.New(NewLocalTransport(m), testBatching(), zerologNop())
	require.NoError(t, err)
	defer func() { _ = e.Close(context.Background()) }()

	first := e.SubmitAsync("a", 250, batcher.PriorityNormal, "slider")
	second := e.SubmitAsync("a", -50, batcher.PriorityNormal, "slider")
	e.Flush()

	for _, ch := range []<-chan batcher.Outcome{first, second} {
		out := <-ch
		require.NoError(t, out.Err)
		assert.Equal(t, int64(1200), out.Result.AllocatedCents)
		assert.Equal(t, int64(200), out.Result.NetDeltaCents)
	}

	_, err = e.Submit(context.Background(), "a", -5000, batcher.PriorityHigh, "keyboard")
	assert.ErrorIs(t, err, batcher.ErrRejected)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}
