package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis emulates the two ledger scripts against plain maps
type fakeRedis struct {
	allocs  map[string]int64
	markers map[string]int64
	ttls    []int64
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{allocs: map[string]int64{}, markers: map[string]int64{}}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	switch script {
	case applyScript:
		delta, ttl, floor := args[0].(int64), args[1].(int64), args[2].(int64)
		f.ttls = append(f.ttls, ttl)
		if prior, ok := f.markers[keys[1]]; ok {
			return []interface{}{int64(1), prior}, nil
		}
		current := f.allocs[keys[0]]
		if current+delta < floor {
			return []interface{}{int64(-1), current}, nil
		}
		f.allocs[keys[0]] = current + delta
		f.markers[keys[1]] = current + delta
		return []interface{}{int64(0), current + delta}, nil
	case balanceScript:
		cents, ok := f.allocs[keys[0]]
		if !ok {
			return []interface{}{int64(0), int64(0)}, nil
		}
		return []interface{}{int64(1), cents}, nil
	}
	return nil, errors.New("unknown script")
}

func TestRedisLedger_Keys(t *testing.T) {
	assert.Equal(t, "alloc:user:1", AllocationKey("user:1"))
	assert.Equal(t, "alloc-commit:k:c", CommitMarkerKey("k", "c"))
}

func TestRedisLedger_DefaultTTL(t *testing.T) {
	r := NewRedisLedger(newFakeRedis(), 0, 0)
	assert.Equal(t, 24*time.Hour, r.markerTTL)
}

func TestRedisLedger_ApplyOnce(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedisLedger(fake, time.Hour, 0)
	ctx := context.Background()

	res, err := r.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 40, CommitID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, ApplyResult{TargetKey: "a", AllocatedCents: 40}, res)

	res, err = r.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 40, CommitID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.AllocatedCents)
	assert.Equal(t, int64(40), fake.allocs[AllocationKey("a")])
	assert.Equal(t, []int64{3600, 3600}, fake.ttls)

	cents, err := r.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(40), cents)
}

func TestRedisLedger_Rejections(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedisLedger(fake, time.Hour, 0)
	ctx := context.Background()

	_, err := r.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: -1, CommitID: "c1"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = r.Balance(ctx, "a")
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = r.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 1})
	assert.ErrorIs(t, err, ErrInvalidParams)

	fake.err = errors.New("connection refused")
	_, err = r.Apply(ctx, ApplyParams{TargetKey: "a", DeltaCents: 1, CommitID: "c2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit=c2")
}

func TestParsePair(t *testing.T) {
	_, _, err := parsePair("nope")
	assert.Error(t, err)
	_, _, err = parsePair([]interface{}{int64(1), "2"})
	assert.Error(t, err)
	a, b, err := parsePair([]interface{}{int64(1), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(2), b)
}
