package ledger

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCommitCacheSize bounds how many commit IDs a MemoryLedger remembers
const DefaultCommitCacheSize = 100_000

// MemoryLedger is an in-process ledger. Applied commit IDs are kept in an
// LRU so a retried commit returns its first result instead of applying twice.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	floor    int64
	commits  *lru.Cache[string, ApplyResult]
}

// NewMemoryLedger creates a ledger that rejects changes taking an allocation below floor
func NewMemoryLedger(floor int64, commitCacheSize int) (*MemoryLedger, error) {
	if commitCacheSize <= 0 {
		commitCacheSize = DefaultCommitCacheSize
	}
	commits, err := lru.New[string, ApplyResult](commitCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit cache: %w", err)
	}
	return &MemoryLedger{
		balances: make(map[string]int64),
		floor:    floor,
		commits:  commits,
	}, nil
}

// Seed sets the allocation of a target directly
func (m *MemoryLedger) Seed(targetKey string, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[targetKey] = cents
}

// Apply adds the change to the target allocation
func (m *MemoryLedger) Apply(ctx context.Context, p ApplyParams) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	if err := validateParams(p); err != nil {
		return ApplyResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.commits.Get(p.CommitID); ok {
		return prior, nil
	}

	next := m.balances[p.TargetKey] + p.DeltaCents
	if next < m.floor {
		return ApplyResult{}, fmt.Errorf("%w: %s would drop to %d cents", ErrInsufficientBalance, p.TargetKey, next)
	}
	m.balances[p.TargetKey] = next

	res := ApplyResult{TargetKey: p.TargetKey, AllocatedCents: next}
	m.commits.Add(p.CommitID, res)
	return res, nil
}

// Balance returns the allocation of a target
func (m *MemoryLedger) Balance(ctx context.Context, targetKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cents, ok := m.balances[targetKey]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, targetKey)
	}
	return cents, nil
}

// Snapshot returns a copy of all allocations
func (m *MemoryLedger) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out
}
