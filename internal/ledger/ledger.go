// Package ledger connects the batching engine to the allocation ledger.
//
// Three backends implement batcher.Transport:
//
//   - HTTPTransport sends each batch as one JSON-RPC batch call to a remote
//     ledger, balancing over main and fallback endpoints.
//   - a Ledger (MemoryLedger or RedisLedger) wrapped by NewLocalTransport.
//
// Every backend applies a commit at most once: re-sending an entry with a
// commit ID the ledger has already seen returns the first outcome.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"allocbatch/internal/batcher"
)

// JSON-RPC methods served by a ledger
const (
	MethodApply      = "ledger_applyAllocationDelta"
	MethodGetBalance = "ledger_getAllocation"
	MethodPing       = "ledger_ping"
)

var (
	// ErrInsufficientBalance is returned when a change would take an
	// allocation below the ledger floor
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownTarget is returned when a target has no allocation record
	ErrUnknownTarget = errors.New("unknown target")
	// ErrInvalidParams is returned for malformed changes
	ErrInvalidParams = errors.New("invalid params")
)

// ApplyParams is one net change sent to the ledger
type ApplyParams struct {
	TargetKey  string   `json:"targetKey"`
	DeltaCents int64    `json:"deltaCents"`
	CommitID   string   `json:"commitId"`
	Sources    []string `json:"sources,omitempty"`
}

// ApplyResult is the confirmed allocation after a change
type ApplyResult struct {
	TargetKey      string `json:"targetKey"`
	AllocatedCents int64  `json:"allocatedCents"`
}

// BalanceParams asks for the allocation of one target
type BalanceParams struct {
	TargetKey string `json:"targetKey"`
}

// Ledger applies allocation changes idempotently by commit ID
type Ledger interface {
	Apply(ctx context.Context, p ApplyParams) (ApplyResult, error)
	Balance(ctx context.Context, targetKey string) (int64, error)
}

func paramsFromEntry(e batcher.Entry) ApplyParams {
	return ApplyParams{
		TargetKey:  e.TargetKey,
		DeltaCents: e.NetDeltaCents,
		CommitID:   e.CommitID,
		Sources:    e.Sources,
	}
}

// classify maps ledger errors onto the engine's retry semantics
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientBalance):
		return batcher.Terminal("insufficient_balance", err)
	case errors.Is(err, ErrUnknownTarget):
		return batcher.Terminal("unknown_target", err)
	case errors.Is(err, ErrInvalidParams):
		return batcher.Terminal("invalid_params", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return batcher.Retryable("ledger", err)
}

// LocalTransport delivers batches to an in-process Ledger
type LocalTransport struct {
	ledger Ledger
}

// NewLocalTransport wraps l as a batcher.Transport
func NewLocalTransport(l Ledger) *LocalTransport {
	return &LocalTransport{ledger: l}
}

// Send applies each entry in order. A failed entry does not stop the rest.
func (t *LocalTransport) Send(ctx context.Context, entries []batcher.Entry) ([]batcher.EntryResult, error) {
	results := make([]batcher.EntryResult, len(entries))
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := t.ledger.Apply(ctx, paramsFromEntry(e))
		if err != nil {
			results[i] = batcher.EntryResult{TargetKey: e.TargetKey, Err: classify(err)}
			continue
		}
		results[i] = batcher.EntryResult{TargetKey: res.TargetKey, AllocatedCents: res.AllocatedCents}
	}
	return results, nil
}

func validateParams(p ApplyParams) error {
	if p.TargetKey == "" {
		return fmt.Errorf("%w: targetKey is required", ErrInvalidParams)
	}
	if p.CommitID == "" {
		return fmt.Errorf("%w: commitId is required", ErrInvalidParams)
	}
	return nil
}
