package batcher

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority controls how a delta is scheduled
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

// String returns the wire name of the priority
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority converts a wire name to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// Delta is a single caller's requested change
type Delta struct {
	TargetKey  string
	DeltaCents int64
	Priority   Priority
	Source     string
}

// Entry is what the transport receives for one pending entry.
// CommitID is stable across retries of the same entry.
type Entry struct {
	TargetKey     string
	NetDeltaCents int64
	CommitID      string
	Sources       []string
}

// EntryResult is the ledger outcome for the entry at the same index.
// A non-nil Err settles only that entry.
type EntryResult struct {
	TargetKey      string
	AllocatedCents int64
	Err            error
}

// Transport delivers a batch of net changes to the ledger.
// Implementations must not retain the entries slice after returning.
type Transport interface {
	Send(ctx context.Context, entries []Entry) ([]EntryResult, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, entries []Entry) ([]EntryResult, error)

// Send calls f
func (f TransportFunc) Send(ctx context.Context, entries []Entry) ([]EntryResult, error) {
	return f(ctx, entries)
}

// Result is what a caller receives once its entry is confirmed
type Result struct {
	TargetKey      string `json:"targetKey"`
	NetDeltaCents  int64  `json:"netDeltaCents"`
	AllocatedCents int64  `json:"allocatedCents"`
	CommitID       string `json:"commitId"`
	Attempts       int    `json:"attempts"`
	Coalesced      int    `json:"coalesced"`
}

// Outcome settles one waiter. Exactly one of Result and Err is set.
type Outcome struct {
	Result *Result
	Err    error
}

// waiter is a one-shot result sink for a single submitted delta
type waiter struct {
	ch chan Outcome
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan Outcome, 1)}
}

// PendingEntry accumulates deltas for one target key until flushed
type PendingEntry struct {
	TargetKey       string
	NetDeltaCents   int64
	FirstEnqueuedAt time.Time
	Sources         []string

	commitID string
	waiters  []*waiter
}

// Count returns the number of deltas folded into the entry
func (e *PendingEntry) Count() int {
	return len(e.waiters)
}

func (e *PendingEntry) addSource(source string) {
	if source == "" {
		return
	}
	for _, s := range e.Sources {
		if s == source {
			return
		}
	}
	e.Sources = append(e.Sources, source)
}

// settle resolves every waiter of the entry in enqueue order
func (e *PendingEntry) settle(out Outcome) {
	for _, w := range e.waiters {
		w.ch <- out
	}
	e.waiters = nil
}

func (e *PendingEntry) toEntry() Entry {
	sources := make([]string, len(e.Sources))
	copy(sources, e.Sources)
	return Entry{
		TargetKey:     e.TargetKey,
		NetDeltaCents: e.NetDeltaCents,
		CommitID:      e.commitID,
		Sources:       sources,
	}
}

// Batch is an immutable snapshot of entries taken at flush time.
// A retry is a new Batch with Attempt+1 and a subset of the same entries.
type Batch struct {
	Entries []*PendingEntry
	Attempt int
	Reason  FlushReason
}

// next returns the retry batch for the given entries
func (b Batch) next(entries []*PendingEntry) Batch {
	return Batch{
		Entries: entries,
		Attempt: b.Attempt + 1,
		Reason:  FlushRetry,
	}
}

func (b Batch) wire() []Entry {
	out := make([]Entry, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.toEntry()
	}
	return out
}

// FlushReason records what triggered a flush
type FlushReason string

const (
	FlushTimer    FlushReason = "timer"
	FlushSize     FlushReason = "size"
	FlushPriority FlushReason = "priority"
	FlushManual   FlushReason = "manual"
	FlushRetry    FlushReason = "retry"
	FlushClose    FlushReason = "close"
)

// State is the scheduler state
type State string

const (
	StateIdle     State = "idle"
	StateWaiting  State = "waiting"
	StateFlushing State = "flushing"
	StateBackoff  State = "backoff"
)
