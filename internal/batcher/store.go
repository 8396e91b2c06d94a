package batcher

import (
	"time"

	"github.com/google/uuid"
)

// PendingStore holds entries accumulated since the last flush.
// It is not safe for concurrent use; the Engine guards it with its mutex.
type PendingStore struct {
	coalesce bool
	entries  []*PendingEntry
	byKey    map[string]*PendingEntry
}

// NewPendingStore creates an empty store. With coalesce false every delta
// becomes its own entry.
func NewPendingStore(coalesce bool) *PendingStore {
	return &PendingStore{
		coalesce: coalesce,
		byKey:    make(map[string]*PendingEntry),
	}
}

// Enqueue folds d into the store and returns the waiter for its outcome.
// The second return value is true when d was merged into an existing entry.
func (s *PendingStore) Enqueue(d Delta, now time.Time) (*waiter, bool) {
	w := newWaiter()

	if s.coalesce {
		if e, ok := s.byKey[d.TargetKey]; ok {
			e.NetDeltaCents += d.DeltaCents
			e.addSource(d.Source)
			e.waiters = append(e.waiters, w)
			return w, true
		}
	}

	e := &PendingEntry{
		TargetKey:       d.TargetKey,
		NetDeltaCents:   d.DeltaCents,
		FirstEnqueuedAt: now,
		commitID:        uuid.NewString(),
		waiters:         []*waiter{w},
	}
	e.addSource(d.Source)

	if s.coalesce {
		s.byKey[d.TargetKey] = e
		s.entries = append(s.entries, e)
		return w, false
	}

	// keep same-key entries adjacent so they travel together
	idx := len(s.entries)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].TargetKey == d.TargetKey {
			idx = i + 1
			break
		}
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
	return w, false
}

// NetFor returns the projected net delta pending for key
func (s *PendingStore) NetFor(key string) int64 {
	if s.coalesce {
		if e, ok := s.byKey[key]; ok {
			return e.NetDeltaCents
		}
		return 0
	}
	var net int64
	for _, e := range s.entries {
		if e.TargetKey == key {
			net += e.NetDeltaCents
		}
	}
	return net
}

// Take returns all entries in first-enqueue order, same-key entries grouped,
// and resets the store
func (s *PendingStore) Take() []*PendingEntry {
	entries := s.entries
	s.entries = nil
	s.byKey = make(map[string]*PendingEntry)
	return entries
}

// Len returns the number of distinct entries
func (s *PendingStore) Len() int {
	return len(s.entries)
}

// Waiters returns the number of deltas waiting on pending entries
func (s *PendingStore) Waiters() int {
	n := 0
	for _, e := range s.entries {
		n += len(e.waiters)
	}
	return n
}

// Oldest returns the first enqueue time of the oldest entry
func (s *PendingStore) Oldest() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	oldest := s.entries[0].FirstEnqueuedAt
	for _, e := range s.entries[1:] {
		if e.FirstEnqueuedAt.Before(oldest) {
			oldest = e.FirstEnqueuedAt
		}
	}
	return oldest, true
}
