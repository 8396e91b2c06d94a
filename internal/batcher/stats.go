package batcher

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of the engine
type Stats struct {
	PendingCount       int           `json:"pendingCount"`
	PendingWaiters     int           `json:"pendingWaiters"`
	IsFlushing         bool          `json:"isFlushing"`
	RecentActivityRate float64       `json:"recentActivityRate"`
	State              State         `json:"state"`
	CurrentDelay       time.Duration `json:"currentDelay"`
	InFlightEntries    int           `json:"inFlightEntries"`
	Counters           Counters      `json:"counters"`
}

// Counters are cumulative since the engine was created
type Counters struct {
	Submitted      uint64 `json:"submitted"`
	Rejected       uint64 `json:"rejected"`
	Coalesced      uint64 `json:"coalesced"`
	Flushes        uint64 `json:"flushes"`
	TransportCalls uint64 `json:"transportCalls"`
	Retries        uint64 `json:"retries"`
	Succeeded      uint64 `json:"succeeded"`
	Failed         uint64 `json:"failed"`
	Cleared        uint64 `json:"cleared"`
}

// counters is the lock-free backing store for Counters
type counters struct {
	submitted      atomic.Uint64
	rejected       atomic.Uint64
	coalesced      atomic.Uint64
	flushes        atomic.Uint64
	transportCalls atomic.Uint64
	retries        atomic.Uint64
	succeeded      atomic.Uint64
	failed         atomic.Uint64
	cleared        atomic.Uint64
}

func (c *counters) snapshot() Counters {
	return Counters{
		Submitted:      c.submitted.Load(),
		Rejected:       c.rejected.Load(),
		Coalesced:      c.coalesced.Load(),
		Flushes:        c.flushes.Load(),
		TransportCalls: c.transportCalls.Load(),
		Retries:        c.retries.Load(),
		Succeeded:      c.succeeded.Load(),
		Failed:         c.failed.Load(),
		Cleared:        c.cleared.Load(),
	}
}
