package batcher

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"allocbatch/internal/config"
)

const maxTargetKeyLen = 256

// flight is the batch currently owned by the retry controller
type flight struct {
	entries int
	cancel  context.CancelCauseFunc
	done    chan struct{}
}

// Engine batches allocation deltas and flushes them through a Transport.
// At most one batch is in flight at any time; deltas submitted meanwhile
// form the next batch.
type Engine struct {
	cfg       config.BatchingConfig
	store     *PendingStore
	estimator *DelayEstimator
	retry     *RetryController
	counters  *counters
	observer  Observer
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	timer     *time.Timer
	timerGen  uint64
	flushAsap bool
	asapWhy   FlushReason
	inflight  *flight
	closed    bool
	aborted   bool
}

// New creates an Engine. cfg is copied; unset fields take their defaults.
func New(transport Transport, cfg config.BatchingConfig, logger zerolog.Logger) (*Engine, error) {
	if transport == nil {
		return nil, errors.New("batcher: transport is required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "batcher").Logger()
	stats := &counters{}

	retry := NewRetryController(transport, RetryPolicy{
		MaxRetries: cfg.GetMaxRetries(),
		BaseDelay:  cfg.GetBaseRetryDelayDuration(),
		MaxDelay:   cfg.GetMaxRetryDelayDuration(),
	}, cfg.GetTransportTimeoutDuration(), logger)
	retry.counters = stats

	e := &Engine{
		cfg:   cfg,
		store: NewPendingStore(cfg.IsCoalescing()),
		estimator: NewDelayEstimator(
			cfg.IsAdaptiveDelay(),
			cfg.GetMinWaitDuration(),
			cfg.GetMaxWaitDuration(),
			cfg.GetActivityWindowDuration(),
			cfg.HighActivityRate,
		),
		retry:    retry,
		counters: stats,
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
		state:    StateIdle,
	}
	retry.onBackoff = e.setBackoff

	return e, nil
}

// SetObserver installs an observer. Call before the first Submit.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.mu.Lock()
	e.observer = o
	e.retry.observer = o
	e.mu.Unlock()
}

// Submit enqueues a delta and blocks until its entry settles or ctx ends.
// A cancelled ctx only stops waiting; the delta still flushes.
func (e *Engine) Submit(ctx context.Context, targetKey string, deltaCents int64, priority Priority, source string) (*Result, error) {
	ch := e.SubmitAsync(targetKey, deltaCents, priority, source)
	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitAsync enqueues a delta and returns a channel that receives exactly one Outcome
func (e *Engine) SubmitAsync(targetKey string, deltaCents int64, priority Priority, source string) <-chan Outcome {
	d := Delta{
		TargetKey:  strings.TrimSpace(targetKey),
		DeltaCents: deltaCents,
		Priority:   priority,
		Source:     source,
	}

	if err := e.validate(d); err != nil {
		return e.reject(err, "validation")
	}

	now := e.now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.reject(ErrClosed, "closed")
	}
	if e.store.coalesce && addOverflows(e.store.NetFor(d.TargetKey), d.DeltaCents) {
		e.mu.Unlock()
		return e.reject(&ValidationError{Field: "deltaCents", Reason: "overflows the pending net amount"}, "validation")
	}

	e.estimator.Record(now)
	w, merged := e.store.Enqueue(d, now)
	e.counters.submitted.Add(1)
	if merged {
		e.counters.coalesced.Add(1)
	}

	switch {
	case e.inflight != nil:
		if d.Priority == PriorityHigh {
			e.requestAsapLocked(FlushPriority)
		} else if e.store.Len() >= e.cfg.MaxBatchSize {
			e.requestAsapLocked(FlushSize)
		}
	case d.Priority == PriorityHigh:
		e.startFlushLocked(FlushPriority)
	case e.store.Len() >= e.cfg.MaxBatchSize:
		e.startFlushLocked(FlushSize)
	case e.state == StateIdle:
		e.armTimerLocked(now)
	}

	pending := e.store.Len()
	observer := e.observer
	e.mu.Unlock()

	observer.OnSubmit(d.Priority, merged)
	observer.OnPending(pending)

	return w.ch
}

func (e *Engine) validate(d Delta) error {
	if d.TargetKey == "" {
		return &ValidationError{Field: "targetKey", Reason: "is required"}
	}
	if len(d.TargetKey) > maxTargetKeyLen {
		return &ValidationError{Field: "targetKey", Reason: "is too long"}
	}
	if d.DeltaCents == 0 {
		return &ValidationError{Field: "deltaCents", Reason: "must not be zero"}
	}
	if limit := e.cfg.MaxAbsDeltaCents; limit > 0 {
		if d.DeltaCents > limit || d.DeltaCents < -limit {
			return &ValidationError{Field: "deltaCents", Reason: "is out of range"}
		}
	}
	switch d.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return &ValidationError{Field: "priority", Reason: "is unknown"}
	}
	return nil
}

func (e *Engine) reject(err error, reason string) <-chan Outcome {
	e.counters.rejected.Add(1)
	e.mu.Lock()
	observer := e.observer
	e.mu.Unlock()
	observer.OnReject(reason)

	ch := make(chan Outcome, 1)
	ch <- Outcome{Err: err}
	return ch
}

// Flush sends the pending set now instead of waiting for the timer.
// If a batch is in flight the pending set is sent as soon as it completes.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Len() == 0 {
		return
	}
	if e.inflight != nil {
		e.requestAsapLocked(FlushManual)
		return
	}
	e.startFlushLocked(FlushManual)
}

// ClearPending rejects every pending delta with ErrCleared and waits for the
// in-flight batch, if any. When ctx ends first the in-flight batch is
// abandoned: it is not retried and its waiters receive ErrAbandoned.
func (e *Engine) ClearPending(ctx context.Context) error {
	e.mu.Lock()
	e.stopTimerLocked()
	entries := e.store.Take()
	e.flushAsap = false
	if e.inflight == nil {
		e.state = StateIdle
	}
	f := e.inflight
	observer := e.observer
	e.mu.Unlock()

	cleared := 0
	for _, entry := range entries {
		cleared += entry.Count()
		entry.settle(Outcome{Err: ErrCleared})
	}
	e.counters.cleared.Add(uint64(cleared))
	observer.OnPending(0)

	if cleared > 0 {
		observer.OnSettle(len(entries), ErrCleared)
		e.logger.Info().
			Int("entries", len(entries)).
			Int("deltas", cleared).
			Msg("pending allocations cleared")
	}

	if f == nil {
		return nil
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		f.cancel(ErrAbandoned)
		<-f.done
		e.logger.Warn().Int("entries", f.entries).Msg("in-flight batch abandoned")
	}
	return nil
}

// Close stops accepting deltas, flushes what is pending and waits for the
// last batch. When ctx ends first the in-flight batch is abandoned and any
// remaining pending deltas are rejected with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.store.Len() > 0 {
		if e.inflight != nil {
			e.requestAsapLocked(FlushClose)
		} else {
			e.startFlushLocked(FlushClose)
		}
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		f := e.inflight
		e.mu.Unlock()
		if f == nil {
			break
		}

		select {
		case <-f.done:
			continue
		case <-ctx.Done():
		}

		e.mu.Lock()
		e.aborted = true
		f = e.inflight
		e.mu.Unlock()
		if f != nil {
			f.cancel(ErrAbandoned)
			<-f.done
		}

		e.mu.Lock()
		e.stopTimerLocked()
		entries := e.store.Take()
		e.state = StateIdle
		observer := e.observer
		e.mu.Unlock()
		for _, entry := range entries {
			e.counters.failed.Add(uint64(entry.Count()))
			entry.settle(Outcome{Err: ErrClosed})
		}
		if len(entries) > 0 {
			observer.OnSettle(len(entries), ErrClosed)
			observer.OnPending(0)
		}

		e.logger.Warn().Err(ctx.Err()).Msg("batcher closed before draining")
		return ctx.Err()
	}

	e.logger.Info().Msg("batcher closed")
	return nil
}

// Stats returns a snapshot of the engine state
func (e *Engine) Stats() Stats {
	now := e.now()

	e.mu.Lock()
	s := Stats{
		PendingCount:   e.store.Len(),
		PendingWaiters: e.store.Waiters(),
		IsFlushing:     e.inflight != nil,
		State:          e.state,
	}
	if e.inflight != nil {
		s.InFlightEntries = e.inflight.entries
	}
	e.mu.Unlock()

	s.RecentActivityRate = e.estimator.Rate(now)
	s.CurrentDelay = e.estimator.Delay(now)
	s.Counters = e.counters.snapshot()
	return s
}

// requestAsapLocked makes the next cycle flush as soon as the current flight ends
func (e *Engine) requestAsapLocked(reason FlushReason) {
	if !e.flushAsap {
		e.asapWhy = reason
	}
	e.flushAsap = true
}

// startFlushLocked snapshots the pending set and hands it to a new flight
func (e *Engine) startFlushLocked(reason FlushReason) {
	e.stopTimerLocked()

	entries := e.store.Take()
	if len(entries) == 0 {
		e.state = StateIdle
		return
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	f := &flight{
		entries: len(entries),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.inflight = f
	e.state = StateFlushing
	e.flushAsap = false
	e.counters.flushes.Add(1)
	e.observer.OnFlush(reason, len(entries))

	e.logger.Debug().
		Str("reason", string(reason)).
		Int("entries", len(entries)).
		Msg("executing batch")

	go e.runFlight(ctx, f, Batch{Entries: entries, Reason: reason})
}

func (e *Engine) runFlight(ctx context.Context, f *flight, batch Batch) {
	start := e.now()
	e.retry.Run(ctx, batch)
	f.cancel(nil)

	e.logger.Debug().
		Str("reason", string(batch.Reason)).
		Int("entries", f.entries).
		Dur("elapsed", e.now().Sub(start)).
		Msg("batch completed")

	e.mu.Lock()
	e.inflight = nil
	e.state = StateIdle
	if e.store.Len() > 0 && !e.aborted {
		switch {
		case e.flushAsap:
			e.startFlushLocked(e.asapWhy)
		case e.closed:
			e.startFlushLocked(FlushClose)
		case e.store.Len() >= e.cfg.MaxBatchSize:
			e.startFlushLocked(FlushSize)
		default:
			e.armTimerLocked(e.now())
		}
	}
	pending := e.store.Len()
	observer := e.observer
	e.mu.Unlock()

	observer.OnPending(pending)
	close(f.done)
}

// armTimerLocked schedules a flush. The deadline counts from the oldest
// pending entry so deltas that waited out a flight are not delayed again.
func (e *Engine) armTimerLocked(now time.Time) {
	delay := e.estimator.Delay(now)
	if oldest, ok := e.store.Oldest(); ok {
		if waited := now.Sub(oldest); waited > 0 {
			delay -= waited
		}
	}
	if delay < 0 {
		delay = 0
	}

	e.stopTimerLocked()
	gen := e.timerGen
	e.timer = time.AfterFunc(delay, func() {
		e.onTimer(gen)
	})
	e.state = StateWaiting
}

func (e *Engine) onTimer(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.timerGen || e.state != StateWaiting {
		return
	}
	e.timer = nil
	e.startFlushLocked(FlushTimer)
}

// stopTimerLocked cancels the armed timer and invalidates any callback already fired
func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *Engine) setBackoff(waiting bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight == nil {
		return
	}
	if waiting {
		e.state = StateBackoff
	} else {
		e.state = StateFlushing
	}
}

func addOverflows(a, b int64) bool {
	if b > 0 {
		return a > math.MaxInt64-b
	}
	return a < math.MinInt64-b
}
