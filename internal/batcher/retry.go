package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy holds retry configuration
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff returns the delay before retry number attempt+1: BaseDelay * 2^attempt,
// capped at MaxDelay when set
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryController sends a batch until every entry is settled
type RetryController struct {
	transport Transport
	policy    RetryPolicy
	timeout   time.Duration
	counters  *counters
	observer  Observer
	logger    zerolog.Logger

	// onBackoff is called with true when the batch starts waiting for a retry
	// and false when it is being sent again
	onBackoff func(bool)
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller for the given transport
func NewRetryController(t Transport, policy RetryPolicy, timeout time.Duration, logger zerolog.Logger) *RetryController {
	return &RetryController{
		transport: t,
		policy:    policy,
		timeout:   timeout,
		counters:  &counters{},
		observer:  nopObserver{},
		logger:    logger,
		onBackoff: func(bool) {},
		sleep:     sleepContext,
	}
}

// Run sends batch, retrying transient failures with exponential backoff.
// Every waiter of every entry is settled exactly once before Run returns.
// Cancelling ctx abandons the batch; waiters receive context.Cause(ctx).
func (r *RetryController) Run(ctx context.Context, batch Batch) {
	for {
		wire := batch.wire()

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}

		start := time.Now()
		results, err := r.transport.Send(attemptCtx, wire)
		cancel()
		r.counters.transportCalls.Add(1)

		if err == nil {
			err = checkResults(wire, results)
		}
		r.observer.OnAttempt(batch.Attempt, time.Since(start), err)

		if err != nil && ctx.Err() != nil {
			r.fail(batch.Entries, abandonCause(ctx))
			return
		}

		var retry []*PendingEntry
		var lastErr error

		if err != nil {
			if !IsRetryable(err) {
				r.logger.Error().
					Err(err).
					Int("entries", len(batch.Entries)).
					Int("attempt", batch.Attempt+1).
					Msg("batch rejected")
				r.fail(batch.Entries, asTerminal(err))
				return
			}
			retry = batch.Entries
			lastErr = err
		} else {
			retry, lastErr = r.settleResults(batch, results)
		}

		if len(retry) == 0 {
			return
		}

		if batch.Attempt >= r.policy.MaxRetries {
			exhausted := &ExhaustedError{Attempts: batch.Attempt + 1, Last: lastErr}
			r.logger.Error().
				Err(lastErr).
				Int("entries", len(retry)).
				Int("attempts", batch.Attempt+1).
				Msg("retries exhausted")
			r.fail(retry, exhausted)
			return
		}

		delay := r.policy.Backoff(batch.Attempt)
		r.logger.Warn().
			Int("attempt", batch.Attempt+1).
			Int("maxAttempts", r.policy.MaxRetries+1).
			Int("entries", len(retry)).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("batch failed, retrying")
		r.counters.retries.Add(1)
		r.observer.OnRetry(batch.Attempt+1, delay)

		r.onBackoff(true)
		if err := r.sleep(ctx, delay); err != nil {
			r.fail(retry, abandonCause(ctx))
			return
		}
		r.onBackoff(false)

		batch = batch.next(retry)
	}
}

// settleResults resolves entries with per-entry results and returns the
// entries whose per-entry error is transient
func (r *RetryController) settleResults(batch Batch, results []EntryResult) ([]*PendingEntry, error) {
	var retry []*PendingEntry
	var lastErr error
	succeeded := 0

	for i, res := range results {
		e := batch.Entries[i]
		if res.Err == nil {
			n := e.Count()
			e.settle(Outcome{Result: &Result{
				TargetKey:      e.TargetKey,
				NetDeltaCents:  e.NetDeltaCents,
				AllocatedCents: res.AllocatedCents,
				CommitID:       e.commitID,
				Attempts:       batch.Attempt + 1,
				Coalesced:      n,
			}})
			r.counters.succeeded.Add(uint64(n))
			succeeded++
			continue
		}

		if IsRetryable(res.Err) {
			retry = append(retry, e)
			lastErr = res.Err
			continue
		}

		r.logger.Warn().
			Err(res.Err).
			Str("targetKey", e.TargetKey).
			Int64("netDeltaCents", e.NetDeltaCents).
			Msg("entry rejected")
		r.fail([]*PendingEntry{e}, asTerminal(res.Err))
	}

	if succeeded > 0 {
		r.observer.OnSettle(succeeded, nil)
	}
	return retry, lastErr
}

// fail settles entries with err
func (r *RetryController) fail(entries []*PendingEntry, err error) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		r.counters.failed.Add(uint64(e.Count()))
		e.settle(Outcome{Err: err})
	}
	r.observer.OnSettle(len(entries), err)
}

// checkResults validates that results line up with the sent entries
func checkResults(sent []Entry, results []EntryResult) error {
	if len(results) != len(sent) {
		return Retryable("result_mismatch",
			fmt.Errorf("%w: sent %d entries, got %d results", errResultMismatch, len(sent), len(results)))
	}
	for i, res := range results {
		if res.TargetKey != "" && res.TargetKey != sent[i].TargetKey {
			return Retryable("result_mismatch",
				fmt.Errorf("%w: result %d is for %q, expected %q", errResultMismatch, i, res.TargetKey, sent[i].TargetKey))
		}
	}
	return nil
}

// asTerminal returns err as a terminal error the caller can match with ErrRejected
func asTerminal(err error) error {
	var te *TransportError
	if errors.As(err, &te) && !te.Retryable {
		return err
	}
	return Terminal("", err)
}

func abandonCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
		return cause
	}
	return ErrAbandoned
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
