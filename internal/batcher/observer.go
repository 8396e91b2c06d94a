package batcher

import "time"

// Observer receives engine events, typically for metrics.
// Calls are made synchronously and must not block.
type Observer interface {
	OnSubmit(p Priority, coalesced bool)
	OnReject(reason string)
	OnFlush(reason FlushReason, entries int)
	OnAttempt(attempt int, elapsed time.Duration, err error)
	OnRetry(attempt int, delay time.Duration)
	OnSettle(entries int, err error)
	OnPending(entries int)
}

type nopObserver struct{}

func (nopObserver) OnSubmit(Priority, bool) {}
func (nopObserver) OnReject(string) {}
func (nopObserver) OnFlush(FlushReason, int) {}
func (nopObserver) OnAttempt(int, time.Duration, error) {}
func (nopObserver) OnRetry(int, time.Duration) {}
func (nopObserver) OnSettle(int, error) {}
func (nopObserver) OnPending(int) {}
