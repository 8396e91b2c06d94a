package batcher

import (
	"math"
	"sync"
	"time"

	"allocbatch/internal/config"
)

const minActivitySamples = 32

// DelayEstimator picks the wait window from recent submission activity.
// High activity shortens the window so bursts flush quickly; quiet periods
// stretch it to maxWait to collect more coalescing opportunities.
type DelayEstimator struct {
	enabled  bool
	minWait  time.Duration
	maxWait  time.Duration
	window   time.Duration
	highRate float64

	samples []time.Time
	next    int
	count   int
	mu      sync.Mutex
}

// NewDelayEstimator creates an estimator. highRate is the submission rate
// (per second) at which the delay reaches minWait.
func NewDelayEstimator(enabled bool, minWait, maxWait, window time.Duration, highRate float64) *DelayEstimator {
	if minWait > maxWait {
		minWait = maxWait
	}
	if highRate <= 0 {
		highRate = 1
	}
	return &DelayEstimator{
		enabled:  enabled,
		minWait:  minWait,
		maxWait:  maxWait,
		window:   window,
		highRate: highRate,
		samples:  make([]time.Time, sampleCapacity(window, highRate)),
	}
}

// sampleCapacity sizes the ring so a rate of highRate over window fits in it;
// a smaller ring would cap the measured rate below highRate.
func sampleCapacity(window time.Duration, highRate float64) int {
	n := int(math.Ceil(highRate*window.Seconds())) + 1
	if n < minActivitySamples {
		return minActivitySamples
	}
	if n > config.MaxActivitySamples {
		return config.MaxActivitySamples
	}
	return n
}

// Record notes a submission at t
func (d *DelayEstimator) Record(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples[d.next] = t
	d.next = (d.next + 1) % len(d.samples)
	if d.count < len(d.samples) {
		d.count++
	}
}

// Rate returns submissions per second observed within the window ending at now
func (d *DelayEstimator) Rate(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLocked(now)
}

func (d *DelayEstimator) rateLocked(now time.Time) float64 {
	if d.window <= 0 {
		return 0
	}
	cutoff := now.Add(-d.window)
	n := 0
	for i := 0; i < d.count; i++ {
		if d.samples[i].After(cutoff) {
			n++
		}
	}
	return float64(n) / d.window.Seconds()
}

// Delay returns the wait window to arm, always within [minWait, maxWait]
func (d *DelayEstimator) Delay(now time.Time) time.Duration {
	if !d.enabled {
		return d.maxWait
	}

	d.mu.Lock()
	rate := d.rateLocked(now)
	d.mu.Unlock()

	load := rate / d.highRate
	if load > 1 {
		load = 1
	}
	span := d.maxWait - d.minWait
	delay := d.maxWait - time.Duration(float64(span)*load)
	return clampDuration(delay, d.minWait, d.maxWait)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
