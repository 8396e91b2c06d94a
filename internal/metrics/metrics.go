// Package metrics exports engine and HTTP activity to prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"allocbatch/internal/batcher"
)

const namespace = "allocbatch"

// Collector implements batcher.Observer on a private registry
type Collector struct {
	registry *prometheus.Registry

	submits         *prometheus.CounterVec
	rejects         *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	batchSize       prometheus.Histogram
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	retryDelay      prometheus.Histogram
	settled         *prometheus.CounterVec
	pending         prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers all series on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submits_total",
			Help:      "Accepted submissions by priority and whether they merged into a pending entry",
		}, []string{"priority", "coalesced"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejects_total",
			Help:      "Submissions refused before queueing",
		}, []string{"reason"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batches started by trigger",
		}, []string{"reason"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_entries",
			Help:      "Entries per flushed batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_attempts_total",
			Help:      "Transport calls by result",
		}, []string{"result"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transport_attempt_seconds",
			Help:      "Duration of transport calls",
			Buckets:   prometheus.DefBuckets,
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_backoff_seconds",
			Help:      "Backoff waited before a retry",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_entries_total",
			Help:      "Pending entries resolved by outcome",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_entries",
			Help:      "Entries waiting for the next flush",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	c.registry.MustRegister(
		c.submits, c.rejects, c.flushes, c.batchSize,
		c.attempts, c.attemptDuration, c.retryDelay,
		c.settled, c.pending, c.httpRequests, c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (c *Collector) OnSubmit(p batcher.Priority, coalesced bool) {
	c.submits.WithLabelValues(p.String(), strconv.FormatBool(coalesced)).Inc()
}

func (c *Collector) OnReject(reason string) {
	c.rejects.WithLabelValues(reason).Inc()
}

func (c *Collector) OnFlush(reason batcher.FlushReason, entries int) {
	c.flushes.WithLabelValues(string(reason)).Inc()
	c.batchSize.Observe(float64(entries))
}

func (c *Collector) OnAttempt(_ int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "terminal"
		if batcher.IsRetryable(err) {
			result = "retryable"
		}
	}
	c.attempts.WithLabelValues(result).Inc()
	c.attemptDuration.Observe(elapsed.Seconds())
}

func (c *Collector) OnRetry(_ int, delay time.Duration) {
	c.retryDelay.Observe(delay.Seconds())
}

func (c *Collector) OnSettle(entries int, err error) {
	c.settled.WithLabelValues(Outcome(err)).Add(float64(entries))
}

func (c *Collector) OnPending(entries int) {
	c.pending.Set(float64(entries))
}

// Outcome names the settlement class of err
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, batcher.ErrRejected):
		return "rejected"
	case errors.Is(err, batcher.ErrExhausted):
		return "exhausted"
	case errors.Is(err, batcher.ErrCleared):
		return "cleared"
	case errors.Is(err, batcher.ErrAbandoned):
		return "abandoned"
	case errors.Is(err, batcher.ErrClosed):
		return "closed"
	}
	return "error"
}
