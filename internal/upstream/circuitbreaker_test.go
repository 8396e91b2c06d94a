package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    3,
		RecoveryTimeout:     time.Second,
		HalfOpenMaxRequests: 2,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		assert.True(t, cb.AllowRequest())
	}
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(time.Second)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.True(t, cb.AllowRequest())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(2 * time.Second)
	assert.True(t, cb.AllowRequest())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := newTestBreaker(&now)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, "closed", cb.State().String())
}
