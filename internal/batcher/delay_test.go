package batcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"allocbatch/internal/config"
)

func TestDelayEstimator_Disabled(t *testing.T) {
	d := NewDelayEstimator(false, 100*time.Millisecond, time.Second, time.Second, 10)
	now := time.Now()
	for i := 0; i < 20; i++ {
		d.Record(now)
	}
	assert.Equal(t, time.Second, d.Delay(now))
}

func TestDelayEstimator_Idle(t *testing.T) {
	d := NewDelayEstimator(true, 100*time.Millisecond, time.Second, time.Second, 10)
	now := time.Now()
	assert.Equal(t, time.Second, d.Delay(now))
	assert.Zero(t, d.Rate(now))
}

func TestDelayEstimator_ScalesWithActivity(t *testing.T) {
	d := NewDelayEstimator(true, 100*time.Millisecond, time.Second, time.Second, 10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		d.Record(now.Add(-time.Duration(i) * 10 * time.Millisecond))
	}
	assert.InDelta(t, 5.0, d.Rate(now), 0.001)
	assert.Equal(t, 550*time.Millisecond, d.Delay(now))

	for i := 0; i < 20; i++ {
		d.Record(now)
	}
	assert.Equal(t, 100*time.Millisecond, d.Delay(now))
}

func TestDelayEstimator_OldSamplesExpire(t *testing.T) {
	d := NewDelayEstimator(true, 100*time.Millisecond, time.Second, time.Second, 10)
	past := time.Now().Add(-5 * time.Second)
	for i := 0; i < 30; i++ {
		d.Record(past)
	}
	assert.Equal(t, time.Second, d.Delay(time.Now()))
}

func TestDelayEstimator_AlwaysWithinBounds(t *testing.T) {
	d := NewDelayEstimator(true, 200*time.Millisecond, 800*time.Millisecond, 500*time.Millisecond, 3)
	now := time.Now()
	for i := 0; i < 100; i++ {
		d.Record(now.Add(-time.Duration(i) * 7 * time.Millisecond))
		delay := d.Delay(now)
		assert.GreaterOrEqual(t, delay, 200*time.Millisecond)
		assert.LessOrEqual(t, delay, 800*time.Millisecond)
	}
}

func TestDelayEstimator_MeasuresRatesAboveDefaultRing(t *testing.T) {
	d := NewDelayEstimator(true, 100*time.Millisecond, time.Second, time.Second, 200)
	now := time.Now()
	for i := 0; i < 200; i++ {
		d.Record(now.Add(-time.Duration(i) * time.Millisecond))
	}
	assert.InDelta(t, 200.0, d.Rate(now), 0.001)
	assert.Equal(t, 100*time.Millisecond, d.Delay(now))
}

func TestSampleCapacity(t *testing.T) {
	assert.Equal(t, minActivitySamples, sampleCapacity(time.Second, 10))
	assert.Equal(t, 501, sampleCapacity(time.Second, 500))
	assert.Equal(t, 1001, sampleCapacity(2*time.Second, 500))
	assert.Equal(t, config.MaxActivitySamples, sampleCapacity(time.Hour, 1e6))
}
