package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	valid := DefaultCircuitBreakerConfig()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CircuitBreakerConfig)
	}{
		{"zero max failures", func(c *CircuitBreakerConfig) { c.MaxFailures = 0 }},
		{"zero timeout", func(c *CircuitBreakerConfig) { c.Timeout = 0 }},
		{"zero half-open requests", func(c *CircuitBreakerConfig) { c.MaxHalfOpenRequests = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCircuitBreakerConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewCircuitBreaker(cfg)
			assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)
		})
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         3,
		Timeout:             time.Minute,
		MaxHalfOpenRequests: 1,
	})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		assert.Equal(t, CircuitBreakerStateClosed, cb.State())
		assert.NoError(t, cb.Allow())
	}

	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         2,
		Timeout:             time.Minute,
		MaxHalfOpenRequests: 1,
	})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             10 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	})

	cb.RecordFailure()
	require.Equal(t, CircuitBreakerStateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	// First probe passes, second is rejected until the probe resolves.
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitBreakerStateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyRequests)

	cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             10 * time.Millisecond,
		MaxHalfOpenRequests: 1,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := MustNewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		Timeout:             time.Minute,
		MaxHalfOpenRequests: 1,
	})

	cb.RecordFailure()
	require.Equal(t, CircuitBreakerStateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Failures())
	assert.NoError(t, cb.Allow())
}
