package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		WindowSize:           4,
		FailureRateThreshold: 0.5,
		OpenTimeout:          20 * time.Millisecond,
		HalfOpenProbes:       2,
	}
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Mark(stderrors.New("boom"), time.Millisecond)
	}
}

func succeedN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Mark(nil, time.Millisecond)
	}
}

func TestBreakerStaysClosedUntilWindowFull(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	failN(cb, 3)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensOnFailureRate(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	succeedN(cb, 2)
	failN(cb, 2)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "primary", open.Name)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	failN(cb, 4)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	// First Allow after the open timeout issues a probe.
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Mark(nil, time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.Mark(nil, time.Millisecond)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	failN(cb, 4)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Allow())
	cb.Mark(stderrors.New("still down"), time.Millisecond)

	assert.Equal(t, StateOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestBreakerIgnoresValidationErrors(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	for i := 0; i < 8; i++ {
		cb.Mark(New(KindValidation, "bad request"), time.Millisecond)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensOnSlowCalls(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.SlowCallRateThreshold = 0.75
	cfg.SlowCallDuration = 10 * time.Millisecond
	cb := NewCircuitBreaker("primary", cfg)

	cb.Mark(nil, time.Millisecond)
	for i := 0; i < 3; i++ {
		cb.Mark(nil, 50*time.Millisecond)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())
	failN(cb, 4)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestExecuteFuncRecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())

	v, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	m := cb.Metrics()
	assert.Equal(t, 1, m.WindowCalls)
	assert.Equal(t, 0, m.FailedCalls)
}

func TestManagerReturnsSameBreakerPerName(t *testing.T) {
	m := NewCircuitBreakerManager(testBreakerConfig())
	a := m.Get("primary")
	b := m.Get("primary")
	c := m.Get("fallback")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Len(t, m.Metrics(), 2)
}
