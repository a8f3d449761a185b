package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strix/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked
	StateOpen
	// StateHalfOpen - testing if service recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitOpenError is returned when the breaker rejects a request.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry in %v", e.Name, e.RetryAfter)
}

// CircuitBreakerConfig configures circuit breaker behavior.
//
// The window is count-based: outcomes of the last WindowSize calls are kept.
// Once the window is full, the breaker trips when the failure rate reaches
// FailureRateThreshold, or when the slow-call rate (calls slower than
// SlowCallDuration) reaches SlowCallRateThreshold.
type CircuitBreakerConfig struct {
	WindowSize            int
	FailureRateThreshold  float64
	SlowCallRateThreshold float64
	SlowCallDuration      time.Duration
	OpenTimeout           time.Duration
	HalfOpenProbes        int
	OnStateChange         func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig returns the standard LLM-provider settings:
// window of 10 calls, trip at 50% failures or 80% slow calls (>60s),
// stay open 30s, permit 2 probes while half-open.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		WindowSize:            10,
		FailureRateThreshold:  0.5,
		SlowCallRateThreshold: 0.8,
		SlowCallDuration:      60 * time.Second,
		OpenTimeout:           30 * time.Second,
		HalfOpenProbes:        2,
	}
}

type callOutcome struct {
	failed bool
	slow   bool
}

// CircuitBreaker implements a count-window circuit breaker.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu              sync.Mutex
	state           CircuitState
	window          []callOutcome
	windowPos       int
	windowFilled    int
	probesIssued    int
	probesSucceeded int
	lastOpenedAt    time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = 2
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logging.NewComponentLogger("circuit-breaker"),
		state:           StateClosed,
		window:          make([]callOutcome, config.WindowSize),
		lastStateChange: time.Now(),
	}
}

// Execute runs a function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteFunc(cb, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteFunc executes a function that returns a value under the breaker.
// This avoids the need for method generics.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zeroValue T

	if err := cb.beforeRequest(); err != nil {
		return zeroValue, err
	}

	started := time.Now()
	result, err := fn(ctx)
	cb.afterRequest(err, time.Since(started))

	return result, err
}

// Allow checks whether a request can proceed under the circuit breaker.
// Callers that need to time requests themselves use Allow/Mark.
func (cb *CircuitBreaker) Allow() error {
	return cb.beforeRequest()
}

// Mark records a request outcome: nil for success, non-nil for failure.
func (cb *CircuitBreaker) Mark(err error, elapsed time.Duration) {
	cb.afterRequest(err, elapsed)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastOpenedAt) >= cb.config.OpenTimeout {
			cb.setState(StateHalfOpen)
			cb.probesIssued = 0
			cb.probesSucceeded = 0
			cb.probesIssued++
			cb.logger.Info("[%s] Circuit breaker transitioning to half-open (testing recovery)", cb.name)
			return nil
		}
		return &CircuitOpenError{
			Name:       cb.name,
			RetryAfter: cb.config.OpenTimeout - time.Since(cb.lastOpenedAt),
		}

	case StateHalfOpen:
		if cb.probesIssued >= cb.config.HalfOpenProbes {
			return &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.OpenTimeout}
		}
		cb.probesIssued++
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Validation errors do not count against the provider.
	if err != nil && IsKind(err, KindValidation) {
		err = nil
	}

	slow := cb.config.SlowCallDuration > 0 && elapsed >= cb.config.SlowCallDuration

	switch cb.state {
	case StateClosed:
		cb.record(callOutcome{failed: err != nil, slow: slow})
		if cb.shouldTrip() {
			cb.setState(StateOpen)
			cb.lastOpenedAt = time.Now()
			cb.resetWindow()
			cb.logger.Warn("[%s] Circuit breaker opened (failure/slow-call rate over threshold)", cb.name)
		}

	case StateHalfOpen:
		if err != nil || slow {
			cb.setState(StateOpen)
			cb.lastOpenedAt = time.Now()
			cb.probesIssued = 0
			cb.probesSucceeded = 0
			cb.logger.Warn("[%s] Circuit breaker reopened (probe failed)", cb.name)
			return
		}
		cb.probesSucceeded++
		cb.logger.Debug("[%s] Probe succeeded in half-open state (%d/%d)",
			cb.name, cb.probesSucceeded, cb.config.HalfOpenProbes)
		if cb.probesSucceeded >= cb.config.HalfOpenProbes {
			cb.setState(StateClosed)
			cb.resetWindow()
			cb.logger.Info("[%s] Circuit breaker closed (service recovered)", cb.name)
		}

	case StateOpen:
		// Late completion from a call admitted before opening.
		cb.logger.Debug("[%s] Outcome recorded while circuit open", cb.name)
	}
}

func (cb *CircuitBreaker) record(outcome callOutcome) {
	cb.window[cb.windowPos] = outcome
	cb.windowPos = (cb.windowPos + 1) % len(cb.window)
	if cb.windowFilled < len(cb.window) {
		cb.windowFilled++
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.windowFilled < len(cb.window) {
		return false
	}
	failed, slow := 0, 0
	for _, o := range cb.window {
		if o.failed {
			failed++
		}
		if o.slow {
			slow++
		}
	}
	total := float64(len(cb.window))
	if cb.config.FailureRateThreshold > 0 && float64(failed)/total >= cb.config.FailureRateThreshold {
		return true
	}
	if cb.config.SlowCallRateThreshold > 0 && float64(slow)/total >= cb.config.SlowCallRateThreshold {
		return true
	}
	return false
}

func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.window {
		cb.window[i] = callOutcome{}
	}
	cb.windowPos = 0
	cb.windowFilled = 0
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState, cb.name)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.resetWindow()
	cb.probesIssued = 0
	cb.probesSucceeded = 0
	cb.lastStateChange = time.Now()

	cb.logger.Info("[%s] Circuit breaker manually reset from %s to closed", cb.name, oldState)
}

// Metrics returns current circuit breaker statistics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed, slow := 0, 0
	for i := 0; i < cb.windowFilled; i++ {
		if cb.window[i].failed {
			failed++
		}
		if cb.window[i].slow {
			slow++
		}
	}
	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		WindowCalls:     cb.windowFilled,
		FailedCalls:     failed,
		SlowCalls:       slow,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	Name            string
	State           CircuitState
	WindowCalls     int
	FailedCalls     int
	SlowCalls       int
	LastStateChange time.Time
}

// CircuitBreakerManager manages multiple circuit breakers keyed by name.
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	mu       sync.RWMutex
	logger   logging.Logger
}

// NewCircuitBreakerManager creates a new circuit breaker manager.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logging.NewComponentLogger("circuit-breaker-manager"),
	}
}

// Get returns a circuit breaker for the given name, creating it on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	if breaker, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	breaker := NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	m.logger.Debug("Created circuit breaker for: %s", name)
	return breaker
}

// Metrics returns metrics for all circuit breakers.
func (m *CircuitBreakerManager) Metrics() []CircuitBreakerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make([]CircuitBreakerMetrics, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		metrics = append(metrics, breaker.Metrics())
	}
	return metrics
}
