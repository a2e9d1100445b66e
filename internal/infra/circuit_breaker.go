package infra

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitBreaker sits between the submitter and the venue. Each Submit
// already retries internally, so by the time a failure reaches the
// breaker the venue has refused several times in a row; a short run of
// those means the venue is down and further order traffic only burns
// the rate budget. Open, the breaker rejects until a cooldown passes,
// then lets a single probe through.

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // venue healthy, traffic flows
	StateOpen                  // venue refusing, traffic rejected
	StateHalfOpen              // cooldown elapsed, probing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes one breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // probe successes before closing again
	Timeout          time.Duration // open cooldown before a probe is allowed
}

// DefaultCircuitBreakerConfig is tuned for the order-submission path:
// three exhausted submits in a row trips it, and one clean probe after
// a 15s cooldown restores traffic.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          15 * time.Second,
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string

	mu             sync.RWMutex
	state          State
	consecFailures int
	probeSuccesses int
	openedAt       time.Time

	failureThreshold int
	successThreshold int
	timeout          time.Duration
}

// NewCircuitBreaker builds a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
}

// Allow reports whether a request may go to the venue. While open it
// starts a probe once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) > cb.timeout {
			cb.state = StateHalfOpen
			cb.probeSuccesses = 0
			slog.Info("BREAKER_PROBING", slog.String("name", cb.name))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess notes a venue call that worked.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecFailures = 0
	case StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.successThreshold {
			cb.state = StateClosed
			cb.consecFailures = 0
			cb.probeSuccesses = 0
			slog.Info("BREAKER_CLOSED", slog.String("name", cb.name))
		}
	}
}

// RecordFailure notes a venue call that failed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecFailures++
		if cb.consecFailures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			slog.Warn("BREAKER_OPEN",
				slog.String("name", cb.name),
				slog.Int("consecutive_failures", cb.consecFailures))
		}
	case StateHalfOpen:
		// A failed probe restarts the cooldown from now.
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.probeSuccesses = 0
		slog.Warn("BREAKER_REOPENED", slog.String("name", cb.name))
	}
}

// GetState returns the current position for monitoring.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker closed, operator override.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecFailures = 0
	cb.probeSuccesses = 0
	slog.Info("BREAKER_RESET", slog.String("name", cb.name))
}
