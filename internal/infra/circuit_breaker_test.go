package infra

import (
	"testing"
	"time"
)

func testBreaker(failures, successes int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "venue",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          timeout,
	})
}

func TestCircuitBreaker_ClosedAllows(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("venue"))
	if !cb.Allow() {
		t.Error("closed breaker rejected a request")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := testBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("tripped below the threshold")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after 3 consecutive failures", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker let a request through before the cooldown")
	}
}

func TestCircuitBreaker_SuccessResetsTheStreak(t *testing.T) {
	cb := testBreaker(3, 1, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	// Failures were never consecutive enough to trip.
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	cb := testBreaker(1, 1, 20*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("no cooldown elapsed yet")
	}

	time.Sleep(30 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("cooldown elapsed, probe should be allowed")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("state = %s, want half_open", cb.GetState())
	}

	// One clean probe closes it again (submission-path default).
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", cb.GetState())
	}
}

func TestCircuitBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	cb := testBreaker(1, 1, 20*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.GetState())
	}
	// The cooldown restarted at the probe failure.
	if cb.Allow() {
		t.Error("request allowed immediately after a failed probe")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("venue"))
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed || !cb.Allow() {
		t.Error("reset breaker should be closed and allowing")
	}
}
