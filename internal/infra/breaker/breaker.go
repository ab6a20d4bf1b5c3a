// Package breaker implements per-worker failure isolation.
//
// Circuit breaker states:
//   - CLOSED    (normal) → failure_count reaches threshold → OPEN
//   - OPEN      (blocking) → timeout elapses → HALF_OPEN
//   - HALF_OPEN (probing) → enough successes → CLOSED, any failure → OPEN
//
// A failure while HALF_OPEN re-arms the open timeout with exponential
// backoff, capped at TimeoutMax. Every state transition emits a
// fire-and-forget event; emission never blocks the breaker.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // Normal operation — calls pass through
	Open                  // Tripped — calls rejected until the timeout elapses
	HalfOpen              // Probing — a bounded number of trial calls allowed
)

// String returns a human-readable breaker state.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a circuit breaker.
type Config struct {
	FailureThreshold  int           // consecutive failures to trip (default 5)
	SuccessThreshold  int           // half-open successes to close (default 2)
	Timeout           time.Duration // initial OPEN period (default 30s)
	BackoffMultiplier float64       // timeout growth on half-open failure (default 2.0)
	TimeoutMax        time.Duration // cap on the OPEN period (default 5m)
	HalfOpenMaxCalls  int           // concurrent trial calls in HALF_OPEN (default 1)
}

// DefaultConfig returns production breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Timeout:           30 * time.Second,
		BackoffMultiplier: 2.0,
		TimeoutMax:        5 * time.Minute,
		HalfOpenMaxCalls:  1,
	}
}

// CircuitBreaker is the per-worker failure isolation state machine.
// Thread-safe; each breaker has its own lock.
type CircuitBreaker struct {
	mu       sync.Mutex
	workerID string
	config   Config
	sink     domain.EventSink

	state             State
	failures          int
	halfOpenSuccesses int
	halfOpenCalls     int
	lastFailure       time.Time
	trippedAt         time.Time
	nextAttempt       time.Time
	currentTimeout    time.Duration
	totalTrips        int

	now func() time.Time // injectable clock for testing
}

// New creates a circuit breaker for the given worker.
func New(workerID string, cfg Config, sink domain.EventSink) *CircuitBreaker {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &CircuitBreaker{
		workerID:       workerID,
		config:         cfg,
		sink:           sink,
		state:          Closed,
		currentTimeout: cfg.Timeout,
		now:            time.Now,
	}
}

// CanExecute reports whether a call to this worker is permitted.
//   - CLOSED: always true.
//   - OPEN: true only once the timeout has elapsed; that call itself
//     performs the OPEN → HALF_OPEN transition and consumes the first
//     trial slot.
//   - HALF_OPEN: true while in-flight trial calls remain under
//     HalfOpenMaxCalls; each permitted call holds a slot until its
//     outcome is recorded.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.now().Before(cb.nextAttempt) {
			return false
		}
		cb.transitionLocked(HalfOpen)
		cb.halfOpenCalls = 1
		return true
	case HalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	}
	return false
}

// RecordSuccess records a successful call.
// CLOSED: resets the failure count. HALF_OPEN: releases the trial slot
// and counts toward the success threshold; when reached the breaker
// closes and the backoff re-arms to its base timeout.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.currentTimeout = cb.config.Timeout
			cb.transitionLocked(Closed)
		}
	}
}

// RecordFailure records a failed call. CLOSED trips to OPEN at the failure
// threshold; any HALF_OPEN failure trips immediately with a strictly larger
// backoff than the prior open period, capped at TimeoutMax.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.tripLocked(false)
		}
	case HalfOpen:
		cb.tripLocked(true)
	}
}

// tripLocked moves to OPEN, arming the next attempt time. A re-trip from
// HALF_OPEN grows the timeout; the first trip from CLOSED uses the base.
func (cb *CircuitBreaker) tripLocked(backoff bool) {
	if backoff {
		grown := time.Duration(float64(cb.currentTimeout) * cb.config.BackoffMultiplier)
		if grown > cb.config.TimeoutMax {
			grown = cb.config.TimeoutMax
		}
		cb.currentTimeout = grown
	}
	cb.trippedAt = cb.now()
	cb.nextAttempt = cb.trippedAt.Add(cb.currentTimeout)
	cb.totalTrips++
	metrics.BreakerTrips.WithLabelValues(cb.workerID).Inc()
	cb.transitionLocked(Open)
}

// ForceClose resets the breaker to CLOSED. Used by recovery.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenSuccesses = 0
	cb.halfOpenCalls = 0
	cb.currentTimeout = cb.config.Timeout
	if cb.state != Closed {
		cb.transitionLocked(Closed)
	}
}

// transitionLocked switches state and emits the transition event.
// Emission goes through the sink's non-blocking Emit — the state update
// is already committed by the time anything downstream sees the event.
func (cb *CircuitBreaker) transitionLocked(to State) {
	cb.state = to
	if to == HalfOpen {
		cb.halfOpenSuccesses = 0
		cb.halfOpenCalls = 0
	}

	metrics.BreakerState.WithLabelValues(cb.workerID).Set(float64(to))

	var evt domain.EventType
	switch to {
	case Open:
		evt = domain.EventBreakerOpened
	case HalfOpen:
		evt = domain.EventBreakerHalfOpen
	case Closed:
		evt = domain.EventBreakerClosed
	}
	cb.sink.Emit(domain.Event{
		Time:     cb.now(),
		Type:     evt,
		WorkerID: cb.workerID,
		Detail:   fmt.Sprintf("timeout=%s failures=%d", cb.currentTimeout, cb.failures),
	})
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	WorkerID          string        `json:"worker_id"`
	State             State         `json:"state"`
	FailureCount      int           `json:"failure_count"`
	HalfOpenSuccesses int           `json:"half_open_successes"`
	LastFailureTime   time.Time     `json:"last_failure_time,omitempty"`
	NextAttemptTime   time.Time     `json:"next_attempt_time,omitempty"`
	CurrentTimeout    time.Duration `json:"current_timeout"`
	TotalTrips        int           `json:"total_trips"`
}

// Snapshot returns the current breaker state snapshot.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		WorkerID:          cb.workerID,
		State:             cb.state,
		FailureCount:      cb.failures,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		LastFailureTime:   cb.lastFailure,
		NextAttemptTime:   cb.nextAttempt,
		CurrentTimeout:    cb.currentTimeout,
		TotalTrips:        cb.totalTrips,
	}
}
