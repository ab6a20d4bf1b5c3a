package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Routing errors
	ErrNoEligibleWorker = errors.New("no eligible worker for task type")
	ErrWorkerNotFound   = errors.New("worker not found")

	// Circuit breaker errors
	ErrBreakerOpen = errors.New("circuit breaker is open")

	// Recovery errors
	ErrRecoveryCooldown  = errors.New("recovery blocked by restart cooldown")
	ErrRecoveryExhausted = errors.New("max restart attempts reached, worker degraded")

	// Tuning errors
	ErrUnknownParameter = errors.New("parameter not registered")
	ErrValueOutOfBounds = errors.New("value outside parameter bounds")
	ErrWrongValueType   = errors.New("value type does not match parameter type")
	ErrTunerWarmingUp   = errors.New("not enough samples to tune")

	// Scheduler errors
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)
