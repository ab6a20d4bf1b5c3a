package domain

import "time"

// EventType names an observability record emitted by the core.
type EventType string

const (
	EventTaskDispatched    EventType = "task_dispatched"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventBreakerOpened     EventType = "breaker_opened"
	EventBreakerHalfOpen   EventType = "breaker_half_open"
	EventBreakerClosed     EventType = "breaker_closed"
	EventRecoveryStarted   EventType = "recovery_started"
	EventRecoverySucceeded EventType = "recovery_succeeded"
	EventRecoveryFailed    EventType = "recovery_failed"
	EventParameterChanged  EventType = "parameter_changed"
	EventParameterRollback EventType = "parameter_rollback"
)

// Event is a best-effort observability record. Emission never blocks and
// never fails the operation that produced it.
type Event struct {
	Time     time.Time `json:"time"`
	Type     EventType `json:"type"`
	WorkerID string    `json:"worker_id,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// EventSink receives events from the core. Implementations must not block
// in Emit; the core behaves identically whether or not a sink exists.
type EventSink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}
