// Package domain holds the shared types of the coordinator core.
// A Task is a unit of work that flows through the control loop:
// submit → queue → route → dispatch → complete/fail.
package domain

import "time"

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "QUEUED"
	TaskDispatched TaskStatus = "DISPATCHED"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// Task is a unit of work assigned to exactly one worker at a time.
// Payload is an opaque blob — the core never interprets it; the worker
// layer decodes it per task type.
type Task struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Payload        []byte     `json:"payload,omitempty"`
	Priority       int        `json:"priority"` // lower ordinal = more urgent
	Status         TaskStatus `json:"status"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	AssignedWorker string     `json:"assigned_worker,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}
