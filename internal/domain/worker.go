package domain

// WorkerStatus tracks the coordinator's view of a worker.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "IDLE"
	WorkerBusy    WorkerStatus = "BUSY"
	WorkerError   WorkerStatus = "ERROR"
	WorkerOffline WorkerStatus = "OFFLINE"

	// WorkerDegraded means recovery exhausted its restart budget.
	// The worker is excluded from routing until externally reset.
	WorkerDegraded WorkerStatus = "DEGRADED"
)

// Routable reports whether a worker in this status may receive tasks.
func (s WorkerStatus) Routable() bool {
	return s == WorkerIdle
}
