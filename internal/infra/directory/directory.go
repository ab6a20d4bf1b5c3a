// Package directory is the registry of worker identity and running state.
// Each worker record carries its own mutex so unrelated workers never
// serialize on each other — the dispatch loops, recovery sweep, and tuner
// all touch records concurrently.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
)

// ewmaAlpha weights the newest latency sample in the running average.
const ewmaAlpha = 0.2

// Record is the coordinator's per-worker bookkeeping.
type Record struct {
	mu sync.Mutex

	id   string
	name string

	status        domain.WorkerStatus
	currentTaskID string

	tasksCompleted int64
	tasksFailed    int64
	latencyEWMA    time.Duration
	lastActive     time.Time
	registeredAt   time.Time

	// Recovery bookkeeping (restart budget)
	restartAttempts int
	lastRestartAt   time.Time

	now func() time.Time
}

// Snapshot is a point-in-time copy of a worker record.
type Snapshot struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Status          domain.WorkerStatus `json:"status"`
	CurrentTaskID   string              `json:"current_task_id,omitempty"`
	TasksCompleted  int64               `json:"tasks_completed"`
	TasksFailed     int64               `json:"tasks_failed"`
	LatencyEWMA     time.Duration       `json:"latency_ewma"`
	LastActive      time.Time           `json:"last_active"`
	Uptime          time.Duration       `json:"uptime"`
	RestartAttempts int                 `json:"restart_attempts"`
	LastRestartAt   time.Time           `json:"last_restart_at,omitempty"`
}

// ID returns the worker's id. Immutable after registration.
func (r *Record) ID() string { return r.id }

// Name returns the worker's name. Immutable after registration.
func (r *Record) Name() string { return r.name }

// Status returns the current worker status.
func (r *Record) Status() domain.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatus overwrites the worker status.
func (r *Record) SetStatus(s domain.WorkerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// MarkBusy transitions the worker to BUSY for the given task.
// Returns false if the worker was not routable.
func (r *Record) MarkBusy(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Routable() {
		return false
	}
	r.status = domain.WorkerBusy
	r.currentTaskID = taskID
	r.lastActive = r.now()
	return true
}

// RecordCompletion records a successful task: increments the completed
// counter, folds the latency sample into the EWMA, returns the worker to
// IDLE, and replenishes the recovery budget by resetting the restart
// attempt counter.
func (r *Record) RecordCompletion(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksCompleted++
	if r.latencyEWMA == 0 {
		r.latencyEWMA = latency
	} else {
		r.latencyEWMA = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(r.latencyEWMA))
	}
	r.currentTaskID = ""
	r.status = domain.WorkerIdle
	r.lastActive = r.now()
	r.restartAttempts = 0
}

// RecordFailure records a failed task and moves the worker to ERROR.
func (r *Record) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksFailed++
	r.currentTaskID = ""
	r.status = domain.WorkerError
	r.lastActive = r.now()
}

// Recover applies a successful recovery attempt: the worker returns to
// IDLE, its current task is cleared, and the attempt is counted.
func (r *Record) Recover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.WorkerIdle
	r.currentTaskID = ""
	r.restartAttempts++
	r.lastRestartAt = r.now()
}

// MarkDegraded takes the worker out of routing permanently (until Reset).
func (r *Record) MarkDegraded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.WorkerDegraded
}

// Reset is the external operator escape hatch for a degraded worker:
// status back to IDLE, restart budget replenished.
func (r *Record) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.WorkerIdle
	r.currentTaskID = ""
	r.restartAttempts = 0
	r.lastRestartAt = time.Time{}
}

// RestartAttempts returns the current restart attempt count.
func (r *Record) RestartAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartAttempts
}

// LastRestartAt returns when the last recovery attempt happened.
func (r *Record) LastRestartAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRestartAt
}

// Counters returns (completed, failed).
func (r *Record) Counters() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasksCompleted, r.tasksFailed
}

// LatencyEWMA returns the exponentially weighted latency average.
func (r *Record) LatencyEWMA() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latencyEWMA
}

// Uptime returns how long the worker has been registered.
func (r *Record) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.registeredAt)
}

// Snapshot returns a point-in-time copy of the record.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:              r.id,
		Name:            r.name,
		Status:          r.status,
		CurrentTaskID:   r.currentTaskID,
		TasksCompleted:  r.tasksCompleted,
		TasksFailed:     r.tasksFailed,
		LatencyEWMA:     r.latencyEWMA,
		LastActive:      r.lastActive,
		Uptime:          r.now().Sub(r.registeredAt),
		RestartAttempts: r.restartAttempts,
		LastRestartAt:   r.lastRestartAt,
	}
}

// ─── Directory ──────────────────────────────────────────────────────────────

// Directory maps worker id → record. The map itself is guarded by one
// RWMutex but is only touched on register/lookup; all per-worker state
// lives behind the record's own lock.
type Directory struct {
	mu      sync.RWMutex
	workers map[string]*Record
	byName  map[string]*Record
	now     func() time.Time
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		workers: make(map[string]*Record),
		byName:  make(map[string]*Record),
		now:     time.Now,
	}
}

// NewWithClock creates a directory with an injectable clock for testing.
func NewWithClock(now func() time.Time) *Directory {
	d := New()
	d.now = now
	return d
}

// Register adds a worker in IDLE state. Re-registering an existing id
// returns the existing record unchanged.
func (d *Directory) Register(id, name string) *Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.workers[id]; ok {
		return r
	}
	r := &Record{
		id:           id,
		name:         name,
		status:       domain.WorkerIdle,
		registeredAt: d.now(),
		lastActive:   d.now(),
		now:          d.now,
	}
	d.workers[id] = r
	d.byName[name] = r
	return r
}

// Get returns the record for a worker id.
func (d *Directory) Get(id string) (*Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.workers[id]
	return r, ok
}

// GetByName returns the record for a worker name.
func (d *Directory) GetByName(name string) (*Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.byName[name]
	return r, ok
}

// List returns all records sorted by worker name.
func (d *Directory) List() []*Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*Record, 0, len(d.workers))
	for _, r := range d.workers {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].name < result[j].name })
	return result
}

// Size returns the number of registered workers.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.workers)
}
