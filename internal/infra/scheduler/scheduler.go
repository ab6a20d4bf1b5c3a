// Package scheduler implements priority task scheduling and dispatch.
//
// Core concepts:
//   - Priority queue: min-heap ordered by (priority, enqueued_at) —
//     strict priority-first, FIFO within a band
//   - Dispatch loops: a resizable pool of goroutines that pop, route,
//     and dispatch tasks to workers
//   - Rate limiting: a shared minimum inter-dispatch interval bounds
//     total throughput system-wide
//   - Routing miss: never a task failure — the entry is re-queued with
//     its original enqueue time and retried until a worker is eligible
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
	"github.com/fleetforge/forge/internal/infra/dsa"
	"github.com/fleetforge/forge/internal/infra/metrics"
	"github.com/fleetforge/forge/internal/infra/perf"
	"github.com/fleetforge/forge/internal/infra/router"
)

// Executor runs a task on a worker. This is the boundary to the worker
// layer: the scheduler never interprets payloads, it only records the
// outcome. Implementations must honor context cancellation.
type Executor interface {
	Execute(ctx context.Context, task domain.Task, workerID string) error
}

// Config configures the scheduler.
type Config struct {
	MaxConcurrentWorkers int           // dispatch loop count (default 4)
	DispatchRatePerSec   float64       // system-wide dispatch cap, 0 = unlimited
	PollInterval         time.Duration // queue-empty backoff (default 50ms)
	RequeueBackoff       time.Duration // routing-miss backoff (default 100ms)
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkers: 4,
		DispatchRatePerSec:   100,
		PollInterval:         50 * time.Millisecond,
		RequeueBackoff:       100 * time.Millisecond,
	}
}

// Scheduler owns the priority queue and the dispatch loop pool.
type Scheduler struct {
	queue    *dsa.PriorityQueue
	router   *router.Router
	dir      *directory.Directory
	breakers *breaker.Set
	tracker  *perf.Tracker
	exec     Executor
	sink     domain.EventSink

	// Loop lifecycle. loops holds one cancel func per running dispatch
	// loop so the pool can grow and shrink at runtime.
	mu      sync.Mutex
	config  Config
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	loops   []context.CancelFunc
	wg      sync.WaitGroup

	// Rate limiter: dispatches reserve slots on a shared timeline.
	rateMu       sync.Mutex
	minInterval  time.Duration
	nextDispatch time.Time

	// Throughput sampling: spacing between consecutive completions.
	tpMu           sync.Mutex
	lastCompletion time.Time

	// Stats
	totalScheduled  atomic.Int64
	totalDispatched atomic.Int64
	totalCompleted  atomic.Int64
	totalFailed     atomic.Int64
	totalRequeues   atomic.Int64
	inFlight        atomic.Int64
}

// New creates a scheduler. The sink may be nil.
func New(cfg Config, rt *router.Router, dir *directory.Directory, breakers *breaker.Set, tracker *perf.Tracker, exec Executor, sink domain.EventSink) *Scheduler {
	if cfg.MaxConcurrentWorkers <= 0 {
		cfg.MaxConcurrentWorkers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.RequeueBackoff <= 0 {
		cfg.RequeueBackoff = 100 * time.Millisecond
	}
	if sink == nil {
		sink = domain.NopSink{}
	}
	s := &Scheduler{
		queue:    dsa.NewPriorityQueue(),
		router:   rt,
		dir:      dir,
		breakers: breakers,
		tracker:  tracker,
		exec:     exec,
		sink:     sink,
		config:   cfg,
	}
	s.setRateLocked(cfg.DispatchRatePerSec)
	return s
}

// ─── Scheduling ─────────────────────────────────────────────────────────────

// Schedule submits a task. If the queue is empty and an eligible worker
// exists right now, the task dispatches immediately and the assigned
// worker id is returned with queued=false; otherwise the task joins the
// priority queue (queued=true) and a dispatch loop picks it up.
// A task is never dropped: routing misses re-queue it indefinitely.
func (s *Scheduler) Schedule(taskID, taskType string, payload []byte, priority int) (string, bool) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := domain.Task{
		ID:         taskID,
		Type:       taskType,
		Payload:    payload,
		Priority:   priority,
		Status:     domain.TaskQueued,
		EnqueuedAt: time.Now(),
	}
	s.totalScheduled.Add(1)

	// Fast path: empty queue, worker available. Skip the heap entirely.
	// Only valid when nothing is waiting, so queued tasks keep strict
	// priority order.
	if ctx, running := s.runContext(); running && s.queue.Len() == 0 {
		if rec := s.router.Route(taskType); rec != nil && rec.MarkBusy(task.ID) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dispatch(context.WithoutCancel(ctx), task, rec)
			}()
			return rec.ID(), false
		}
	}

	s.queue.Push(dsa.HeapItem{
		Key:         task.ID,
		Priority:    task.Priority,
		SubmittedAt: task.EnqueuedAt,
		Value:       task,
	})
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	return "", true
}

// QueueDepth returns the number of tasks waiting in the queue.
func (s *Scheduler) QueueDepth() int { return s.queue.Len() }

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Run starts the dispatch loops. It returns immediately; call Stop (or
// cancel the context) to shut down.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for i := 0; i < s.config.MaxConcurrentWorkers; i++ {
		s.startLoopLocked()
	}
}

// Stop signals all loops, waits for in-flight dispatches to finish, and
// returns. Queued tasks stay in the queue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.loops = nil
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runContext() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx, s.running
}

func (s *Scheduler) startLoopLocked() {
	loopCtx, loopCancel := context.WithCancel(s.runCtx)
	s.loops = append(s.loops, loopCancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(loopCtx)
	}()
}

// ─── Runtime Tuning Hooks ───────────────────────────────────────────────────

// SetConcurrency resizes the dispatch loop pool. Shrinking cancels excess
// loops; each finishes its current dispatch before exiting.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.MaxConcurrentWorkers = n
	if !s.running {
		return
	}
	for len(s.loops) < n {
		s.startLoopLocked()
	}
	for len(s.loops) > n {
		last := len(s.loops) - 1
		s.loops[last]()
		s.loops = s.loops[:last]
	}
}

// Concurrency returns the configured dispatch loop count.
func (s *Scheduler) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.MaxConcurrentWorkers
}

// SetRateLimit updates the dispatches/second cap. Zero disables the cap.
func (s *Scheduler) SetRateLimit(perSec float64) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	s.setRateLocked(perSec)
}

// RateLimit returns the current dispatches/second cap.
func (s *Scheduler) RateLimit() float64 {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if s.minInterval == 0 {
		return 0
	}
	return float64(time.Second) / float64(s.minInterval)
}

func (s *Scheduler) setRateLocked(perSec float64) {
	if perSec <= 0 {
		s.minInterval = 0
		return
	}
	s.minInterval = time.Duration(float64(time.Second) / perSec)
}

// ─── Dispatch ───────────────────────────────────────────────────────────────

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := s.queue.Pop()
		if !ok {
			sleepCtx(ctx, s.pollInterval())
			continue
		}
		metrics.QueueDepth.Set(float64(s.queue.Len()))
		task := item.Value.(domain.Task)

		rec := s.router.Route(task.Type)
		if rec == nil || !rec.MarkBusy(task.ID) {
			// Routing miss (or lost the race for the worker): put the
			// entry back untouched so its place in the band survives.
			s.queue.Push(item)
			metrics.QueueDepth.Set(float64(s.queue.Len()))
			s.totalRequeues.Add(1)
			metrics.RoutingMisses.Inc()
			sleepCtx(ctx, s.requeueBackoff())
			continue
		}

		// In-flight work must finish even if this loop is told to stop.
		s.dispatch(context.WithoutCancel(ctx), task, rec)
	}
}

// dispatch rate-limits, executes, and records the outcome into the
// breaker, the directory, and the performance tracker.
func (s *Scheduler) dispatch(ctx context.Context, task domain.Task, rec *directory.Record) {
	s.waitTurn()

	task.Status = domain.TaskDispatched
	task.AssignedWorker = rec.ID()
	s.totalDispatched.Add(1)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	metrics.TasksDispatched.WithLabelValues(task.Type).Inc()
	s.sink.Emit(domain.Event{
		Time:     time.Now(),
		Type:     domain.EventTaskDispatched,
		WorkerID: rec.ID(),
		TaskID:   task.ID,
	})

	start := time.Now()
	err := s.exec.Execute(ctx, task, rec.ID())
	latency := time.Since(start)

	cb := s.breakers.For(rec.ID())
	if err != nil {
		rec.RecordFailure()
		cb.RecordFailure()
		s.totalFailed.Add(1)
		s.tracker.Record(perf.MetricSuccessRate, 0)
		s.tracker.Record(perf.MetricErrorRate, 1)
		metrics.TasksFailed.WithLabelValues(task.Type).Inc()
		s.sink.Emit(domain.Event{
			Time:     time.Now(),
			Type:     domain.EventTaskFailed,
			WorkerID: rec.ID(),
			TaskID:   task.ID,
			Detail:   err.Error(),
		})
		return
	}

	rec.RecordCompletion(latency)
	cb.RecordSuccess()
	s.totalCompleted.Add(1)
	s.tracker.Record(perf.MetricSuccessRate, 1)
	s.tracker.Record(perf.MetricErrorRate, 0)
	s.tracker.Record(perf.MetricAvgLatencyMs, float64(latency)/float64(time.Millisecond))
	if tp, ok := s.throughputSample(); ok {
		s.tracker.Record(perf.MetricThroughput, tp)
	}
	metrics.TasksCompleted.WithLabelValues(task.Type).Inc()
	metrics.TaskLatency.WithLabelValues(task.Type).Observe(latency.Seconds())
	s.sink.Emit(domain.Event{
		Time:     time.Now(),
		Type:     domain.EventTaskCompleted,
		WorkerID: rec.ID(),
		TaskID:   task.ID,
	})
}

// waitTurn reserves the next dispatch slot on the shared rate-limit
// timeline and sleeps until it arrives. Reservation happens under the
// lock; the sleep does not, so waiting dispatchers queue up in order
// without serializing on each other's sleeps.
func (s *Scheduler) waitTurn() {
	s.rateMu.Lock()
	if s.minInterval == 0 {
		s.rateMu.Unlock()
		return
	}
	now := time.Now()
	slot := s.nextDispatch
	if slot.Before(now) {
		slot = now
	}
	s.nextDispatch = slot.Add(s.minInterval)
	s.rateMu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		time.Sleep(wait)
	}
}

// throughputSample turns the spacing between this completion and the
// previous one into an instantaneous tasks/second figure. The first
// completion has no spacing to measure and yields no sample.
func (s *Scheduler) throughputSample() (float64, bool) {
	s.tpMu.Lock()
	defer s.tpMu.Unlock()
	now := time.Now()
	prev := s.lastCompletion
	s.lastCompletion = now
	if prev.IsZero() {
		return 0, false
	}
	gap := now.Sub(prev)
	if gap <= 0 {
		gap = time.Millisecond
	}
	return float64(time.Second) / float64(gap), true
}

func (s *Scheduler) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.PollInterval
}

func (s *Scheduler) requeueBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.RequeueBackoff
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats is a snapshot of scheduler counters.
type Stats struct {
	QueueDepth      int     `json:"queue_depth"`
	InFlight        int64   `json:"in_flight"`
	Concurrency     int     `json:"concurrency"`
	RatePerSec      float64 `json:"rate_per_sec"`
	TotalScheduled  int64   `json:"total_scheduled"`
	TotalDispatched int64   `json:"total_dispatched"`
	TotalCompleted  int64   `json:"total_completed"`
	TotalFailed     int64   `json:"total_failed"`
	TotalRequeues   int64   `json:"total_requeues"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		QueueDepth:      s.queue.Len(),
		InFlight:        s.inFlight.Load(),
		Concurrency:     s.Concurrency(),
		RatePerSec:      s.RateLimit(),
		TotalScheduled:  s.totalScheduled.Load(),
		TotalDispatched: s.totalDispatched.Load(),
		TotalCompleted:  s.totalCompleted.Load(),
		TotalFailed:     s.totalFailed.Load(),
		TotalRequeues:   s.totalRequeues.Load(),
	}
}
