package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
	"github.com/fleetforge/forge/internal/infra/perf"
	"github.com/fleetforge/forge/internal/infra/router"
)

// captureExecutor records tasks in dispatch order and returns canned errors.
type captureExecutor struct {
	mu    sync.Mutex
	tasks []domain.Task
	fail  map[string]error // task ID -> error
	delay time.Duration
}

func (e *captureExecutor) Execute(_ context.Context, task domain.Task, _ string) error {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	if err, ok := e.fail[task.ID]; ok {
		return err
	}
	return nil
}

func (e *captureExecutor) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		ids[i] = t.ID
	}
	return ids
}

type fixture struct {
	dir      *directory.Directory
	breakers *breaker.Set
	tracker  *perf.Tracker
	exec     *captureExecutor
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg Config, table router.Table) *fixture {
	t.Helper()
	f := &fixture{
		dir:      directory.New(),
		breakers: breaker.NewSet(breaker.DefaultConfig(), domain.NopSink{}),
		tracker:  perf.NewTracker(0, perf.DefaultWeights()),
		exec:     &captureExecutor{fail: map[string]error{}},
	}
	rt := router.New(table, f.dir, f.breakers)
	f.sched = New(cfg, rt, f.dir, f.breakers, f.tracker, f.exec, nil)
	return f
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestScheduleEnqueuesWhenStopped(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.dir.Register("w1", "worker.one")

	worker, queued := f.sched.Schedule("t1", "compute", nil, 5)
	if !queued || worker != "" {
		t.Fatalf("expected queued task before Run, got worker=%q queued=%v", worker, queued)
	}
	if f.sched.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, want 1", f.sched.QueueDepth())
	}
}

func TestDispatchStrictPriorityOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 1
	cfg.DispatchRatePerSec = 0
	cfg.PollInterval = 5 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")

	// Enqueue before starting so the single loop drains them in heap order.
	f.sched.Schedule("t1", "compute", nil, 5)
	time.Sleep(time.Millisecond)
	f.sched.Schedule("t2", "compute", nil, 1)
	time.Sleep(time.Millisecond)
	f.sched.Schedule("t3", "compute", nil, 5)

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	waitFor(t, 2*time.Second, func() bool { return f.sched.Stats().TotalCompleted == 3 })

	got := f.exec.order()
	want := []string{"t2", "t1", "t3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestImmediateDispatchWhenQueueEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchRatePerSec = 0
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	worker, queued := f.sched.Schedule("t1", "compute", nil, 5)
	if queued {
		t.Fatal("expected immediate dispatch with empty queue and idle worker")
	}
	if worker != "w1" {
		t.Fatalf("assigned worker = %q, want w1", worker)
	}
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalCompleted == 1 })
}

func TestRequeueOnRoutingMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 1
	cfg.DispatchRatePerSec = 0
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RequeueBackoff = 5 * time.Millisecond
	f := newFixture(t, cfg, nil)

	// No workers registered: every pop is a routing miss.
	f.sched.Schedule("t1", "compute", nil, 5)
	f.sched.Run(context.Background())
	defer f.sched.Stop()

	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalRequeues >= 3 })
	if f.sched.QueueDepth()+int(f.sched.Stats().InFlight) == 0 && f.sched.Stats().TotalCompleted == 0 {
		t.Fatal("task was dropped during routing misses")
	}

	// Register a worker and the task finally dispatches.
	f.dir.Register("w1", "worker.one")
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalCompleted == 1 })
}

func TestFailureUpdatesBreakerAndDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 1
	cfg.DispatchRatePerSec = 0
	cfg.PollInterval = 5 * time.Millisecond
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")
	f.exec.fail["t1"] = errors.New("boom")

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	f.sched.Schedule("t1", "compute", nil, 5)
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalFailed == 1 })

	rec, _ := f.dir.Get("w1")
	snap := rec.Snapshot()
	if snap.TasksFailed != 1 {
		t.Fatalf("directory tasks_failed = %d, want 1", snap.TasksFailed)
	}
	if snap.Status != domain.WorkerError {
		t.Fatalf("worker status = %s, want %s", snap.Status, domain.WorkerError)
	}
	if got := f.breakers.For("w1").Snapshot().FailureCount; got != 1 {
		t.Fatalf("breaker failure count = %d, want 1", got)
	}
}

func TestCompletionFeedsPerformanceTracker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchRatePerSec = 0
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	f.sched.Schedule("t1", "compute", nil, 5)
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalCompleted == 1 })

	avgs := f.tracker.Averages()
	if _, ok := avgs[perf.MetricSuccessRate]; !ok {
		t.Fatal("success_rate sample not recorded")
	}
	if _, ok := avgs[perf.MetricAvgLatencyMs]; !ok {
		t.Fatal("avg_latency_ms sample not recorded")
	}
}

// Throughput is sampled from the spacing between consecutive completions,
// so it needs at least two of them — and once present it participates in
// the composite score alongside the other three windows.
func TestCompletionsFeedThroughputWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchRatePerSec = 0
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	f.sched.Schedule("t1", "compute", nil, 5)
	f.sched.Schedule("t2", "compute", nil, 5)
	f.sched.Schedule("t3", "compute", nil, 5)
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalCompleted == 3 })

	avgs := f.tracker.Averages()
	tp, ok := avgs[perf.MetricThroughput]
	if !ok {
		t.Fatal("throughput sample not recorded after multiple completions")
	}
	if tp <= 0 {
		t.Errorf("throughput average = %v, want > 0", tp)
	}
	if got := f.tracker.CompositeScore(); got <= 0 {
		t.Errorf("composite score = %v, want > 0 with all four windows live", got)
	}
}

func TestRateLimitSpacesDispatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 2
	cfg.DispatchRatePerSec = 20 // 50ms interval
	cfg.PollInterval = time.Millisecond
	f := newFixture(t, cfg, nil)
	f.dir.Register("w1", "worker.one")
	f.dir.Register("w2", "worker.two")

	for i := 0; i < 4; i++ {
		f.sched.Schedule("", "compute", nil, 5)
	}
	start := time.Now()
	f.sched.Run(context.Background())
	defer f.sched.Stop()

	waitFor(t, 2*time.Second, func() bool { return f.sched.Stats().TotalCompleted == 4 })
	// 4 dispatches at 20/sec: slots at 0, 50, 100, 150ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("4 dispatches finished in %v, rate limit not applied", elapsed)
	}
}

func TestSetRateLimitTakesEffect(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.sched.SetRateLimit(250)
	if got := f.sched.RateLimit(); got < 249 || got > 251 {
		t.Fatalf("rate limit = %v, want 250", got)
	}
	f.sched.SetRateLimit(0)
	if got := f.sched.RateLimit(); got != 0 {
		t.Fatalf("rate limit = %v, want unlimited", got)
	}
}

func TestSetConcurrencyResizesPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 2
	f := newFixture(t, cfg, nil)

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	f.sched.SetConcurrency(5)
	if got := f.sched.Concurrency(); got != 5 {
		t.Fatalf("concurrency = %d, want 5", got)
	}
	f.sched.SetConcurrency(1)
	if got := f.sched.Concurrency(); got != 1 {
		t.Fatalf("concurrency = %d, want 1", got)
	}
	// A single remaining loop must still drain the queue.
	f.dir.Register("w1", "worker.one")
	f.sched.Schedule("t1", "compute", nil, 5)
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalCompleted == 1 })
}

func TestStopWaitsForInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentWorkers = 1
	cfg.DispatchRatePerSec = 0
	cfg.PollInterval = time.Millisecond
	f := newFixture(t, cfg, nil)
	f.exec.delay = 50 * time.Millisecond
	f.dir.Register("w1", "worker.one")

	f.sched.Run(context.Background())
	f.sched.Schedule("t1", "compute", nil, 5)
	waitFor(t, time.Second, func() bool { return f.sched.Stats().TotalDispatched == 1 })

	f.sched.Stop()
	if got := f.sched.Stats().TotalCompleted; got != 1 {
		t.Fatalf("in-flight task not completed before Stop returned, completed = %d", got)
	}
}

func TestPreferredWorkerRouting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DispatchRatePerSec = 0
	table := router.Table{"compute": {"worker.fast"}}
	f := newFixture(t, cfg, table)
	f.dir.Register("w1", "worker.slow")
	f.dir.Register("w2", "worker.fast")

	f.sched.Run(context.Background())
	defer f.sched.Stop()

	worker, queued := f.sched.Schedule("t1", "compute", nil, 5)
	if queued {
		t.Fatal("expected immediate dispatch")
	}
	if worker != "w2" {
		t.Fatalf("routed to %q, want preferred worker w2", worker)
	}
}
