// Package workload provides a simulated worker fleet. The coordinator
// treats payloads as opaque; the simulator stands in for the real worker
// layer so the control loop has execution latency and failures to react
// to.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
)

// Config shapes the simulated fleet's behavior.
type Config struct {
	BaseLatency time.Duration // mean execution time (default 50ms)
	Jitter      time.Duration // uniform latency spread (default 30ms)
	FailureRate float64       // probability of task failure in [0,1]
}

// DefaultConfig returns a lightly flaky simulated fleet.
func DefaultConfig() Config {
	return Config{
		BaseLatency: 50 * time.Millisecond,
		Jitter:      30 * time.Millisecond,
		FailureRate: 0.05,
	}
}

// Simulator executes tasks by sleeping a jittered latency and failing at
// the configured rate. It implements the scheduler's Executor interface.
type Simulator struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
}

// New creates a simulator.
func New(cfg Config) *Simulator {
	if cfg.BaseLatency <= 0 {
		cfg.BaseLatency = 50 * time.Millisecond
	}
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute simulates running a task on a worker. It honors context
// cancellation during the simulated work.
func (s *Simulator) Execute(ctx context.Context, task domain.Task, workerID string) error {
	d, fail := s.roll()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if fail {
		return fmt.Errorf("worker %s: simulated failure on task %s", workerID, task.ID)
	}
	return nil
}

// SetFailureRate changes the failure probability at runtime. Useful for
// demos: push it up and watch breakers trip and recovery sweep.
func (s *Simulator) SetFailureRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	s.cfg.FailureRate = rate
}

func (s *Simulator) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.cfg.BaseLatency
	if s.cfg.Jitter > 0 {
		d += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	return d, s.rng.Float64() < s.cfg.FailureRate
}
