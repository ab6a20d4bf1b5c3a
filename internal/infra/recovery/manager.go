// Package recovery runs the periodic worker recovery sweep.
//
// Each sweep recomputes every worker's health score and decides whether to
// attempt a recovery: workers in ERROR, workers OFFLINE after the fleet is
// ready, and workers whose score dropped below the floor while their
// breaker is open. Attempts are bounded by a restart cooldown and a budget
// of max restart attempts; an exhausted budget marks the worker DEGRADED
// and stops retrying until an operator resets it.
//
// "Recovery" here is a logical state reset of coordinator bookkeeping —
// the worker layer owns any actual process respawn.
package recovery

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/health"
	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
	"github.com/fleetforge/forge/internal/infra/metrics"
)

// Config configures the recovery manager.
type Config struct {
	SweepInterval      time.Duration // how often to sweep (default 10s)
	RestartCooldown    time.Duration // min gap between attempts per worker (default 30s)
	MaxRestartAttempts int           // restart budget absent an intervening success (default 3)
	HealthFloor        float64       // score below which an open-breaker worker recovers (default 30)
}

// DefaultConfig returns production recovery defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      10 * time.Second,
		RestartCooldown:    30 * time.Second,
		MaxRestartAttempts: 3,
		HealthFloor:        30,
	}
}

// Manager periodically sweeps the directory and recovers unhealthy workers.
type Manager struct {
	config   Config
	dir      *directory.Directory
	breakers *breaker.Set
	sink     domain.EventSink

	mu    sync.Mutex
	ready bool // fleet initialized — OFFLINE now means "lost", not "starting"

	now func() time.Time
}

// NewManager creates a recovery manager.
func NewManager(cfg Config, dir *directory.Directory, breakers *breaker.Set, sink domain.EventSink) *Manager {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Manager{
		config:   cfg,
		dir:      dir,
		breakers: breakers,
		sink:     sink,
		now:      time.Now,
	}
}

// SetReady marks the fleet as initialized. Before this, OFFLINE workers are
// assumed to still be starting up and are left alone.
func (m *Manager) SetReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = true
}

// Run executes the sweep loop until the context is cancelled. An in-flight
// sweep finishes before Run returns. Sweep errors are logged, never fatal.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one recovery pass over every registered worker.
func (m *Manager) Sweep() {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()

	for _, rec := range m.dir.List() {
		cb := m.breakers.For(rec.ID())

		completed, failed := rec.Counters()
		score := health.Score(health.Input{
			TasksCompleted: completed,
			TasksFailed:    failed,
			LatencyEWMA:    rec.LatencyEWMA(),
			BreakerState:   cb.State(),
			Uptime:         rec.Uptime(),
		})
		metrics.WorkerHealthScore.WithLabelValues(rec.ID()).Set(score)

		if !m.needsRecovery(rec, cb, score, ready) {
			continue
		}

		if err := m.attempt(rec, cb, score); err != nil {
			log.Printf("[recovery] worker %s not recovered: %v", rec.ID(), err)
		}
	}
}

func (m *Manager) needsRecovery(rec *directory.Record, cb *breaker.CircuitBreaker, score float64, ready bool) bool {
	switch rec.Status() {
	case domain.WorkerError:
		return true
	case domain.WorkerOffline:
		return ready
	case domain.WorkerDegraded:
		return false // waits for an external reset
	}
	return score < m.config.HealthFloor && cb.State() == breaker.Open
}

// attempt performs one recovery attempt under cooldown and budget limits.
func (m *Manager) attempt(rec *directory.Record, cb *breaker.CircuitBreaker, score float64) error {
	now := m.now()

	if last := rec.LastRestartAt(); !last.IsZero() && now.Sub(last) < m.config.RestartCooldown {
		metrics.RecoveryAttempts.WithLabelValues("cooldown").Inc()
		return fmt.Errorf("%w: last attempt %s ago", domain.ErrRecoveryCooldown, now.Sub(last))
	}

	if rec.RestartAttempts() >= m.config.MaxRestartAttempts {
		rec.MarkDegraded()
		metrics.RecoveryAttempts.WithLabelValues("exhausted").Inc()
		m.sink.Emit(domain.Event{
			Time:     now,
			Type:     domain.EventRecoveryFailed,
			WorkerID: rec.ID(),
			Detail:   fmt.Sprintf("restart budget exhausted after %d attempts", rec.RestartAttempts()),
		})
		return domain.ErrRecoveryExhausted
	}

	m.sink.Emit(domain.Event{
		Time:     now,
		Type:     domain.EventRecoveryStarted,
		WorkerID: rec.ID(),
		Detail:   fmt.Sprintf("health=%.1f attempts=%d", score, rec.RestartAttempts()),
	})

	// Logical reset: worker back to IDLE, task cleared, breaker forced closed.
	rec.Recover()
	cb.ForceClose()

	metrics.RecoveryAttempts.WithLabelValues("succeeded").Inc()
	m.sink.Emit(domain.Event{
		Time:     m.now(),
		Type:     domain.EventRecoverySucceeded,
		WorkerID: rec.ID(),
		Detail:   fmt.Sprintf("attempt %d of %d", rec.RestartAttempts(), m.config.MaxRestartAttempts),
	})
	return nil
}
