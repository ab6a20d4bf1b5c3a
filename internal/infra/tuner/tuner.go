// Package tuner implements the closed-loop self-tuning controller: it
// reads the performance tracker's composite score on a fixed interval,
// perturbs or rule-adjusts registered parameters, and rolls the whole
// parameter set back to the best-known snapshot on regression.
package tuner

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/metrics"
	"github.com/fleetforge/forge/internal/infra/perf"
)

// Strategy names a tuning strategy. Bayesian and manual are declared
// surfaces only: bayesian delegates to external tooling, manual to
// explicit SetParameter calls; neither adjusts anything per cycle.
type Strategy string

const (
	StrategyGradientFree Strategy = "gradient_free"
	StrategyAdaptive     Strategy = "adaptive"
	StrategyBayesian     Strategy = "bayesian"
	StrategyManual       Strategy = "manual"
)

// Well-known parameter names the adaptive strategy's rules target.
const (
	ParamDispatchRate = "dispatch_rate_limit"
	ParamPoolSize     = "max_concurrent_workers"
)

// Config configures the self-tuner.
type Config struct {
	Interval          time.Duration // cycle period (default 30s)
	MinSamples        int           // samples required before acting (default 20)
	ExplorationRate   float64       // gradient-free perturbation probability (default 0.3)
	RollbackThreshold float64       // score fraction of best that triggers rollback (default 0.9)
	Strategy          Strategy      // active strategy (default adaptive)
	HistorySize       int           // retained performance snapshots (default 100)
}

// DefaultConfig returns production tuner defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		MinSamples:        20,
		ExplorationRate:   0.3,
		RollbackThreshold: 0.9,
		Strategy:          StrategyAdaptive,
		HistorySize:       100,
	}
}

// PerformanceSnapshot captures parameter values and metric averages at
// one cycle boundary. The history is append-only and used only for
// best-known tracking and rollback.
type PerformanceSnapshot struct {
	Timestamp  time.Time          `json:"timestamp"`
	Parameters map[string]any     `json:"parameters"`
	Averages   map[string]float64 `json:"metric_averages"`
	Composite  float64            `json:"composite_score"`
}

// SelfTuner owns the parameter registry and the tuning cycle. The
// performance tracker window is owned exclusively by the tuner's reads;
// producers only append samples.
type SelfTuner struct {
	mu      sync.Mutex
	config  Config
	tracker *perf.Tracker

	// strategy has its own lock: an apply callback may switch it from
	// inside a cycle that already holds mu.
	stratMu  sync.Mutex
	strategy Strategy

	sink    domain.EventSink
	params  map[string]*Parameter
	best    *PerformanceSnapshot
	history []PerformanceSnapshot
	rng     *rand.Rand
	now     func() time.Time
}

// New creates a self-tuner. The sink may be nil.
func New(cfg Config, tracker *perf.Tracker, sink domain.EventSink) *SelfTuner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.RollbackThreshold <= 0 {
		cfg.RollbackThreshold = 0.9
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAdaptive
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &SelfTuner{
		config:   cfg,
		strategy: cfg.Strategy,
		tracker:  tracker,
		sink:     nonNil(sink),
		params:   make(map[string]*Parameter),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

func nonNil(sink domain.EventSink) domain.EventSink {
	if sink == nil {
		return domain.NopSink{}
	}
	return sink
}

// ─── Registry ───────────────────────────────────────────────────────────────

// RegisterParameter adds a tunable to the registry. The default value
// must satisfy the parameter's own bounds. Called once per parameter at
// startup.
func (st *SelfTuner) RegisterParameter(p *Parameter) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.params[p.Name]; exists {
		return fmt.Errorf("parameter %q already registered", p.Name)
	}
	if err := p.validate(p.Default); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	p.current = p.Default
	st.params[p.Name] = p
	st.exportParamLocked(p)
	return nil
}

// SetParameter validates and commits a value, invoking the parameter's
// apply callback. This is the manual-override surface: out-of-bounds or
// wrongly typed values are rejected, and a failed apply leaves the old
// value in place.
func (st *SelfTuner) SetParameter(name string, value any) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.params[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownParameter, name)
	}
	return st.commitLocked(p, value)
}

// Parameters returns a snapshot of every registered parameter's current
// state, keyed by name.
func (st *SelfTuner) Parameters() map[string]ParamView {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]ParamView, len(st.params))
	for name, p := range st.params {
		out[name] = ParamView{
			Name:    name,
			Type:    p.Type.String(),
			Value:   p.current,
			Default: p.Default,
			Min:     p.Min,
			Max:     p.Max,
			Choices: p.Choices,
		}
	}
	return out
}

// ParamView is the read-only external representation of a parameter.
type ParamView struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Value   any      `json:"value"`
	Default any      `json:"default"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// commitLocked validates, applies, and records a value change. On apply
// failure the in-memory value reverts and the error is returned.
func (st *SelfTuner) commitLocked(p *Parameter, value any) error {
	if err := p.validate(value); err != nil {
		return err
	}
	prev := p.current
	p.current = value
	if p.Apply != nil {
		if err := p.Apply(p.Name, value); err != nil {
			p.current = prev
			return fmt.Errorf("apply %s: %w", p.Name, err)
		}
	}
	st.exportParamLocked(p)
	st.sink.Emit(domain.Event{
		Time:   st.now(),
		Type:   domain.EventParameterChanged,
		Detail: fmt.Sprintf("%s: %v -> %v", p.Name, prev, value),
	})
	return nil
}

func (st *SelfTuner) exportParamLocked(p *Parameter) {
	if v, ok := p.numeric(); ok {
		metrics.ParameterValue.WithLabelValues(p.Name).Set(v)
	}
}

// ─── Tuning Loop ────────────────────────────────────────────────────────────

// Run executes tuning cycles on the configured interval until the
// context is cancelled. Cycle errors (including warming up) are logged
// and never terminate the loop.
func (st *SelfTuner) Run(ctx context.Context) {
	ticker := time.NewTicker(st.config.Interval)
	defer ticker.Stop()
	log.Printf("[tuner] started: strategy=%s interval=%s", st.ActiveStrategy(), st.config.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[tuner] stopped")
			return
		case <-ticker.C:
			if err := st.Cycle(); err != nil {
				log.Printf("[tuner] cycle skipped: %v", err)
			}
		}
	}
}

// SetStrategy switches the active tuning strategy for subsequent cycles.
func (st *SelfTuner) SetStrategy(s Strategy) {
	st.stratMu.Lock()
	defer st.stratMu.Unlock()
	st.strategy = s
}

// ActiveStrategy returns the strategy applied on the next cycle.
func (st *SelfTuner) ActiveStrategy() Strategy {
	st.stratMu.Lock()
	defer st.stratMu.Unlock()
	return st.strategy
}

// Cycle runs one tuning pass: gate on minimum samples, score, guard
// against regression, then let the active strategy adjust parameters.
func (st *SelfTuner) Cycle() error {
	if st.tracker.SampleCount() < st.config.MinSamples {
		return domain.ErrTunerWarmingUp
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	score := st.tracker.CompositeScore()
	metrics.CompositeScore.Set(score)
	st.recordSnapshotLocked(score)

	if st.best != nil && score < st.config.RollbackThreshold*st.best.Composite {
		st.rollbackLocked(score)
		return nil
	}
	if st.best == nil || score > st.best.Composite {
		snap := st.snapshotLocked(score)
		st.best = &snap
	}

	switch st.ActiveStrategy() {
	case StrategyGradientFree:
		st.exploreLocked()
	case StrategyAdaptive:
		st.adaptLocked()
	case StrategyBayesian, StrategyManual:
		// Externally driven: nothing to do per cycle.
	}
	return nil
}

// History returns a copy of the retained performance snapshots, oldest
// first.
func (st *SelfTuner) History() []PerformanceSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]PerformanceSnapshot, len(st.history))
	copy(out, st.history)
	return out
}

// BestScore returns the best-known composite score, or 0 before any
// cycle has completed.
func (st *SelfTuner) BestScore() float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.best == nil {
		return 0
	}
	return st.best.Composite
}

func (st *SelfTuner) snapshotLocked(score float64) PerformanceSnapshot {
	values := make(map[string]any, len(st.params))
	for name, p := range st.params {
		values[name] = p.current
	}
	return PerformanceSnapshot{
		Timestamp:  st.now(),
		Parameters: values,
		Averages:   st.tracker.Averages(),
		Composite:  score,
	}
}

func (st *SelfTuner) recordSnapshotLocked(score float64) {
	st.history = append(st.history, st.snapshotLocked(score))
	if len(st.history) > st.config.HistorySize {
		st.history = st.history[1:]
	}
}

// rollbackLocked reverts every parameter to the best-known snapshot,
// re-invoking apply callbacks. A parameter whose apply fails keeps its
// pre-rollback value; the rollback continues with the rest.
func (st *SelfTuner) rollbackLocked(score float64) {
	log.Printf("[tuner] regression: score %.4f < %.2f x best %.4f, rolling back",
		score, st.config.RollbackThreshold, st.best.Composite)
	for name, value := range st.best.Parameters {
		p, ok := st.params[name]
		if !ok {
			continue
		}
		if err := st.commitLocked(p, value); err != nil {
			log.Printf("[tuner] rollback of %s failed: %v", name, err)
		}
	}
	metrics.TuningRollbacks.Inc()
	st.sink.Emit(domain.Event{
		Time:   st.now(),
		Type:   domain.EventParameterRollback,
		Detail: fmt.Sprintf("score %.4f below %.2f of best %.4f", score, st.config.RollbackThreshold, st.best.Composite),
	})
}

// ─── Strategies ─────────────────────────────────────────────────────────────

// exploreLocked implements gradient-free exploration: with probability
// ExplorationRate, pick one random parameter and try a neighboring
// value. Out-of-bounds neighbors are discarded, not clamped.
func (st *SelfTuner) exploreLocked() {
	if len(st.params) == 0 || st.rng.Float64() >= st.config.ExplorationRate {
		return
	}
	names := make([]string, 0, len(st.params))
	for name := range st.params {
		names = append(names, name)
	}
	p := st.params[names[st.rng.Intn(len(names))]]

	candidate, ok := st.neighborLocked(p)
	if !ok {
		return
	}
	if err := p.validate(candidate); err != nil {
		return
	}
	if err := st.commitLocked(p, candidate); err != nil {
		log.Printf("[tuner] explore %s: %v", p.Name, err)
	}
}

func (st *SelfTuner) neighborLocked(p *Parameter) (any, bool) {
	switch p.Type {
	case Continuous:
		cur, _ := p.current.(float64)
		step := p.Step
		if step == 0 {
			step = (p.Max - p.Min) / 10
		}
		return cur + st.rng.NormFloat64()*step, true
	case Discrete:
		cur, _ := p.current.(int)
		if st.rng.Intn(2) == 0 {
			return cur + 1, true
		}
		return cur - 1, true
	case Categorical:
		if len(p.Choices) == 0 {
			return nil, false
		}
		return p.Choices[st.rng.Intn(len(p.Choices))], true
	}
	return nil, false
}

// adaptLocked implements the rule-based strategy: a rising error rate
// throttles dispatch, rising latency grows the pool.
func (st *SelfTuner) adaptLocked() {
	if st.tracker.Trend(perf.MetricErrorRate) > 0.10 {
		if p, ok := st.params[ParamDispatchRate]; ok {
			cur, _ := p.current.(float64)
			next := cur * 0.9
			if next < p.Min {
				next = p.Min
			}
			if next != cur {
				if err := st.commitLocked(p, next); err != nil {
					log.Printf("[tuner] adapt %s: %v", p.Name, err)
				}
			}
		}
	}
	if st.tracker.Trend(perf.MetricAvgLatencyMs) > 0.20 {
		if p, ok := st.params[ParamPoolSize]; ok {
			cur, _ := p.current.(int)
			if float64(cur+1) <= p.Max {
				if err := st.commitLocked(p, cur+1); err != nil {
					log.Printf("[tuner] adapt %s: %v", p.Name, err)
				}
			}
		}
	}
}
