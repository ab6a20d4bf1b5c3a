package tuner

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/perf"
)

func newTestTuner(t *testing.T, cfg Config) (*SelfTuner, *perf.Tracker) {
	t.Helper()
	tracker := perf.NewTracker(100, perf.DefaultWeights())
	st := New(cfg, tracker, domain.NopSink{})
	st.rng = rand.New(rand.NewSource(1))
	return st, tracker
}

func continuousParam(name string, def, min, max, step float64) *Parameter {
	return &Parameter{Name: name, Type: Continuous, Default: def, Min: min, Max: max, Step: step}
}

func TestRegisterParameterValidatesDefault(t *testing.T) {
	st, _ := newTestTuner(t, DefaultConfig())
	err := st.RegisterParameter(continuousParam("rate", 500, 0, 100, 5))
	if !errors.Is(err, domain.ErrValueOutOfBounds) {
		t.Fatalf("expected ErrValueOutOfBounds for out-of-bounds default, got %v", err)
	}
	if err := st.RegisterParameter(continuousParam("rate", 50, 0, 100, 5)); err != nil {
		t.Fatalf("valid registration failed: %v", err)
	}
	if err := st.RegisterParameter(continuousParam("rate", 50, 0, 100, 5)); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestSetParameter(t *testing.T) {
	st, _ := newTestTuner(t, DefaultConfig())
	var applied []any
	p := continuousParam("rate", 50, 0, 100, 5)
	p.Apply = func(_ string, v any) error {
		applied = append(applied, v)
		return nil
	}
	if err := st.RegisterParameter(p); err != nil {
		t.Fatal(err)
	}

	if err := st.SetParameter("nope", 1.0); !errors.Is(err, domain.ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
	if err := st.SetParameter("rate", "fast"); !errors.Is(err, domain.ErrWrongValueType) {
		t.Fatalf("expected ErrWrongValueType, got %v", err)
	}
	if err := st.SetParameter("rate", 200.0); !errors.Is(err, domain.ErrValueOutOfBounds) {
		t.Fatalf("expected ErrValueOutOfBounds, got %v", err)
	}
	if err := st.SetParameter("rate", 72.0); err != nil {
		t.Fatalf("valid set failed: %v", err)
	}
	if got := p.Value(); got != 72.0 {
		t.Fatalf("value = %v, want 72", got)
	}
	if len(applied) != 1 || applied[0] != 72.0 {
		t.Fatalf("apply calls = %v, want [72]", applied)
	}
}

func TestApplyFailureRevertsValue(t *testing.T) {
	st, _ := newTestTuner(t, DefaultConfig())
	p := continuousParam("rate", 50, 0, 100, 5)
	p.Apply = func(string, any) error { return errors.New("component refused") }
	if err := st.RegisterParameter(p); err != nil {
		t.Fatal(err)
	}
	if err := st.SetParameter("rate", 60.0); err == nil {
		t.Fatal("expected apply error to propagate")
	}
	if got := p.Value(); got != 50.0 {
		t.Fatalf("value = %v, want reverted default 50", got)
	}
}

func TestCycleWarmingUpGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 10
	st, tracker := newTestTuner(t, cfg)
	for i := 0; i < 9; i++ {
		tracker.Record(perf.MetricSuccessRate, 1)
	}
	if err := st.Cycle(); !errors.Is(err, domain.ErrTunerWarmingUp) {
		t.Fatalf("expected ErrTunerWarmingUp, got %v", err)
	}
	tracker.Record(perf.MetricSuccessRate, 1)
	if err := st.Cycle(); err != nil {
		t.Fatalf("cycle with enough samples failed: %v", err)
	}
}

func TestBestKnownAndRollback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.Strategy = StrategyManual
	cfg.RollbackThreshold = 0.9
	st, tracker := newTestTuner(t, cfg)

	var applied []any
	p := continuousParam("rate", 50, 0, 100, 5)
	p.Apply = func(_ string, v any) error {
		applied = append(applied, v)
		return nil
	}
	if err := st.RegisterParameter(p); err != nil {
		t.Fatal(err)
	}

	// Good period: high success rate, best-known captured with rate=50.
	for i := 0; i < 10; i++ {
		tracker.Record(perf.MetricSuccessRate, 1)
	}
	if err := st.Cycle(); err != nil {
		t.Fatal(err)
	}
	best := st.BestScore()
	if best <= 0 {
		t.Fatalf("best score = %v, want > 0", best)
	}

	// Operator moves the parameter, then performance collapses.
	if err := st.SetParameter("rate", 80.0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 90; i++ {
		tracker.Record(perf.MetricSuccessRate, 0)
	}
	if err := st.Cycle(); err != nil {
		t.Fatal(err)
	}

	if got := p.Value(); got != 50.0 {
		t.Fatalf("value after rollback = %v, want best-known 50", got)
	}
	if st.BestScore() != best {
		t.Fatalf("best score changed on rollback: %v -> %v", best, st.BestScore())
	}
	// Apply ran once for the manual set and once for the rollback.
	if len(applied) != 2 || applied[1] != 50.0 {
		t.Fatalf("apply calls = %v, want [80 50]", applied)
	}
}

func TestExplorationKeepsBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.Strategy = StrategyGradientFree
	cfg.ExplorationRate = 1.0
	st, tracker := newTestTuner(t, cfg)

	cont := continuousParam("rate", 50, 0, 100, 30)
	disc := &Parameter{Name: "pool", Type: Discrete, Default: 4, Min: 1, Max: 8}
	cat := &Parameter{Name: "mode", Type: Categorical, Default: "adaptive",
		Choices: []string{"adaptive", "gradient_free", "manual"}}
	for _, p := range []*Parameter{cont, disc, cat} {
		if err := st.RegisterParameter(p); err != nil {
			t.Fatal(err)
		}
	}
	tracker.Record(perf.MetricSuccessRate, 1)

	for i := 0; i < 200; i++ {
		if err := st.Cycle(); err != nil {
			t.Fatal(err)
		}
		v := cont.Value().(float64)
		if v < cont.Min || v > cont.Max {
			t.Fatalf("cycle %d: continuous value %v escaped [%v, %v]", i, v, cont.Min, cont.Max)
		}
		n := disc.Value().(int)
		if float64(n) < disc.Min || float64(n) > disc.Max {
			t.Fatalf("cycle %d: discrete value %d escaped [%v, %v]", i, n, disc.Min, disc.Max)
		}
		mode := cat.Value().(string)
		found := false
		for _, c := range cat.Choices {
			if c == mode {
				found = true
			}
		}
		if !found {
			t.Fatalf("cycle %d: categorical value %q not in choices", i, mode)
		}
	}
}

func TestAdaptiveThrottlesOnErrorTrend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.Strategy = StrategyAdaptive
	st, tracker := newTestTuner(t, cfg)

	var got float64
	p := continuousParam(ParamDispatchRate, 100, 10, 500, 10)
	p.Apply = func(_ string, v any) error {
		got = v.(float64)
		return nil
	}
	if err := st.RegisterParameter(p); err != nil {
		t.Fatal(err)
	}

	// Error rate doubling across the window: trend = +100%.
	for _, v := range []float64{0.1, 0.1, 0.2, 0.2} {
		tracker.Record(perf.MetricErrorRate, v)
	}
	if err := st.Cycle(); err != nil {
		t.Fatal(err)
	}
	if got != 90.0 {
		t.Fatalf("dispatch rate after throttle = %v, want 90", got)
	}
}

func TestAdaptiveGrowsPoolOnLatencyTrend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.Strategy = StrategyAdaptive
	st, tracker := newTestTuner(t, cfg)

	p := &Parameter{Name: ParamPoolSize, Type: Discrete, Default: 4, Min: 1, Max: 5}
	if err := st.RegisterParameter(p); err != nil {
		t.Fatal(err)
	}

	for _, v := range []float64{100, 100, 150, 150} {
		tracker.Record(perf.MetricAvgLatencyMs, v)
	}
	if err := st.Cycle(); err != nil {
		t.Fatal(err)
	}
	if got := p.Value().(int); got != 5 {
		t.Fatalf("pool size = %d, want 5", got)
	}

	// At the upper bound: the rule must not push past Max.
	if err := st.Cycle(); err != nil {
		t.Fatal(err)
	}
	if got := p.Value().(int); got != 5 {
		t.Fatalf("pool size escaped bound: %d", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 1
	cfg.Strategy = StrategyManual
	cfg.HistorySize = 5
	st, tracker := newTestTuner(t, cfg)
	tracker.Record(perf.MetricSuccessRate, 1)

	for i := 0; i < 12; i++ {
		if err := st.Cycle(); err != nil {
			t.Fatal(err)
		}
	}
	h := st.History()
	if len(h) != 5 {
		t.Fatalf("history length = %d, want 5", len(h))
	}
	if h[0].Timestamp.After(h[4].Timestamp) {
		t.Fatal("history not oldest-first")
	}
}
