package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/fleetforge/forge/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestBreaker(t *testing.T, now func() time.Time) *CircuitBreaker {
	t.Helper()
	cb := New("w1", Config{
		FailureThreshold:  3,
		SuccessThreshold:  2,
		Timeout:           1 * time.Second,
		BackoffMultiplier: 2.0,
		TimeoutMax:        8 * time.Second,
		HalfOpenMaxCalls:  2,
	}, nil)
	cb.now = now
	return cb
}

// recordingSink collects emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (rs *recordingSink) Emit(e domain.Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.events = append(rs.events, e)
}

func (rs *recordingSink) types() []domain.EventType {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]domain.EventType, len(rs.events))
	for i, e := range rs.events {
		out[i] = e.Type
	}
	return out
}

// ─── State.String ───────────────────────────────────────────────────────────

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "CLOSED"},
		{Open, "OPEN"},
		{HalfOpen, "HALF_OPEN"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// ─── Closed ─────────────────────────────────────────────────────────────────

func TestBreaker_StartsClosedAndAllows(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	if cb.State() != Closed {
		t.Fatalf("initial state = %s, want CLOSED", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("CanExecute in CLOSED should be true")
	}
}

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != Closed {
		t.Fatalf("state after 2 failures = %s, want CLOSED (threshold=3)", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("state after 3 failures = %s, want OPEN", cb.State())
	}
}

func TestBreaker_SuccessResetsFailureCountWhileClosed(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	cb.RecordFailure()
	cb.RecordSuccess() // resets failure_count to 0
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != Closed {
		t.Errorf("state = %s, want CLOSED (count was reset by success)", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != Open {
		t.Errorf("state = %s, want OPEN after reaching threshold again", cb.State())
	}
}

// ─── Open → HalfOpen ────────────────────────────────────────────────────────

func TestBreaker_OpenBlocksUntilTimeout(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.CanExecute() {
		t.Fatal("CanExecute right after tripping should be false")
	}

	clock = clock.Add(999 * time.Millisecond)
	if cb.CanExecute() {
		t.Fatal("CanExecute just before timeout should be false")
	}

	clock = clock.Add(1 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("CanExecute at timeout should be true (and transition)")
	}
	if cb.State() != HalfOpen {
		t.Errorf("state after permitting call = %s, want HALF_OPEN", cb.State())
	}
}

func TestBreaker_HalfOpenCapsTrialCalls(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)

	// HalfOpenMaxCalls=2: the transitioning call consumes the first slot.
	if !cb.CanExecute() {
		t.Fatal("first trial call should be permitted")
	}
	if !cb.CanExecute() {
		t.Fatal("second trial call should be permitted")
	}
	if cb.CanExecute() {
		t.Error("third trial call should be rejected")
	}
}

// ─── HalfOpen → Closed / Open ───────────────────────────────────────────────

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.CanExecute() // → HALF_OPEN

	cb.RecordSuccess()
	if cb.State() != HalfOpen {
		t.Fatalf("state after 1 success = %s, want HALF_OPEN (threshold=2)", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("state after 2 successes = %s, want CLOSED", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("closed breaker should allow calls")
	}
}

// Each permitted trial call holds a slot only until its outcome lands, so
// a breaker with HalfOpenMaxCalls < SuccessThreshold can still close by
// running trials one after another.
func TestBreaker_SequentialTrialsCloseUnderDefaults(t *testing.T) {
	clock := time.Now()
	cfg := DefaultConfig() // HalfOpenMaxCalls=1, SuccessThreshold=2
	cb := New("w1", cfg, nil)
	cb.now = func() time.Time { return clock }

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(cfg.Timeout + time.Second)

	if !cb.CanExecute() {
		t.Fatal("first trial call should be permitted")
	}
	if cb.CanExecute() {
		t.Fatal("second call while the trial is in flight should be rejected")
	}
	cb.RecordSuccess()
	if cb.State() != HalfOpen {
		t.Fatalf("state after 1 success = %s, want HALF_OPEN (threshold=2)", cb.State())
	}
	if !cb.CanExecute() {
		t.Fatal("next trial after the outcome landed should be permitted")
	}
	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Fatalf("state after 2 sequential trials = %s, want CLOSED", cb.State())
	}
}

func TestBreaker_HalfOpenFailureReopensWithLargerBackoff(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if got := cb.Snapshot().CurrentTimeout; got != 1*time.Second {
		t.Fatalf("first open timeout = %v, want 1s", got)
	}

	clock = clock.Add(2 * time.Second)
	cb.CanExecute() // → HALF_OPEN
	cb.RecordFailure()

	if cb.State() != Open {
		t.Fatalf("state after half-open failure = %s, want OPEN", cb.State())
	}
	if got := cb.Snapshot().CurrentTimeout; got != 2*time.Second {
		t.Errorf("re-armed timeout = %v, want 2s (strictly larger)", got)
	}

	// Repeat: 2s → 4s → 8s, then capped at 8s.
	wantTimeouts := []time.Duration{4 * time.Second, 8 * time.Second, 8 * time.Second}
	for _, want := range wantTimeouts {
		clock = clock.Add(cb.Snapshot().CurrentTimeout)
		cb.CanExecute()
		cb.RecordFailure()
		if got := cb.Snapshot().CurrentTimeout; got != want {
			t.Errorf("timeout = %v, want %v", got, want)
		}
	}
}

func TestBreaker_CloseResetsBackoff(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Second)
	cb.CanExecute()
	cb.RecordFailure() // timeout now 2s

	clock = clock.Add(3 * time.Second)
	cb.CanExecute()
	cb.RecordSuccess()
	cb.RecordSuccess() // → CLOSED

	if got := cb.Snapshot().CurrentTimeout; got != 1*time.Second {
		t.Errorf("timeout after close = %v, want base 1s", got)
	}
}

// ─── ForceClose ─────────────────────────────────────────────────────────────

func TestBreaker_ForceClose(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.ForceClose()

	if cb.State() != Closed {
		t.Fatalf("state after ForceClose = %s, want CLOSED", cb.State())
	}
	snap := cb.Snapshot()
	if snap.FailureCount != 0 || snap.CurrentTimeout != 1*time.Second {
		t.Errorf("ForceClose should reset counters and timeout, got %+v", snap)
	}
}

// ─── Events ─────────────────────────────────────────────────────────────────

func TestBreaker_EmitsTransitionEvents(t *testing.T) {
	clock := time.Now()
	sink := &recordingSink{}
	cb := New("w1", Config{
		FailureThreshold:  2,
		SuccessThreshold:  1,
		Timeout:           1 * time.Second,
		BackoffMultiplier: 2.0,
		TimeoutMax:        8 * time.Second,
		HalfOpenMaxCalls:  1,
	}, sink)
	cb.now = func() time.Time { return clock }

	cb.RecordFailure()
	cb.RecordFailure() // → OPEN
	clock = clock.Add(2 * time.Second)
	cb.CanExecute()    // → HALF_OPEN
	cb.RecordSuccess() // → CLOSED

	want := []domain.EventType{
		domain.EventBreakerOpened,
		domain.EventBreakerHalfOpen,
		domain.EventBreakerClosed,
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("emitted %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// ─── Set ────────────────────────────────────────────────────────────────────

func TestSet_CreatesLazilyAndReuses(t *testing.T) {
	set := NewSet(DefaultConfig(), nil)

	a := set.For("w1")
	b := set.For("w1")
	if a != b {
		t.Error("For should return the same breaker for the same worker")
	}
	if set.For("w2") == a {
		t.Error("different workers must get different breakers")
	}
	if len(set.Snapshots()) != 2 {
		t.Errorf("Snapshots len = %d, want 2", len(set.Snapshots()))
	}
}

func TestSet_ConcurrentFor(t *testing.T) {
	set := NewSet(DefaultConfig(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set.For("shared").RecordFailure()
		}()
	}
	wg.Wait()

	if got := set.For("shared").Snapshot().FailureCount; got > 20 {
		t.Errorf("failure count = %d, want <= 20", got)
	}
}
