package workload

import (
	"context"
	"testing"
	"time"

	"github.com/fleetforge/forge/internal/domain"
)

func TestExecuteSucceedsWithoutFailures(t *testing.T) {
	s := New(Config{BaseLatency: time.Millisecond, FailureRate: 0})
	err := s.Execute(context.Background(), domain.Task{ID: "t1"}, "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteAlwaysFailsAtRateOne(t *testing.T) {
	s := New(Config{BaseLatency: time.Millisecond, FailureRate: 1})
	for i := 0; i < 5; i++ {
		if err := s.Execute(context.Background(), domain.Task{ID: "t1"}, "w1"); err == nil {
			t.Fatal("expected simulated failure")
		}
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	s := New(Config{BaseLatency: time.Second, FailureRate: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Execute(ctx, domain.Task{ID: "t1"}, "w1")
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("execute ignored cancellation")
	}
}

func TestSetFailureRateClamps(t *testing.T) {
	s := New(DefaultConfig())
	s.SetFailureRate(2.0)
	if s.cfg.FailureRate != 1.0 {
		t.Fatalf("rate = %v, want clamped 1.0", s.cfg.FailureRate)
	}
	s.SetFailureRate(-1)
	if s.cfg.FailureRate != 0 {
		t.Fatalf("rate = %v, want clamped 0", s.cfg.FailureRate)
	}
}
