package breaker

import (
	"sync"
	"time"

	"github.com/fleetforge/forge/internal/domain"
)

// Set holds one breaker per worker, created lazily on first use.
// The map lock is only held for lookup/insert; all breaker state is behind
// each breaker's own lock, so unrelated workers never serialize.
type Set struct {
	mu       sync.RWMutex
	config   Config
	sink     domain.EventSink
	breakers map[string]*CircuitBreaker
	now      func() time.Time
}

// NewSet creates a breaker set sharing one config and event sink.
func NewSet(cfg Config, sink domain.EventSink) *Set {
	return &Set{
		config:   cfg,
		sink:     sink,
		breakers: make(map[string]*CircuitBreaker),
		now:      time.Now,
	}
}

// NewSetWithClock creates a set whose breakers share an injectable clock.
func NewSetWithClock(cfg Config, sink domain.EventSink, now func() time.Time) *Set {
	s := NewSet(cfg, sink)
	s.now = now
	return s
}

// For returns the breaker for a worker, creating it on first use.
func (s *Set) For(workerID string) *CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[workerID]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[workerID]; ok {
		return cb
	}
	cb = New(workerID, s.config, s.sink)
	cb.now = s.now
	s.breakers[workerID] = cb
	return cb
}

// Snapshots returns a snapshot of every known breaker.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		list = append(list, cb)
	}
	s.mu.RUnlock()

	result := make([]Snapshot, len(list))
	for i, cb := range list {
		result[i] = cb.Snapshot()
	}
	return result
}
