// Package perf aggregates recent performance into sliding windows.
//
// The tracker keeps one bounded window per named metric, exposes averages
// and half-window trends, and folds everything into a single weighted
// composite score the self-tuner uses to judge whether recent parameter
// changes helped or hurt.
package perf

import (
	"sync"
	"time"
)

// Standard metric names recorded by the scheduler.
const (
	MetricSuccessRate  = "success_rate"
	MetricAvgLatencyMs = "avg_latency_ms"
	MetricThroughput   = "throughput"
	MetricErrorRate    = "error_rate"
)

// Weights configures the composite score. HigherBetter metrics contribute
// their window average directly; the rest contribute 1/(1+average) so that
// lower values score higher.
type Weights struct {
	Weight       map[string]float64
	HigherBetter map[string]bool
}

// DefaultWeights returns the standard metric weighting.
func DefaultWeights() Weights {
	return Weights{
		Weight: map[string]float64{
			MetricSuccessRate:  0.35,
			MetricAvgLatencyMs: 0.25,
			MetricThroughput:   0.20,
			MetricErrorRate:    0.20,
		},
		HigherBetter: map[string]bool{
			MetricSuccessRate: true,
			MetricThroughput:  true,
		},
	}
}

// Tracker holds sliding windows per named metric. Thread-safe: the
// scheduler records from its dispatch loops while the tuner reads.
type Tracker struct {
	mu         sync.Mutex
	windowSize int
	windows    map[string]*window
	weights    Weights
}

type window struct {
	samples []sample
}

type sample struct {
	value float64
	at    time.Time
}

// NewTracker creates a tracker holding up to windowSize samples per metric.
func NewTracker(windowSize int, weights Weights) *Tracker {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*window),
		weights:    weights,
	}
}

// Record appends a sample to the metric's window, evicting the oldest
// sample once the window is full.
func (t *Tracker) Record(metric string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[metric]
	if !ok {
		w = &window{}
		t.windows[metric] = w
	}
	w.samples = append(w.samples, sample{value: value, at: time.Now()})
	if len(w.samples) > t.windowSize {
		w.samples = w.samples[1:]
	}
}

// Average returns the window average for a metric (0 if no samples).
func (t *Tracker) Average(metric string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageLocked(metric)
}

func (t *Tracker) averageLocked(metric string) float64 {
	w, ok := t.windows[metric]
	if !ok || len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w.samples {
		sum += s.value
	}
	return sum / float64(len(w.samples))
}

// Trend compares the newer half of the window against the older half and
// returns the fractional change (+0.10 = 10% increase). Returns 0 until
// both halves have samples or when the older half averages zero.
func (t *Tracker) Trend(metric string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[metric]
	if !ok || len(w.samples) < 4 {
		return 0
	}
	mid := len(w.samples) / 2
	older := mean(w.samples[:mid])
	newer := mean(w.samples[mid:])
	if older == 0 {
		return 0
	}
	return (newer - older) / older
}

func mean(samples []sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	return sum / float64(len(samples))
}

// SampleCount returns the total samples across all windows.
func (t *Tracker) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, w := range t.windows {
		total += len(w.samples)
	}
	return total
}

// CompositeScore folds all weighted metrics into one scalar. Metrics with
// no samples contribute nothing.
func (t *Tracker) CompositeScore() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var score float64
	for metric, weight := range t.weights.Weight {
		w, ok := t.windows[metric]
		if !ok || len(w.samples) == 0 {
			continue
		}
		avg := t.averageLocked(metric)
		if t.weights.HigherBetter[metric] {
			score += weight * avg
		} else {
			score += weight / (1 + avg)
		}
	}
	return score
}

// Averages returns a copy of every metric's current window average.
func (t *Tracker) Averages() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make(map[string]float64, len(t.windows))
	for metric := range t.windows {
		result[metric] = t.averageLocked(metric)
	}
	return result
}
