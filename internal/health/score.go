// Package health computes worker health scores.
// The score is a pure function of observed worker state — nothing here is
// persisted and nothing here mutates anything.
package health

import (
	"time"

	"github.com/fleetforge/forge/internal/infra/breaker"
)

// Score component bounds. The total is always within [0, 100]:
// success rate 0–40, latency 0–30, breaker 0–20, uptime 0–10.
const (
	successRateWeight = 40.0
	uptimeWeight      = 10.0
	uptimeFullAt      = 1 * time.Hour
)

// Input is everything the scorer looks at.
type Input struct {
	TasksCompleted int64
	TasksFailed    int64
	LatencyEWMA    time.Duration
	BreakerState   breaker.State
	Uptime         time.Duration
}

// Score computes a 0–100 health score for a worker.
func Score(in Input) float64 {
	score := successRateScore(in.TasksCompleted, in.TasksFailed) +
		latencyScore(in.LatencyEWMA) +
		breakerScore(in.BreakerState) +
		uptimeScore(in.Uptime)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// successRateScore is linear in the success rate. A worker that has run
// nothing yet is treated as fully successful — new workers start healthy.
func successRateScore(completed, failed int64) float64 {
	total := completed + failed
	if total == 0 {
		return successRateWeight
	}
	return successRateWeight * float64(completed) / float64(total)
}

// latencyScore is banded: fast workers get full marks, and past one second
// the score decays toward zero rather than cliffing.
func latencyScore(ewma time.Duration) float64 {
	ms := float64(ewma) / float64(time.Millisecond)
	switch {
	case ms <= 50:
		return 30
	case ms <= 200:
		return 25
	case ms <= 1000:
		return 15
	default:
		return 15 * 1000 / ms
	}
}

func breakerScore(s breaker.State) float64 {
	switch s {
	case breaker.Closed:
		return 20
	case breaker.HalfOpen:
		return 10
	default:
		return 0
	}
}

// uptimeScore grows linearly up to one hour of uptime.
func uptimeScore(uptime time.Duration) float64 {
	if uptime >= uptimeFullAt {
		return uptimeWeight
	}
	if uptime < 0 {
		return 0
	}
	return uptimeWeight * float64(uptime) / float64(uptimeFullAt)
}
