// Package router maps task types to eligible workers.
//
// Routing is two-phase: a static preference table (task type → ordered
// worker names, with dotted-prefix fallback so "compression.fast" can fall
// back to "compression"), then least-loaded selection across the rest of
// the fleet. A worker is eligible when it is IDLE and its circuit breaker
// permits a call.
package router

import (
	"sort"
	"strings"

	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
)

// Table is the static type → preferred-worker-names routing table.
type Table map[string][]string

// Router selects a worker for a task type.
type Router struct {
	table    Table
	dir      *directory.Directory
	breakers *breaker.Set
}

// New creates a router over the given directory and breaker set.
func New(table Table, dir *directory.Directory, breakers *breaker.Set) *Router {
	if table == nil {
		table = Table{}
	}
	return &Router{table: table, dir: dir, breakers: breakers}
}

// Route returns an eligible worker for the task type, or nil if none
// exists right now. Preference order: exact table entry, dotted-prefix
// parent entry, then the least-loaded eligible worker anywhere.
//
// Route consumes breaker trial slots: a HALF_OPEN worker returned here has
// already been granted one of its bounded probe calls.
func (r *Router) Route(taskType string) *directory.Record {
	for _, name := range r.preferred(taskType) {
		rec, ok := r.dir.GetByName(name)
		if !ok {
			continue
		}
		if r.eligible(rec) {
			return rec
		}
	}
	return r.leastLoaded()
}

// preferred returns the table entry for the type, falling back to the
// dotted-prefix parent ("compression.fast" → "compression").
func (r *Router) preferred(taskType string) []string {
	if names, ok := r.table[taskType]; ok {
		return names
	}
	if i := strings.LastIndex(taskType, "."); i > 0 {
		if names, ok := r.table[taskType[:i]]; ok {
			return names
		}
	}
	return nil
}

// leastLoaded picks the eligible worker with the fewest completed tasks.
// Candidates are tried in load order so a breaker trial slot is only
// consumed for the worker actually returned.
func (r *Router) leastLoaded() *directory.Record {
	type candidate struct {
		rec       *directory.Record
		completed int64
	}
	var candidates []candidate
	for _, rec := range r.dir.List() {
		if !rec.Status().Routable() {
			continue
		}
		completed, _ := rec.Counters()
		candidates = append(candidates, candidate{rec, completed})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].completed < candidates[j].completed
	})
	for _, c := range candidates {
		if r.breakers.For(c.rec.ID()).CanExecute() {
			return c.rec
		}
	}
	return nil
}

func (r *Router) eligible(rec *directory.Record) bool {
	return rec.Status().Routable() && r.breakers.For(rec.ID()).CanExecute()
}
