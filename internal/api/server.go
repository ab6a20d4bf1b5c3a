// Package api provides the HTTP control surface for the forge
// coordinator: task submission, fleet inspection, parameter overrides,
// and the event/metrics endpoints. Handlers are thin glue over the
// core components.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/health"
	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
	"github.com/fleetforge/forge/internal/infra/scheduler"
	"github.com/fleetforge/forge/internal/infra/tuner"
)

// EventStore exposes the persisted event log to the API. Nil when the
// event log is disabled.
type EventStore interface {
	Recent(limit int) ([]domain.Event, error)
}

// Server is the forge HTTP API server.
type Server struct {
	sched    *scheduler.Scheduler
	dir      *directory.Directory
	breakers *breaker.Set
	tuner    *tuner.SelfTuner
	events   EventStore
	started  time.Time
}

// NewServer creates an API server over the coordinator's components.
func NewServer(sched *scheduler.Scheduler, dir *directory.Directory, breakers *breaker.Set, st *tuner.SelfTuner, events EventStore) *Server {
	return &Server{
		sched:    sched,
		dir:      dir,
		breakers: breakers,
		tuner:    st,
		events:   events,
		started:  time.Now(),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/workers", s.handleListWorkers)
		r.Post("/workers/{id}/reset", s.handleResetWorker)
		r.Get("/breakers", s.handleListBreakers)
		r.Get("/params", s.handleListParams)
		r.Put("/params/{name}", s.handleSetParam)
		r.Get("/events", s.handleListEvents)
		r.Get("/stats", s.handleStats)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

type submitTaskRequest struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

type submitTaskResponse struct {
	TaskID         string `json:"task_id"`
	AssignedWorker string `json:"assigned_worker,omitempty"`
	Queued         bool   `json:"queued"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "task type is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	worker, queued := s.sched.Schedule(req.ID, req.Type, req.Payload, req.Priority)
	writeJSON(w, http.StatusAccepted, submitTaskResponse{
		TaskID:         req.ID,
		AssignedWorker: worker,
		Queued:         queued,
	})
}

// ─── Workers ────────────────────────────────────────────────────────────────

type workerView struct {
	directory.Snapshot
	HealthScore float64 `json:"health_score"`
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	records := s.dir.List()
	views := make([]workerView, 0, len(records))
	for _, rec := range records {
		snap := rec.Snapshot()
		views = append(views, workerView{
			Snapshot:    snap,
			HealthScore: s.scoreFor(rec),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": views})
}

func (s *Server) scoreFor(rec *directory.Record) float64 {
	completed, failed := rec.Counters()
	return health.Score(health.Input{
		TasksCompleted: completed,
		TasksFailed:    failed,
		LatencyEWMA:    rec.LatencyEWMA(),
		BreakerState:   s.breakers.For(rec.ID()).State(),
		Uptime:         rec.Uptime(),
	})
}

func (s *Server) handleResetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.dir.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrWorkerNotFound.Error())
		return
	}
	rec.Reset()
	s.breakers.For(id).ForceClose()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "worker_id": id})
}

// ─── Breakers ───────────────────────────────────────────────────────────────

func (s *Server) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.breakers.Snapshots()})
}

// ─── Parameters ─────────────────────────────────────────────────────────────

func (s *Server) handleListParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"parameters": s.tuner.Parameters()})
}

type setParamRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req setParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	value := coerceParamValue(s.tuner, name, req.Value)
	if err := s.tuner.SetParameter(name, value); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownParameter):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrValueOutOfBounds), errors.Is(err, domain.ErrWrongValueType):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

// coerceParamValue bridges JSON numbers (always float64) to discrete
// parameters that expect ints.
func coerceParamValue(st *tuner.SelfTuner, name string, value any) any {
	view, ok := st.Parameters()[name]
	if !ok {
		return value
	}
	if view.Type == "discrete" {
		if f, isFloat := value.(float64); isFloat && f == math.Trunc(f) {
			return int(f)
		}
	}
	return value
}

// ─── Events & Stats ─────────────────────────────────────────────────────────

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []domain.Event{}})
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.events.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler":  s.sched.Stats(),
		"workers":    s.dir.Size(),
		"best_score": s.tuner.BestScore(),
		"strategy":   s.tuner.ActiveStrategy(),
		"uptime":     time.Since(s.started).String(),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
