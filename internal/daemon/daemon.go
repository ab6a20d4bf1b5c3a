package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetforge/forge/internal/api"
	"github.com/fleetforge/forge/internal/domain"
	"github.com/fleetforge/forge/internal/infra/breaker"
	"github.com/fleetforge/forge/internal/infra/directory"
	"github.com/fleetforge/forge/internal/infra/eventlog"
	_ "github.com/fleetforge/forge/internal/infra/metrics" // Register Prometheus metrics
	"github.com/fleetforge/forge/internal/infra/perf"
	"github.com/fleetforge/forge/internal/infra/recovery"
	"github.com/fleetforge/forge/internal/infra/router"
	"github.com/fleetforge/forge/internal/infra/scheduler"
	"github.com/fleetforge/forge/internal/infra/tuner"
	"github.com/fleetforge/forge/internal/infra/workload"
)

// Daemon is the forge coordinator runtime. One explicitly constructed
// instance of every component, injected where needed; no hidden globals.
type Daemon struct {
	Config    Config
	Directory *directory.Directory
	Breakers  *breaker.Set
	Tracker   *perf.Tracker
	Scheduler *scheduler.Scheduler
	Recovery  *recovery.Manager
	Tuner     *tuner.SelfTuner
	Simulator *workload.Simulator
	EventLog  *eventlog.Log
	Server    *api.Server

	cancel context.CancelFunc
}

// New creates a daemon from the on-disk configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a daemon with all components wired.
func NewWithConfig(cfg Config) (*Daemon, error) {
	// Event log is the outbound sink for every component; the core runs
	// identically without it.
	elog, err := eventlog.Open(forgeHome())
	var sink domain.EventSink
	if err != nil {
		log.Printf("[daemon] WARNING: event log disabled: %v", err)
		sink = domain.NopSink{}
	} else {
		sink = elog
	}

	dir := directory.New()
	for _, w := range cfg.Workers {
		dir.Register(w.ID, w.Name)
	}

	breakers := breaker.NewSet(breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		Timeout:           cfg.Breaker.RecoveryTimeout.Std(),
		BackoffMultiplier: cfg.Breaker.BackoffMultiplier,
		TimeoutMax:        cfg.Breaker.TimeoutMax.Std(),
		HalfOpenMaxCalls:  cfg.Breaker.HalfOpenMaxCalls,
	}, sink)

	tracker := perf.NewTracker(0, trackerWeights(cfg.Tuning))

	sim := workload.New(workload.Config{
		BaseLatency: cfg.Workload.BaseLatency.Std(),
		Jitter:      cfg.Workload.Jitter.Std(),
		FailureRate: cfg.Workload.FailureRate,
	})

	rt := router.New(router.Table(cfg.Routing.Preferred), dir, breakers)

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentWorkers: cfg.Coordinator.MaxConcurrentWorkers,
		DispatchRatePerSec:   cfg.Coordinator.DispatchRateLimit,
		PollInterval:         cfg.Coordinator.PollInterval.Std(),
		RequeueBackoff:       cfg.Coordinator.RequeueBackoff.Std(),
	}, rt, dir, breakers, tracker, sim, sink)

	rec := recovery.NewManager(recovery.Config{
		SweepInterval:      cfg.Recovery.SweepInterval.Std(),
		RestartCooldown:    cfg.Recovery.RestartCooldown.Std(),
		MaxRestartAttempts: cfg.Recovery.MaxRestartAttempts,
		HealthFloor:        cfg.Recovery.HealthFloor,
	}, dir, breakers, sink)

	st := tuner.New(tuner.Config{
		Interval:          cfg.Tuning.Interval.Std(),
		MinSamples:        cfg.Tuning.MinSamples,
		ExplorationRate:   cfg.Tuning.ExplorationRate,
		RollbackThreshold: cfg.Tuning.RollbackThreshold,
		Strategy:          tuner.Strategy(cfg.Tuning.Strategy),
	}, tracker, sink)

	d := &Daemon{
		Config:    cfg,
		Directory: dir,
		Breakers:  breakers,
		Tracker:   tracker,
		Scheduler: sched,
		Recovery:  rec,
		Tuner:     st,
		Simulator: sim,
		EventLog:  elog,
	}
	if err := d.registerTunables(); err != nil {
		d.Close()
		return nil, fmt.Errorf("register tunables: %w", err)
	}

	var events api.EventStore
	if elog != nil {
		events = elog
	}
	d.Server = api.NewServer(sched, dir, breakers, st, events)

	return d, nil
}

// registerTunables exposes the scheduler's knobs and the tuning strategy
// itself to the self-tuner.
func (d *Daemon) registerTunables() error {
	params := []*tuner.Parameter{
		{
			Name:    tuner.ParamDispatchRate,
			Type:    tuner.Continuous,
			Default: d.Config.Coordinator.DispatchRateLimit,
			Min:     1,
			Max:     1000,
			Step:    10,
			Apply: func(_ string, v any) error {
				d.Scheduler.SetRateLimit(v.(float64))
				return nil
			},
		},
		{
			Name:    tuner.ParamPoolSize,
			Type:    tuner.Discrete,
			Default: d.Config.Coordinator.MaxConcurrentWorkers,
			Min:     1,
			Max:     32,
			Apply: func(_ string, v any) error {
				d.Scheduler.SetConcurrency(v.(int))
				return nil
			},
		},
		{
			Name:    "tuning_strategy",
			Type:    tuner.Categorical,
			Default: string(d.Tuner.ActiveStrategy()),
			Choices: []string{
				string(tuner.StrategyGradientFree),
				string(tuner.StrategyAdaptive),
				string(tuner.StrategyBayesian),
				string(tuner.StrategyManual),
			},
			Apply: func(_ string, v any) error {
				d.Tuner.SetStrategy(tuner.Strategy(v.(string)))
				return nil
			},
		},
	}
	for _, p := range params {
		if err := d.Tuner.RegisterParameter(p); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the background loops and the HTTP server and blocks
// until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Scheduler.Run(ctx)
	go d.Recovery.Run(ctx)
	go d.Tuner.Run(ctx)

	// Fleet registered and loops running: OFFLINE now means lost.
	d.Recovery.SetReady()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		d.Scheduler.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		if d.EventLog != nil {
			_ = d.EventLog.Close()
		}
	}()

	log.Printf("[daemon] forge serving on http://%s (%d workers, strategy=%s)",
		addr, d.Directory.Size(), d.Tuner.ActiveStrategy())

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Scheduler != nil {
		d.Scheduler.Stop()
	}
	if d.EventLog != nil {
		_ = d.EventLog.Close()
	}
}

// trackerWeights builds metric weights from config, falling back to the
// defaults for anything unset.
func trackerWeights(cfg TuningConfig) perf.Weights {
	w := perf.DefaultWeights()
	for metric, weight := range cfg.Weights {
		if _, known := w.Weight[metric]; known {
			w.Weight[metric] = weight
		}
	}
	return w
}
