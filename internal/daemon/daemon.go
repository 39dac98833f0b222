// Package daemon runs pipelines continuously: a bounded run queue drained by
// workers, periodic schedules, a config watcher, and an HTTP API over run
// history.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/checkout"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/database"
	"github.com/gantryci/gantry/internal/events"
	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/metrics"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/retry"
	"github.com/gantryci/gantry/internal/runner"
	"github.com/gantryci/gantry/internal/state"
	"github.com/gantryci/gantry/internal/workspace"
)

const shutdownTimeout = 15 * time.Second

// Daemon owns the long-running pieces and wires a fresh orchestrator for each
// run, so config reloads take effect on the next run without a restart.
type Daemon struct {
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	store      *state.Store
	eventStore *events.Store
	emitter    *events.Emitter
	natsPub    *events.NATSPublisher
	recorder   metrics.Recorder
	registry   *prom.Registry

	queue     *RunQueue
	scheduler *Scheduler
	watcher   *ConfigWatcher
	server    *Server
}

// New assembles a daemon from a loaded descriptor. configPath is watched for
// changes while the daemon runs.
func New(configPath string, cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		recorder:   metrics.NoopRecorder{},
	}

	statePath := cfg.Daemon.StatePath
	if dir := filepath.Dir(statePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	store, err := state.NewStore(statePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	d.store = store

	eventStore, err := events.NewStore(filepath.Join(filepath.Dir(statePath), "events.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}
	d.eventStore = eventStore

	d.emitter = events.NewEmitter(eventStore)
	if cfg.Daemon.NATS != nil {
		pub, err := events.NewNATSPublisher(cfg.Daemon.NATS)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		d.natsPub = pub
		d.emitter = d.emitter.WithPublisher(pub)
	}

	if cfg.Daemon.MetricsEnabled {
		d.registry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	d.queue = NewRunQueue(cfg.Daemon.QueueSize, cfg.Daemon.Workers, cfg.Daemon.HistorySize, d)

	d.scheduler, err = NewScheduler(func(schedule string) error {
		return d.queue.Enqueue(NewRunRequest(TriggerScheduled, schedule))
	})
	if err != nil {
		d.closeStores()
		return nil, err
	}
	if err := d.scheduler.Apply(cfg.Daemon.Schedules); err != nil {
		d.closeStores()
		return nil, err
	}

	d.watcher, err = NewConfigWatcher(configPath, d)
	if err != nil {
		d.closeStores()
		return nil, err
	}

	d.server = NewServer(cfg.Daemon.Listen, ServerDeps{
		Store:  store,
		Events: eventStore,
		Queue:  d.queue,
	})
	if d.registry != nil {
		d.server.deps.Metrics = metrics.HTTPHandler(d.registry)
	}

	return d, nil
}

// Run starts all components and blocks until ctx is canceled or the HTTP
// server fails. Shutdown is graceful within shutdownTimeout.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Starting daemon",
		slog.String("listen", d.Config().Daemon.Listen),
		logfields.Path(d.configPath))

	d.queue.Start(ctx)
	d.scheduler.Start(ctx)
	if err := d.watcher.Start(ctx); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		if err := d.server.Start(); err != nil {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errChan:
		slog.Error("HTTP server failed", logfields.Error(err))
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	d.stop(shutdownCtx)

	return runErr
}

func (d *Daemon) stop(ctx context.Context) {
	if err := d.server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown failed", logfields.Error(err))
	}
	if err := d.watcher.Stop(ctx); err != nil {
		slog.Error("Config watcher shutdown failed", logfields.Error(err))
	}
	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Error("Scheduler shutdown failed", logfields.Error(err))
	}
	d.queue.Stop(ctx)

	if d.natsPub != nil {
		d.natsPub.Close()
	}
	d.closeStores()

	slog.Info("Daemon stopped")
}

func (d *Daemon) closeStores() {
	if d.eventStore != nil {
		if err := d.eventStore.Close(); err != nil {
			slog.Error("Event store close failed", logfields.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Error("State store close failed", logfields.Error(err))
		}
	}
}

// Config returns the current configuration snapshot.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Trigger enqueues a run outside any schedule. The returned request is a
// detached copy; the queued original belongs to the workers once enqueued.
func (d *Daemon) Trigger(trigger Trigger) (*RunRequest, error) {
	req := NewRunRequest(trigger, "")
	snapshot := *req
	if err := d.queue.Enqueue(req); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ReloadConfig swaps in a new configuration and re-applies schedules. Runs
// already in flight keep the configuration they started with.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	if err := d.scheduler.Apply(newCfg.Daemon.Schedules); err != nil {
		return fmt.Errorf("apply schedules: %w", err)
	}

	d.mu.Lock()
	d.cfg = newCfg
	d.mu.Unlock()

	slog.Info("Configuration applied",
		slog.Int("jobs", len(newCfg.Matrix)),
		slog.Int("schedules", len(newCfg.Daemon.Schedules)))
	return nil
}

// Launch executes one run request end to end: orchestrate the matrix, record
// the result, prune old history.
func (d *Daemon) Launch(ctx context.Context, req *RunRequest) (*runner.RunResult, error) {
	cfg := d.Config()

	plan := pipeline.FromConfig(cfg)
	ws := workspace.NewManager("")

	jobRunner := runner.NewJobRunner(cfg.Defaults.StepTimeout.Std()).WithRecorder(d.recorder)
	orch := runner.NewOrchestrator(plan, jobRunner, ws).
		WithRecorder(d.recorder).
		WithEvents(d.emitter)

	if len(cfg.Cache.Directories) > 0 {
		orch = orch.WithCache(cache.NewManager(cfg.Cache))
	}
	if provisioner := database.NewProvisioner(cfg.Database, cfg.Env); provisioner.Enabled() {
		orch = orch.WithDatabases(provisioner)
	}
	if cfg.Pipeline.Checkout != nil {
		client := checkout.NewClient(*cfg.Pipeline.Checkout, retry.FromConfig(cfg.Retry)).
			WithRecorder(d.recorder)
		orch = orch.WithSource(client)
	}

	result, runErr := orch.Run(ctx)

	if result != nil {
		if err := d.store.RecordRun(context.Background(), result); err != nil {
			slog.Error("Failed to record run", logfields.RunID(result.ID), logfields.Error(err))
		}
		if err := d.store.Prune(context.Background(), cfg.Daemon.HistorySize); err != nil {
			slog.Error("Failed to prune run history", logfields.Error(err))
		}
	}

	return result, runErr
}
