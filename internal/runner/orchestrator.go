package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/metrics"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/workspace"
)

// DatabaseProvisioner creates an isolated database per job and returns the
// environment overrides (rewritten connection URLs) for that job.
type DatabaseProvisioner interface {
	Provision(ctx context.Context, jobName string) (overrides map[string]string, cleanup func(), err error)
}

// CacheManager restores and saves the cache directory set for a job
// directory. Restore never fails the run: a timeout or missing archive is a
// miss and the job proceeds uncached.
type CacheManager interface {
	Restore(ctx context.Context, dir string) metrics.CacheResultLabel
	Save(dir string) error
}

// SourceProvider checks the pipeline's source repository out into dest.
type SourceProvider interface {
	Fetch(ctx context.Context, dest string) error
}

// EventSink receives run lifecycle notifications.
type EventSink interface {
	RunStarted(ctx context.Context, run *RunResult)
	JobFinished(ctx context.Context, runID string, job JobResult)
	RunFinished(ctx context.Context, run *RunResult)
}

// Orchestrator executes the full matrix: one goroutine per job, each with an
// isolated workspace, environment, and database. Jobs share no mutable state.
type Orchestrator struct {
	plan      *pipeline.Plan
	jobRunner *JobRunner
	ws        *workspace.Manager

	databases DatabaseProvisioner
	cache     CacheManager
	source    SourceProvider
	events    EventSink
	recorder  metrics.Recorder
}

// NewOrchestrator creates an orchestrator for the given plan.
func NewOrchestrator(plan *pipeline.Plan, jobRunner *JobRunner, ws *workspace.Manager) *Orchestrator {
	return &Orchestrator{
		plan:      plan,
		jobRunner: jobRunner,
		ws:        ws,
		recorder:  metrics.NoopRecorder{},
	}
}

// WithDatabases attaches a per-job database provisioner (fluent helper).
func (o *Orchestrator) WithDatabases(p DatabaseProvisioner) *Orchestrator { o.databases = p; return o }

// WithCache attaches a cache manager (fluent helper).
func (o *Orchestrator) WithCache(c CacheManager) *Orchestrator { o.cache = c; return o }

// WithSource attaches a source checkout provider (fluent helper).
func (o *Orchestrator) WithSource(s SourceProvider) *Orchestrator { o.source = s; return o }

// WithEvents attaches an event sink (fluent helper).
func (o *Orchestrator) WithEvents(e EventSink) *Orchestrator { o.events = e; return o }

// WithRecorder attaches a metrics recorder (fluent helper).
func (o *Orchestrator) WithRecorder(r metrics.Recorder) *Orchestrator {
	if r != nil {
		o.recorder = r
	}
	return o
}

// Run executes every matrix job and aggregates the outcome. The returned
// error covers run-level plumbing failures (workspace, checkout); job and
// step failures are reported through the RunResult instead.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	run := &RunResult{
		ID:        uuid.NewString(),
		Pipeline:  o.plan.Name,
		Status:    RunStatusRunning,
		StartTime: time.Now(),
		Jobs:      make([]JobResult, len(o.plan.Jobs)),
	}

	slog.Info("Starting run",
		logfields.RunID(run.ID),
		slog.String("pipeline", o.plan.Name),
		slog.Int("jobs", len(o.plan.Jobs)))

	if o.events != nil {
		o.events.RunStarted(ctx, run)
	}

	if err := o.ws.Create(); err != nil {
		return nil, fmt.Errorf("failed to create run workspace: %w", err)
	}
	defer func() {
		if err := o.ws.Cleanup(); err != nil {
			slog.Warn("Failed to cleanup workspace", logfields.Error(err))
		}
	}()

	sourceDir := ""
	if o.source != nil {
		sourceDir = filepath.Join(o.ws.GetPath(), "source")
		if err := o.source.Fetch(ctx, sourceDir); err != nil {
			return nil, fmt.Errorf("source checkout failed: %w", err)
		}
	}

	jobDirs := make([]string, len(o.plan.Jobs))
	var wg sync.WaitGroup
	for i, job := range o.plan.Jobs {
		wg.Add(1)
		go func(idx int, job pipeline.Job) {
			defer wg.Done()
			res, jobDir := o.runJob(ctx, run.ID, job, sourceDir)
			run.Jobs[idx] = res
			jobDirs[idx] = jobDir
			if o.events != nil {
				o.events.JobFinished(ctx, run.ID, res)
			}
		}(i, job)
	}
	wg.Wait()

	o.saveCache(run, jobDirs)
	o.finalize(ctx, run)
	return run, nil
}

// saveCache publishes the cache archive once per run, sourced from the first
// required job that succeeded. Saving from inside the job goroutines would
// race parallel copies into the shared archive; allow_failure jobs are never
// the source since their state is not required-good.
func (o *Orchestrator) saveCache(run *RunResult, jobDirs []string) {
	if o.cache == nil {
		return
	}
	for i, job := range run.Jobs {
		if job.AllowFailure || job.Status != JobStatusSuccess || jobDirs[i] == "" {
			continue
		}
		if err := o.cache.Save(jobDirs[i]); err != nil {
			slog.Warn("Cache save failed",
				logfields.RunID(run.ID),
				logfields.Job(job.Name),
				logfields.Error(err))
		}
		return
	}
}

// runJob prepares job isolation (workspace copy, cache restore, database) and
// executes the job. Preparation failures surface as a failed job so the
// aggregation rules apply uniformly.
func (o *Orchestrator) runJob(ctx context.Context, runID string, job pipeline.Job, sourceDir string) (JobResult, string) {
	fail := func(err error) JobResult {
		slog.Error("Job preparation failed",
			logfields.RunID(runID),
			logfields.Job(job.Name()),
			logfields.Error(err))
		return JobResult{
			Name:         job.Name(),
			Channel:      job.Channel(),
			AllowFailure: job.AllowFailure(),
			Status:       JobStatusFailed,
			ExitCode:     exitCodeUnknown,
			Error:        err.Error(),
		}
	}

	jobDir, err := o.ws.CreateSubdir(job.Name())
	if err != nil {
		return fail(err), ""
	}

	if sourceDir != "" {
		if err := workspace.CopyTree(sourceDir, jobDir); err != nil {
			return fail(fmt.Errorf("failed to copy source into job workspace: %w", err)), jobDir
		}
	}

	if o.cache != nil {
		res := o.cache.Restore(ctx, jobDir)
		o.recorder.IncCacheRestore(res)
		slog.Info("Cache restore finished",
			logfields.RunID(runID),
			logfields.Job(job.Name()),
			logfields.Status(string(res)))
	}

	overrides := map[string]string{}
	if o.databases != nil {
		dbOverrides, cleanup, err := o.databases.Provision(ctx, job.Name())
		if err != nil {
			return fail(fmt.Errorf("database provisioning failed: %w", err)), jobDir
		}
		defer cleanup()
		for k, v := range dbOverrides {
			overrides[k] = v
		}
	}

	env := o.plan.JobEnv(job, overrides)
	return o.jobRunner.Run(ctx, job, jobDir, env), jobDir
}

// finalize aggregates job outcomes into the run status and exit code. Jobs
// with allow_failure never affect the overall result; among fatal failures
// the first one in matrix order supplies the exit code.
func (o *Orchestrator) finalize(ctx context.Context, run *RunResult) {
	run.EndTime = time.Now()
	run.Duration = run.EndTime.Sub(run.StartTime)

	switch {
	case ctx.Err() != nil:
		run.Status = RunStatusCanceled
		run.ExitCode = exitCodeUnknown
	default:
		if fatal := run.FirstFatal(); fatal != nil {
			run.Status = RunStatusFailed
			run.ExitCode = fatal.ExitCode
			if run.ExitCode <= 0 {
				run.ExitCode = exitCodeUnknown
			}
		} else {
			run.Status = RunStatusSuccess
			run.ExitCode = 0
		}
	}

	o.recorder.ObserveRunDuration(run.Duration)
	o.recorder.IncRunOutcome(runOutcomeLabel(run.Status))

	if o.events != nil {
		o.events.RunFinished(ctx, run)
	}

	slog.Info("Run finished",
		logfields.RunID(run.ID),
		logfields.Status(string(run.Status)),
		logfields.ExitCode(run.ExitCode),
		logfields.DurationMS(float64(run.Duration.Milliseconds())))
}

func runOutcomeLabel(status RunStatus) metrics.ResultLabel {
	switch status {
	case RunStatusFailed:
		return metrics.ResultFailed
	case RunStatusCanceled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultSuccess
	}
}
