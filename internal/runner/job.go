package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/metrics"
	"github.com/gantryci/gantry/internal/pipeline"
)

// JobRunner executes a single job's steps strictly in order. The first
// failing step aborts the job; there is no per-step retry.
type JobRunner struct {
	executor    *Executor
	stepTimeout time.Duration
	recorder    metrics.Recorder
}

// NewJobRunner creates a job runner with the given per-step timeout.
func NewJobRunner(stepTimeout time.Duration) *JobRunner {
	return &JobRunner{
		executor:    NewExecutor(),
		stepTimeout: stepTimeout,
		recorder:    metrics.NoopRecorder{},
	}
}

// WithRecorder attaches a metrics recorder (fluent helper).
func (r *JobRunner) WithRecorder(rec metrics.Recorder) *JobRunner {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Run executes the job in dir with the composed environment. Steps run in
// exactly the order job.Steps() yields: setup steps, then test steps.
func (r *JobRunner) Run(ctx context.Context, job pipeline.Job, dir string, env map[string]string) JobResult {
	result := JobResult{
		Name:         job.Name(),
		Channel:      job.Channel(),
		AllowFailure: job.AllowFailure(),
		Status:       JobStatusSuccess,
	}

	envList := pipeline.EnvList(env)
	start := time.Now()

	for _, step := range job.Steps() {
		if ctx.Err() != nil {
			result.Status = JobStatusCanceled
			result.Error = ctx.Err().Error()
			break
		}

		slog.Debug("Running step",
			logfields.Job(job.Name()),
			logfields.Phase(string(step.Phase)),
			logfields.Command(step.Command))

		stepRes := r.executor.RunStep(ctx, step, dir, envList, r.stepTimeout)
		result.Steps = append(result.Steps, stepRes)
		r.recorder.ObserveStepDuration(string(job.Channel()), string(step.Phase), stepRes.Duration)

		switch stepRes.Status {
		case StepStatusSuccess:
			slog.Debug("Step succeeded",
				logfields.Job(job.Name()),
				logfields.Command(step.Command),
				logfields.DurationMS(float64(stepRes.Duration.Milliseconds())))
		case StepStatusCanceled:
			result.Status = JobStatusCanceled
			result.ExitCode = stepRes.ExitCode
		default:
			slog.Warn("Step failed, aborting job",
				logfields.Job(job.Name()),
				logfields.Phase(string(step.Phase)),
				logfields.Command(step.Command),
				logfields.ExitCode(stepRes.ExitCode))
			result.Status = JobStatusFailed
			result.ExitCode = stepRes.ExitCode
		}

		if result.Status != JobStatusSuccess {
			break
		}
	}

	result.Duration = time.Since(start)
	r.recorder.ObserveJobDuration(string(job.Channel()), result.Duration)
	r.recorder.IncJobOutcome(string(job.Channel()), jobOutcomeLabel(result))

	slog.Info("Job finished",
		logfields.Job(job.Name()),
		logfields.Channel(string(job.Channel())),
		logfields.Status(string(result.Status)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))

	return result
}

func jobOutcomeLabel(res JobResult) metrics.ResultLabel {
	switch {
	case res.Status == JobStatusCanceled:
		return metrics.ResultCanceled
	case res.Failed() && res.AllowFailure:
		return metrics.ResultAllowed
	case res.Failed():
		return metrics.ResultFailed
	default:
		return metrics.ResultSuccess
	}
}
