// Package runner executes the run plan: single steps, linear jobs, and the
// parallel matrix with per-job isolation.
package runner

import (
	"time"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/pipeline"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepStatusSuccess  StepStatus = "success"
	StepStatusFailed   StepStatus = "failed"
	StepStatusCanceled StepStatus = "canceled"
)

// StepResult captures one executed step.
type StepResult struct {
	Phase    pipeline.Phase `json:"phase"`
	Command  string         `json:"command"`
	Status   StepStatus     `json:"status"`
	ExitCode int            `json:"exit_code"`
	Duration time.Duration  `json:"duration"`
	Output   string         `json:"output,omitempty"`
}

// JobStatus is the outcome of one matrix job.
type JobStatus string

const (
	JobStatusSuccess  JobStatus = "success"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// JobResult captures a completed job. Steps after the first failure are not
// present: a failing step aborts its job immediately.
type JobResult struct {
	Name         string         `json:"name"`
	Channel      config.Channel `json:"channel"`
	AllowFailure bool           `json:"allow_failure"`
	Status       JobStatus      `json:"status"`
	ExitCode     int            `json:"exit_code"`
	Duration     time.Duration  `json:"duration"`
	Steps        []StepResult   `json:"steps"`
	Error        string         `json:"error,omitempty"`
}

// Failed reports whether the job itself failed, regardless of allow_failure.
func (j JobResult) Failed() bool { return j.Status == JobStatusFailed }

// Fatal reports whether this job's failure fails the overall run.
func (j JobResult) Fatal() bool { return j.Failed() && !j.AllowFailure }

// RunStatus is the aggregated outcome of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// RunResult is the aggregated outcome of one pipeline run.
type RunResult struct {
	ID        string        `json:"id"`
	Pipeline  string        `json:"pipeline"`
	Status    RunStatus     `json:"status"`
	ExitCode  int           `json:"exit_code"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Jobs      []JobResult   `json:"jobs"`
}

// FirstFatal returns the first job (matrix order) whose failure is fatal, or
// nil when every required job succeeded.
func (r *RunResult) FirstFatal() *JobResult {
	for i := range r.Jobs {
		if r.Jobs[i].Fatal() {
			return &r.Jobs[i]
		}
	}
	return nil
}
