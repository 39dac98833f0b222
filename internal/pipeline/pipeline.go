// Package pipeline defines the immutable run plan expanded from the
// descriptor: matrix jobs, their ordered steps, and the environment overlay
// applied to each job.
package pipeline

import (
	"github.com/gantryci/gantry/internal/config"
)

// Phase distinguishes setup steps from test steps inside a job.
type Phase string

const (
	PhaseSetup Phase = "setup"
	PhaseTest  Phase = "test"
)

// Step is a single shell command executed within a job.
type Step struct {
	Phase   Phase
	Command string
}

// Job is one matrix entry with its fully ordered step list. Jobs are
// immutable after construction: accessors return copies.
type Job struct {
	name         string
	channel      config.Channel
	allowFailure bool
	steps        []Step
	env          map[string]string
}

// NewJob constructs a Job, copying the provided slices and maps so later
// mutation of the inputs cannot leak into the plan.
func NewJob(cfg config.JobConfig) Job {
	steps := make([]Step, 0, len(cfg.Setup)+len(cfg.Tests))
	for _, cmd := range cfg.Setup {
		steps = append(steps, Step{Phase: PhaseSetup, Command: cmd})
	}
	for _, cmd := range cfg.Tests {
		steps = append(steps, Step{Phase: PhaseTest, Command: cmd})
	}

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}

	return Job{
		name:         cfg.Name,
		channel:      cfg.Channel,
		allowFailure: cfg.AllowFailure,
		steps:        steps,
		env:          env,
	}
}

// Name returns the job name.
func (j Job) Name() string { return j.name }

// Channel returns the compiler channel for this job.
func (j Job) Channel() config.Channel { return j.channel }

// AllowFailure reports whether this job's failure is excluded from the
// overall run status.
func (j Job) AllowFailure() bool { return j.allowFailure }

// Steps returns the ordered step list: all setup steps followed by all test
// steps. The returned slice is a copy.
func (j Job) Steps() []Step {
	out := make([]Step, len(j.steps))
	copy(out, j.steps)
	return out
}

// Env returns a copy of the job-level environment overlay.
func (j Job) Env() map[string]string {
	out := make(map[string]string, len(j.env))
	for k, v := range j.env {
		out[k] = v
	}
	return out
}
