package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/gantryci/gantry/internal/pipeline"
)

// Exit codes used when the subprocess cannot supply one.
const (
	exitCodeUnstartable = 127
	exitCodeTimeout     = 124
	exitCodeUnknown     = 1
)

// Executor runs single steps through the shell.
type Executor struct {
	shell string
}

// NewExecutor creates an executor using /bin/sh semantics.
func NewExecutor() *Executor {
	return &Executor{shell: "sh"}
}

// RunStep executes one step in dir with the given environment and timeout.
// The environment is passed verbatim; nothing from the orchestrator process
// leaks in beyond what the caller provides.
func (e *Executor) RunStep(ctx context.Context, step pipeline.Step, dir string, env []string, timeout time.Duration) StepResult {
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, e.shell, "-c", step.Command)
	cmd.Dir = dir
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := StepResult{
		Phase:    step.Phase,
		Command:  step.Command,
		Status:   StepStatusSuccess,
		Duration: elapsed,
		Output:   out.String(),
	}
	if err == nil {
		return res
	}

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		res.Status = StepStatusCanceled
		res.ExitCode = exitCodeUnknown
	case stepCtx.Err() != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		res.Status = StepStatusFailed
		res.ExitCode = exitCodeTimeout
	default:
		res.Status = StepStatusFailed
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Command could not be started at all.
			res.ExitCode = exitCodeUnstartable
		}
	}
	if res.ExitCode <= 0 {
		res.ExitCode = exitCodeUnknown
	}
	return res
}
