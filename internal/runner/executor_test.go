package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/internal/pipeline"
)

func TestRunStepSuccess(t *testing.T) {
	exec := NewExecutor()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "echo hello"}, t.TempDir(), nil, time.Minute)

	assert.Equal(t, StepStatusSuccess, res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
}

func TestRunStepPropagatesExitCode(t *testing.T) {
	exec := NewExecutor()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "exit 42"}, t.TempDir(), nil, time.Minute)

	assert.Equal(t, StepStatusFailed, res.Status)
	assert.Equal(t, 42, res.ExitCode)
}

func TestRunStepCapturesStderr(t *testing.T) {
	exec := NewExecutor()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "echo oops >&2; exit 1"}, t.TempDir(), nil, time.Minute)

	assert.Equal(t, StepStatusFailed, res.Status)
	assert.Contains(t, res.Output, "oops")
}

func TestRunStepUnknownCommand(t *testing.T) {
	exec := NewExecutor()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseSetup, Command: "definitely-not-a-command-12345"}, t.TempDir(), nil, time.Minute)

	assert.Equal(t, StepStatusFailed, res.Status)
	// sh reports 127 for unknown commands.
	assert.Equal(t, 127, res.ExitCode)
}

func TestRunStepEnvironmentIsVerbatim(t *testing.T) {
	exec := NewExecutor()
	env := []string{"DATABASE_URL=postgres://localhost/registry_test", "PATH=/usr/bin:/bin"}
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "echo $DATABASE_URL"}, t.TempDir(), env, time.Minute)

	require.Equal(t, StepStatusSuccess, res.Status)
	assert.Contains(t, res.Output, "postgres://localhost/registry_test")
}

func TestRunStepRunsInDirectory(t *testing.T) {
	dir := t.TempDir()
	exec := NewExecutor()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "pwd"}, dir, []string{"PATH=/usr/bin:/bin"}, time.Minute)

	require.Equal(t, StepStatusSuccess, res.Status)
	assert.Contains(t, res.Output, dir)
}

func TestRunStepTimeout(t *testing.T) {
	exec := NewExecutor()
	start := time.Now()
	res := exec.RunStep(context.Background(), pipeline.Step{Phase: pipeline.PhaseTest, Command: "sleep 5"}, t.TempDir(), []string{"PATH=/usr/bin:/bin"}, 100*time.Millisecond)

	assert.Equal(t, StepStatusFailed, res.Status)
	assert.Equal(t, exitCodeTimeout, res.ExitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunStepCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	exec := NewExecutor()
	res := exec.RunStep(ctx, pipeline.Step{Phase: pipeline.PhaseTest, Command: "sleep 5"}, t.TempDir(), []string{"PATH=/usr/bin:/bin"}, time.Minute)

	assert.Equal(t, StepStatusCanceled, res.Status)
}
