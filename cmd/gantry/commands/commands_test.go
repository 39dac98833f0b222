package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/runner"
	"github.com/gantryci/gantry/internal/state"
)

const testDescriptor = `pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    setup:
      - echo setup
    tests:
      - echo tests
  - name: nightly
    channel: nightly
    allow_failure: true
    tests:
      - exit 7
`

// chdir mirrors testing.T.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func writeTestDescriptor(t *testing.T, content string) (string, *CLI) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return dir, &CLI{Config: path}
}

func loadMerged(t *testing.T, root *CLI) *config.Config {
	t.Helper()
	cfg, err := config.Load(root.Config)
	require.NoError(t, err)
	cfg.MergeEnviron(os.Environ())
	return cfg
}

func TestExecuteRunGreenMatrix(t *testing.T) {
	_, root := writeTestDescriptor(t, testDescriptor)
	cfg := loadMerged(t, root)

	result, err := executeRun(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.Equal(t, runner.RunStatusSuccess, result.Status)
	assert.Equal(t, 0, result.ExitCode)
	require.Len(t, result.Jobs, 2)
	assert.Equal(t, runner.JobStatusFailed, result.Jobs[1].Status)
	assert.Equal(t, 7, result.Jobs[1].ExitCode)
}

func TestExecuteRunPropagatesFatalExitCode(t *testing.T) {
	_, root := writeTestDescriptor(t, `pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    tests:
      - exit 42
`)
	cfg := loadMerged(t, root)

	result, err := executeRun(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.Equal(t, runner.RunStatusFailed, result.Status)
	assert.Equal(t, 42, result.ExitCode)
}

func TestRunCmdReturnsExitError(t *testing.T) {
	dir, root := writeTestDescriptor(t, `pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    tests:
      - exit 3
`)
	chdir(t, dir)

	cmd := &RunCmd{NoHistory: true}
	err := cmd.Run(&Global{}, root)
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestRunCmdRecordsHistory(t *testing.T) {
	dir, root := writeTestDescriptor(t, testDescriptor)
	chdir(t, dir)

	cmd := &RunCmd{}
	require.NoError(t, cmd.Run(&Global{}, root))

	cfg := loadMerged(t, root)
	store, err := state.NewStore(cfg.Daemon.StatePath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "registry", runs[0].Pipeline)
}

func TestValidateCmdAcceptsDescriptor(t *testing.T) {
	_, root := writeTestDescriptor(t, testDescriptor)

	cmd := &ValidateCmd{}
	require.NoError(t, cmd.Run(&Global{}, root))
}

func TestValidateCmdRejectsBrokenDescriptor(t *testing.T) {
	_, root := writeTestDescriptor(t, `pipeline:
  name: registry
matrix:
  - name: stable
    channel: no-such-channel
    tests:
      - cargo test
`)

	cmd := &ValidateCmd{}
	err := cmd.Run(&Global{}, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestInitCmdCreatesValidDescriptor(t *testing.T) {
	dir := t.TempDir()
	root := &CLI{Config: filepath.Join(dir, "gantry.yml")}

	cmd := &InitCmd{}
	require.NoError(t, cmd.Run(&Global{}, root))

	cfg, err := config.Load(root.Config)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Matrix)

	err = cmd.Run(&Global{}, root)
	require.Error(t, err, "refuses to overwrite without --force")

	force := &InitCmd{Force: true}
	require.NoError(t, force.Run(&Global{}, root))
}

func TestHistoryCmdWithoutHistory(t *testing.T) {
	dir, root := writeTestDescriptor(t, testDescriptor)
	chdir(t, dir)

	cmd := &HistoryCmd{Limit: 10}
	err := cmd.Run(&Global{}, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run history")
}

func TestHistoryCmdListsAndShowsRuns(t *testing.T) {
	dir, root := writeTestDescriptor(t, testDescriptor)
	chdir(t, dir)

	run := &RunCmd{}
	require.NoError(t, run.Run(&Global{}, root))

	list := &HistoryCmd{Limit: 10}
	require.NoError(t, list.Run(&Global{}, root))

	cfg := loadMerged(t, root)
	store, err := state.NewStore(cfg.Daemon.StatePath)
	require.NoError(t, err)
	runs, err := store.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	store.Close()

	detail := &HistoryCmd{ID: runs[0].ID}
	require.NoError(t, detail.Run(&Global{}, root))

	missing := &HistoryCmd{ID: "no-such-run"}
	err = missing.Run(&Global{}, root)
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrRunNotFound))
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: 101}
	assert.Equal(t, "exit code 101", err.Error())
}
