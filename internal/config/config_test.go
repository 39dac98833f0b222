package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalDescriptor = `
pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    tests:
      - cargo test
`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalDescriptor))
	require.NoError(t, err)

	assert.Equal(t, "registry", cfg.Pipeline.Name)
	require.Len(t, cfg.Matrix, 1)
	assert.Equal(t, ChannelStable, cfg.Matrix[0].Channel)
	assert.False(t, cfg.Matrix[0].AllowFailure)

	// Defaults applied.
	assert.Equal(t, "registry-v1", cfg.Cache.Key)
	assert.Equal(t, DefaultRestoreTimeout, cfg.Cache.RestoreTimeout.Std())
	assert.Equal(t, DefaultStepTimeout, cfg.Defaults.StepTimeout.Std())
	assert.Equal(t, DefaultListenAddr, cfg.Daemon.Listen)
	assert.Equal(t, DefaultWorkers, cfg.Daemon.Workers)
}

func TestParseFullMatrix(t *testing.T) {
	cfg, err := Parse([]byte(starterDescriptor))
	require.NoError(t, err)

	require.Len(t, cfg.Matrix, 3)
	assert.Equal(t, ChannelNightly, cfg.Matrix[2].Channel)
	assert.True(t, cfg.Matrix[2].AllowFailure)
	assert.Equal(t, 360*time.Second, cfg.Cache.RestoreTimeout.Std())
	assert.Equal(t, "diesel database setup", cfg.Database.SetupCommand)
	assert.Contains(t, cfg.Env, "DATABASE_URL")
	assert.Contains(t, cfg.Env, "TEST_DATABASE_URL")
	assert.Contains(t, cfg.Env, "CARGO_TARGET_DIR")
	assert.Contains(t, cfg.Env, "JOBS")
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("GANTRY_TEST_TOKEN", "sekrit")
	cfg, err := Parse([]byte(`
pipeline:
  name: registry
env:
  PERCY_TOKEN: ${GANTRY_TEST_TOKEN}
matrix:
  - name: stable
    channel: stable
    tests: ["cargo test"]
`))
	require.NoError(t, err)
	assert.Equal(t, "sekrit", cfg.Env["PERCY_TOKEN"])
}

func TestValidateRejectsUnknownChannel(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  name: registry
matrix:
  - name: weird
    channel: experimental
    tests: ["cargo test"]
`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "matrix[0].channel", verr.Field)
}

func TestValidateRejectsDuplicateJobNames(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    tests: ["cargo test"]
  - name: stable
    channel: beta
    tests: ["cargo test"]
`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "duplicate")
}

func TestValidateRejectsEmptyMatrix(t *testing.T) {
	_, err := Parse([]byte("pipeline:\n  name: registry\n"))
	require.ErrorIs(t, err, ErrEmptyMatrix)
}

func TestValidateRejectsJobWithoutSteps(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
`))
	require.Error(t, err)
}

func TestValidateRejectsScheduleWithoutTrigger(t *testing.T) {
	_, err := Parse([]byte(`
pipeline:
  name: registry
matrix:
  - name: stable
    channel: stable
    tests: ["cargo test"]
daemon:
  schedules:
    - name: orphan
`))
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	cfg, err := Parse([]byte(`
pipeline:
  name: registry
cache:
  restore_timeout: 90s
defaults:
  step_timeout: 5m
matrix:
  - name: stable
    channel: stable
    tests: ["cargo test"]
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Cache.RestoreTimeout.Std())
	assert.Equal(t, 5*time.Minute, cfg.Defaults.StepTimeout.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalDescriptor), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "registry", cfg.Pipeline.Name)
}

func TestInitWritesParseableDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yaml")
	require.NoError(t, Init(path, false))

	// Refuses to overwrite without force.
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Matrix, 3)
}

func TestMergeEnviron(t *testing.T) {
	cfg, err := Parse([]byte(minimalDescriptor))
	require.NoError(t, err)
	cfg.Env = map[string]string{"DATABASE_URL": "postgres://pinned/db"}

	cfg.MergeEnviron([]string{
		"PATH=/usr/bin",
		"DATABASE_URL=postgres://ambient/db",
		"EMPTY=",
		"garbage",
	})

	assert.Equal(t, "/usr/bin", cfg.Env["PATH"])
	assert.Equal(t, "postgres://pinned/db", cfg.Env["DATABASE_URL"])
	assert.Equal(t, "", cfg.Env["EMPTY"])
	assert.NotContains(t, cfg.Env, "garbage")
}

func TestMergeEnvironNilMap(t *testing.T) {
	cfg := &Config{}
	cfg.MergeEnviron([]string{"JOBS=4"})
	assert.Equal(t, "4", cfg.Env["JOBS"])
}
