// Package database provisions an isolated database per matrix job. Setup and
// teardown are command driven (the registry pipeline uses diesel); the
// provisioner's own job is deriving per-job connection URLs so parallel jobs
// never share a database.
package database

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/logfields"
)

// Environment variable names rewritten per job.
const (
	EnvDatabaseURL     = "DATABASE_URL"
	EnvTestDatabaseURL = "TEST_DATABASE_URL"
)

const commandTimeout = 2 * time.Minute

// Provisioner derives per-job database URLs and runs the configured
// setup/drop commands against them.
type Provisioner struct {
	baseURL      string
	testURL      string
	setupCommand string
	dropCommand  string
}

// NewProvisioner creates a provisioner from the descriptor's database section
// and the pipeline environment (which carries the template URLs).
func NewProvisioner(cfg config.DatabaseConfig, env map[string]string) *Provisioner {
	return &Provisioner{
		baseURL:      env[EnvDatabaseURL],
		testURL:      env[EnvTestDatabaseURL],
		setupCommand: cfg.SetupCommand,
		dropCommand:  cfg.DropCommand,
	}
}

// Enabled reports whether there is anything to provision.
func (p *Provisioner) Enabled() bool {
	return p.baseURL != "" || p.testURL != ""
}

// Provision derives isolated URLs for the job, runs the setup command, and
// returns the environment overrides plus a cleanup that drops the databases.
func (p *Provisioner) Provision(ctx context.Context, jobName string) (map[string]string, func(), error) {
	overrides := map[string]string{}

	if p.baseURL != "" {
		derived, err := DeriveURL(p.baseURL, jobName)
		if err != nil {
			return nil, nil, err
		}
		overrides[EnvDatabaseURL] = derived
	}
	if p.testURL != "" {
		derived, err := DeriveURL(p.testURL, jobName)
		if err != nil {
			return nil, nil, err
		}
		overrides[EnvTestDatabaseURL] = derived
	}

	if p.setupCommand != "" {
		if err := p.runCommand(ctx, p.setupCommand, overrides); err != nil {
			return nil, nil, fmt.Errorf("database setup command failed: %w", err)
		}
	}

	slog.Debug("Database provisioned",
		logfields.Job(jobName),
		logfields.Database(overrides[EnvDatabaseURL]))

	cleanup := func() {
		if p.dropCommand == "" {
			return
		}
		// Best effort; a failed drop must not fail the job.
		dropCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := p.runCommand(dropCtx, p.dropCommand, overrides); err != nil {
			slog.Warn("Database drop command failed",
				logfields.Job(jobName),
				logfields.Error(err))
		}
	}
	return overrides, cleanup, nil
}

// runCommand executes a provisioning command with the derived URLs overlaid
// on the process environment.
func (p *Provisioner) runCommand(ctx context.Context, command string, overrides map[string]string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w (output: %s)", command, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// DeriveURL appends a job-specific suffix to the database name component of a
// connection URL, so each matrix entry provisions its own database.
func DeriveURL(rawURL, jobName string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		return "", fmt.Errorf("database URL %q has no database name", rawURL)
	}
	u.Path = u.Path + "_" + sanitizeName(jobName)
	return u.String(), nil
}

// sanitizeName maps a job name onto characters safe for database identifiers.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
