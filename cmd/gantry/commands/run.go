package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/checkout"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/database"
	"github.com/gantryci/gantry/internal/logfields"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/retry"
	"github.com/gantryci/gantry/internal/runner"
	"github.com/gantryci/gantry/internal/state"
	"github.com/gantryci/gantry/internal/workspace"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	NoCache   bool `help:"Skip cache restore and save for this run"`
	NoHistory bool `help:"Do not record this run in the local history store"`
}

func (r *RunCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.MergeEnviron(os.Environ())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeRun(ctx, cfg, r.NoCache)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if !r.NoHistory {
		recordRun(cfg, result)
	}

	printSummary(result)

	if result.ExitCode != 0 {
		return &ExitError{Code: result.ExitCode}
	}
	return nil
}

// executeRun wires an orchestrator from the descriptor and runs the matrix.
func executeRun(ctx context.Context, cfg *config.Config, noCache bool) (*runner.RunResult, error) {
	plan := pipeline.FromConfig(cfg)
	ws := workspace.NewManager("")

	jobRunner := runner.NewJobRunner(cfg.Defaults.StepTimeout.Std())
	orch := runner.NewOrchestrator(plan, jobRunner, ws)

	if !noCache && len(cfg.Cache.Directories) > 0 {
		orch = orch.WithCache(cache.NewManager(cfg.Cache))
	}
	if provisioner := database.NewProvisioner(cfg.Database, cfg.Env); provisioner.Enabled() {
		orch = orch.WithDatabases(provisioner)
	}
	if cfg.Pipeline.Checkout != nil {
		orch = orch.WithSource(checkout.NewClient(*cfg.Pipeline.Checkout, retry.FromConfig(cfg.Retry)))
	}

	return orch.Run(ctx)
}

// recordRun stores the result in the local history database. History is a
// convenience here, so failures only warn.
func recordRun(cfg *config.Config, result *runner.RunResult) {
	statePath := cfg.Daemon.StatePath
	if dir := filepath.Dir(statePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			slog.Warn("Failed to create state directory", logfields.Error(err))
			return
		}
	}

	store, err := state.NewStore(statePath)
	if err != nil {
		slog.Warn("Failed to open history store", logfields.Error(err))
		return
	}
	defer store.Close()

	if err := store.RecordRun(context.Background(), result); err != nil {
		slog.Warn("Failed to record run", logfields.RunID(result.ID), logfields.Error(err))
		return
	}
	if err := store.Prune(context.Background(), cfg.Daemon.HistorySize); err != nil {
		slog.Warn("Failed to prune run history", logfields.Error(err))
	}
}

func printSummary(result *runner.RunResult) {
	fmt.Printf("\nRun %s finished: %s (exit code %d) in %s\n",
		result.ID, result.Status, result.ExitCode, result.Duration.Round(time.Millisecond))
	for _, job := range result.Jobs {
		marker := "ok"
		switch {
		case job.Failed() && job.AllowFailure:
			marker = "failed (allowed)"
		case job.Failed():
			marker = fmt.Sprintf("failed (exit code %d)", job.ExitCode)
		case job.Status == runner.JobStatusCanceled:
			marker = "canceled"
		}
		fmt.Printf("  %-20s %-8s %s\n", job.Name, job.Channel, marker)
	}
}
