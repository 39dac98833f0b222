package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/state"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	ID    string `arg:"" optional:"" help:"Show full detail for one run"`
	Limit int    `short:"n" default:"20" help:"Number of runs to list"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(cfg.Daemon.StatePath); err != nil {
		return fmt.Errorf("no run history at %s", cfg.Daemon.StatePath)
	}

	store, err := state.NewStore(cfg.Daemon.StatePath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	if h.ID != "" {
		return h.showDetail(store)
	}
	return h.listRuns(store)
}

func (h *HistoryCmd) listRuns(store *state.Store) error {
	runs, err := store.ListRuns(context.Background(), h.Limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-9s  %-5s  %-10s  %s\n",
		"RUN", "PIPELINE", "STATUS", "EXIT", "DURATION", "STARTED")
	for _, run := range runs {
		fmt.Printf("%-36s  %-20s  %-9s  %-5d  %-10s  %s\n",
			run.ID, run.Pipeline, run.Status, run.ExitCode,
			(time.Duration(run.DurationMS) * time.Millisecond).String(),
			run.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func (h *HistoryCmd) showDetail(store *state.Store) error {
	detail, err := store.GetRun(context.Background(), h.ID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", h.ID, err)
	}

	fmt.Printf("Run %s (%s)\n", detail.ID, detail.Pipeline)
	fmt.Printf("  status:   %s (exit code %d)\n", detail.Status, detail.ExitCode)
	fmt.Printf("  started:  %s\n", detail.StartedAt.Format(time.RFC3339))
	fmt.Printf("  duration: %s\n", (time.Duration(detail.DurationMS) * time.Millisecond).String())

	for _, job := range detail.Jobs {
		note := ""
		if job.AllowFailure {
			note = " allow_failure"
		}
		fmt.Printf("\n  %s [%s]%s: %s (exit code %d)\n",
			job.Name, job.Channel, note, job.Status, job.ExitCode)
		for _, step := range job.Steps {
			fmt.Printf("    %-5s  %-9s  %s\n", step.Phase, step.Status, step.Command)
		}
		if job.Error != "" {
			fmt.Printf("    error: %s\n", job.Error)
		}
	}
	return nil
}
