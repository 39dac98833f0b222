package commands

import (
	"fmt"

	"github.com/gantryci/gantry/internal/config"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("descriptor is invalid: %w", err)
	}

	fmt.Printf("%s: valid\n", root.Config)
	fmt.Printf("  pipeline: %s\n", cfg.Pipeline.Name)
	fmt.Printf("  jobs:     %d\n", len(cfg.Matrix))
	for _, job := range cfg.Matrix {
		note := ""
		if job.AllowFailure {
			note = " (allow_failure)"
		}
		fmt.Printf("    - %s [%s] %d setup, %d test steps%s\n",
			job.Name, job.Channel, len(job.Setup), len(job.Tests), note)
	}
	if len(cfg.Cache.Directories) > 0 {
		fmt.Printf("  cache:    %s (%d directories, restore timeout %s)\n",
			cfg.Cache.Key, len(cfg.Cache.Directories), cfg.Cache.RestoreTimeout.Std())
	}
	if cfg.Database.SetupCommand != "" {
		fmt.Println("  database: per-job provisioning enabled")
	}
	if len(cfg.Daemon.Schedules) > 0 {
		fmt.Printf("  schedules: %d\n", len(cfg.Daemon.Schedules))
	}
	return nil
}
