package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct{}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.MergeEnviron(os.Environ())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dm, err := daemon.New(root.Config, cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return dm.Run(ctx)
}
