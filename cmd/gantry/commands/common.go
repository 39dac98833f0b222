package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

// Global context passed to subcommands if we need to share global state later.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Pipeline descriptor path" default:"gantry.yml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run      RunCmd      `cmd:"" help:"Execute the pipeline matrix once and exit with its status"`
	Validate ValidateCmd `cmd:"" help:"Validate the pipeline descriptor without running anything"`
	Init     InitCmd     `cmd:"" help:"Initialize a starter pipeline descriptor"`
	History  HistoryCmd  `cmd:"" help:"Show recorded run history"`
	Daemon   DaemonCmd   `cmd:"" help:"Run continuously: schedules, config reload, and HTTP API"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// ExitError carries a process exit code through kong's Run chain so main can
// propagate the matrix outcome to the calling pipeline.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
