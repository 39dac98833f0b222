package main

import (
	"errors"
	"os"

	"github.com/alecthomas/kong"

	"github.com/gantryci/gantry/cmd/gantry/commands"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	cli := commands.CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gantry"),
		kong.Description("CI matrix orchestrator: run channel matrices with isolated databases, cached builds, and exit codes your pipeline can trust."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	err := ctx.Run(&commands.Global{}, &cli)

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	ctx.FatalIfErrorf(err)
}
