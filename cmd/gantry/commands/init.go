package commands

import (
	"fmt"

	"github.com/gantryci/gantry/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing descriptor file"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", root.Config)
	fmt.Println("Review the matrix and database commands, then start with: gantry run")
	return nil
}
