package main

import (
	"os"

	"github.com/shuvam773/kanban/cmd/kanbanctl/commands"
)

func main() {
	// Errors are printed by the commands package with color formatting.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
