package main

import (
	"fmt"
	"os"

	"github.com/dotstate/dotstate/cmd/dotstate"
	"github.com/dotstate/dotstate/pkg/ui"
)

func main() {
	rootCmd := dotstate.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}
