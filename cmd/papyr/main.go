// Command papyr is the entry point for the papyr document assistant.
// It provides a CLI interface (via Cobra) to run the HTTP API server,
// upload documents, and chat with them from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/papyr-ai/papyr-go/cmd/papyr/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
