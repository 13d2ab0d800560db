// Command autogift is the entrypoint for the auto-gift backend. It exposes
// two modes: a long-running HTTP API server (serve) and a single scheduler
// tick (sweep) meant to be driven by external cron.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	// Local development convenience; real deployments inject env directly.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "autogift",
		Short:   "Auto-gift rule execution and approval backend",
		Version: Version,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
