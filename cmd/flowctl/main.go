// Package main implements flowctl, the flow engine's command-line tool:
// serve (REST API + dashboard over a watched directory of flow documents),
// run (execute a single flow document, streaming progress to the terminal),
// and graph (print a flow's dependency diagram without executing it).
// Grounded on the teacher's cmd/emulator/main.go (flag parsing, directory
// watch wiring, graceful shutdown on SIGINT/SIGTERM) restructured around
// cobra subcommands and viper layered config the way CliForge's CLI does,
// replacing the teacher's single flag-based entrypoint -- this domain's CLI
// has multiple verbs (serve/run/graph), not just "start the server".
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "flowctl",
		Short:        "flowctl - run and serve declarative flows",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/flowctl/config.yaml)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newGraphCmd())

	return cmd
}
