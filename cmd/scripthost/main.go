// Package main provides the CLI entry point for the scripthost
// sandboxed script execution engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "scripthost",
		Short:         "Sandboxed script execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildRunCmd(),
		buildDaemonCmd(),
		buildTracesCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scripthost version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("scripthost", version)
		},
	}
}
