// Package cmd is the cobra command tree for the anything-indexer binary.
//
// Grounded on the teacher's cmd/root.go: a package-level rootCmd, an
// exported Execute(), and subcommands registering themselves via init().
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "anything-indexer",
	Short:   "anything-indexer - per-user filesystem indexer and search service",
	Version: "v0.1.0",
	Long:    "anything-indexer indexes one or more root directories per user into a searchable SQLite catalogue and serves substring queries over HTTP.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (built-in defaults when unset or missing)")
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "anything-indexer: %v\n", err)
		os.Exit(1)
	}
}
