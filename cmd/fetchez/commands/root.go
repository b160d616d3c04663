// Package commands implements the fetchez command line interface.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath     string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fetchez",
		Short: "fetchez - geospatial dataset retrieval engine",
		Long: `fetchez discovers, downloads, and transforms geospatial datasets from
remote and local sources through declarative recipes.

A recipe names one or more data-source modules, an optional domain schema
that rewrites the recipe for tile delivery, and processing hooks applied at
well-defined points in the fetch lifecycle:

  - PRE hooks filter and reorder the resolved entry list
  - FILE hooks transform each artifact as it lands (unzip, checksum, pipe)
  - POST hooks aggregate surviving artifacts (inventory, audit, snap_tile)

Retrieval runs through a bounded worker pool with retry, resume, and
mirror fallback. Every run produces an audit report and is recorded in a
local run history.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "run history database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newFredCommand())

	return rootCmd
}
