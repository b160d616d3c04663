package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/policy"
	"github.com/fetchez/fetchez/pkg/recipe"
	"github.com/fetchez/fetchez/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		outputDir  string
		threads    int
		dryRun     bool
		policyDirs []string
		noStore    bool
	)

	cmd := &cobra.Command{
		Use:   "run <recipe.yaml>",
		Short: "Execute a recipe",
		Long: `Execute a recipe end to end: apply the domain schema, resolve entries
from every module, retrieve them through the worker pool, and run the hook
pipeline at module and global scope.

Module failures do not abort the run; the report records each scope's
outcome separately. An interrupt produces a partial report covering
everything completed before the signal.`,
		Example: `  # Run a recipe
  fetchez run coastal.yaml

  # Plan only: resolve and list entries without retrieving
  fetchez run coastal.yaml --dry-run

  # Override concurrency and staging directory
  fetchez run coastal.yaml --threads 8 --output-dir /data/staging

  # Enforce site policies
  fetchez run coastal.yaml --policy-dir /etc/fetchez/policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			r, err := recipe.Load(args[0])
			if err != nil {
				return fmt.Errorf("loading recipe: %w", err)
			}
			if outputDir != "" {
				r.OutputDir = outputDir
			}
			if threads > 0 {
				r.Execution.Threads = threads
			}
			if dryRun {
				// The dryrun hook skips every entry before retrieval, so the
				// run resolves and reports without moving bytes.
				r.GlobalHooks = append([]recipe.HookSpec{{Name: "dryrun"}}, r.GlobalHooks...)
				for i := range r.Modules {
					r.Modules[i].Hooks = append([]recipe.HookSpec{{Name: "dryrun"}}, r.Modules[i].Hooks...)
				}
			}

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}
			defer tel.Shutdown(ctx) //nolint:errcheck

			opts := []engine.Option{engine.WithTelemetry(tel)}

			gate, err := policy.NewGate(log.Logger)
			if err != nil {
				return fmt.Errorf("initializing policy gate: %w", err)
			}
			if len(policyDirs) > 0 {
				if err := gate.LoadPolicies(ctx, policyDirs); err != nil {
					return err
				}
			}
			opts = append(opts, engine.WithGate(gate))

			if !noStore {
				store, err := openStore(ctx, dbPath)
				if err != nil {
					return fmt.Errorf("opening run store: %w", err)
				}
				defer store.Close()
				// The store doubles as the event sink so `runs show
				// --events` can replay what happened.
				opts = append(opts, engine.WithStore(store), engine.WithEventSink(store))
			}

			eng, err := engine.New(buildRegistry(), buildSchemas(), opts...)
			if err != nil {
				return err
			}

			report, err := eng.Run(ctx, r)
			if err != nil {
				return err
			}
			if err := printReport(report); err != nil {
				return err
			}
			if report.Status == engine.RunStatusFailed {
				return fmt.Errorf("run %s failed", report.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "staging directory for retrieved artifacts")
	cmd.Flags().IntVarP(&threads, "threads", "t", 0, "worker pool size (overrides recipe)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and report without retrieving")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "directories of .rego policies to enforce")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "skip recording the run in the history database")

	return cmd
}
