package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsPruneCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			reports, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range reports {
				fmt.Printf("%s  %-20s %-9s fetched=%d failed=%d skipped=%d  %s\n",
					r.ID, r.Project, r.Status,
					r.Summary.Fetched, r.Summary.Failed, r.Summary.Skipped,
					r.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full report of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printReport(report); err != nil {
				return err
			}
			if !showEvents {
				return nil
			}

			events, err := store.ListEvents(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("\n%d event(s):\n", len(events))
			for _, ev := range events {
				scope := ""
				if ev.Module != nil {
					scope = " " + *ev.Module
				}
				fmt.Printf("  %s %-7s %-18s%s  %s\n",
					ev.Timestamp.Format(time.RFC3339), ev.Level, ev.Type, scope, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "also print the run's event log")

	return cmd
}

func newRunsPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a retention window",
		Example: `  # Drop runs completed more than 30 days ago
  fetchez runs prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneRuns(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d run(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")

	return cmd
}
