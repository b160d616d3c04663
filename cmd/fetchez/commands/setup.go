package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/hooks"
	"github.com/fetchez/fetchez/pkg/modules"
	"github.com/fetchez/fetchez/pkg/recipe"
	"github.com/fetchez/fetchez/pkg/schemas"
	"github.com/fetchez/fetchez/pkg/stores"
)

// buildRegistry assembles the registry with every built-in module and hook.
func buildRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	modules.Register(reg)
	hooks.Register(reg)
	schemas.RegisterHooks(reg)
	return reg
}

// buildSchemas assembles the built-in domain schemas.
func buildSchemas() *recipe.SchemaRegistry {
	sr := recipe.NewSchemaRegistry()
	schemas.Register(sr)
	return sr
}

// openStore opens and migrates the run history database.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fetchez.db"
	}
	return filepath.Join(home, ".fetchez", "fetchez.db")
}

// printReport writes a run report as a human-readable summary or JSON.
func printReport(report *engine.RunReport) error {
	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("run %s  project=%s  status=%s  duration=%s\n",
		report.ID, report.Project, report.Status, report.Duration.Round(1e6))
	for _, mr := range report.Modules {
		fmt.Printf("  [%d] %-12s %-9s fetched=%d failed=%d skipped=%d",
			mr.Index, mr.Module, mr.Status,
			mr.Summary.Fetched, mr.Summary.Failed, mr.Summary.Skipped)
		if mr.Error != "" {
			fmt.Printf("  error=%s", mr.Error)
		}
		fmt.Println()
		if verbose {
			for _, e := range mr.Entries {
				fmt.Printf("      %-8s %s -> %s\n", e.Status, e.URL, e.Dst)
			}
		}
	}
	fmt.Printf("  total: fetched=%d failed=%d skipped=%d\n",
		report.Summary.Fetched, report.Summary.Failed, report.Summary.Skipped)
	if report.GlobalErr != "" {
		fmt.Printf("  global hooks: %s\n", report.GlobalErr)
	}
	return nil
}
