package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
	"github.com/fetchez/fetchez/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		outputDir string
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <recipe.yaml>",
		Short: "Re-run a recipe whenever it changes",
		Long: `Watch a recipe file and execute it after every save. Editors that
replace the file on write are handled by watching the parent directory.
Each run reloads the recipe from disk, so schema and hook changes take
effect immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			recipePath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}
			defer tel.Shutdown(ctx) //nolint:errcheck

			eng, err := engine.New(buildRegistry(), buildSchemas(), engine.WithTelemetry(tel))
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("creating watcher: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Add(filepath.Dir(recipePath)); err != nil {
				return fmt.Errorf("watching %s: %w", filepath.Dir(recipePath), err)
			}

			runOnce := func() {
				r, err := recipe.Load(recipePath)
				if err != nil {
					log.Error().Err(err).Str("recipe", recipePath).Msg("recipe load failed")
					return
				}
				if outputDir != "" {
					r.OutputDir = outputDir
				}
				report, err := eng.Run(ctx, r)
				if err != nil {
					log.Error().Err(err).Msg("run failed")
					return
				}
				if err := printReport(report); err != nil {
					log.Error().Err(err).Msg("printing report")
				}
			}

			runOnce()
			fmt.Printf("watching %s\n", recipePath)

			// Editors fire several events per save; coalesce them.
			var pending *time.Timer
			fire := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					if ctx.Err() == context.Canceled {
						return nil
					}
					return ctx.Err()
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(ev.Name) != recipePath {
						continue
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					if pending != nil {
						pending.Stop()
					}
					pending = time.AfterFunc(debounce, func() {
						select {
						case fire <- struct{}{}:
						default:
						}
					})
				case <-fire:
					runOnce()
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")
				}
			}
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "staging directory for retrieved artifacts")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "settle time after a change before re-running")

	return cmd
}
