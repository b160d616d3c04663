package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterRecipe = `# fetchez recipe
project: my-project

region: [-120.0, -119.75, 33.0, 33.25]

execution:
  threads: 4
  retry:
    max_attempts: 3
    backoff_initial: 1s
    backoff_multiplier: 2.0
    backoff_max: 30s
    attempt_timeout: 5m

# domain:
#   schema: cudem

modules:
  - module: urllist
    args:
      urls:
        - https://example.com/data/survey.zip
    hooks:
      - name: unzip
      - name: checksum
        args:
          algo: blake3

global_hooks:
  - name: inventory
    args:
      path: inventory.txt
  - name: audit
    args:
      path: audit.json
`

const starterPresets = `{
  "my_dem": {
    "module": "urllist",
    "args": {
      "urls": ["https://example.com/data/survey.zip"]
    },
    "hooks": [
      {"name": "unzip"},
      {"name": "checksum", "args": {"algo": "blake3"}}
    ]
  }
}
`

func newInitCommand() *cobra.Command {
	var (
		force   bool
		presets bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter recipe",
		Long: `Write a commented starter recipe to the given path (default
recipe.yaml) as a template for new projects.`,
		Example: `  # Create recipe.yaml in the current directory
  fetchez init

  # Create a named recipe
  fetchez init coastal.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "recipe.yaml"
			if len(args) > 0 {
				path = args[0]
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := os.WriteFile(path, []byte(starterRecipe), 0o644); err != nil {
				return fmt.Errorf("writing recipe: %w", err)
			}
			fmt.Printf("wrote %s\n", path)

			if presets {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("locating home directory: %w", err)
				}
				presetsPath := filepath.Join(home, ".fetchez", "presets.json")
				if _, err := os.Stat(presetsPath); err == nil {
					fmt.Printf("%s already exists, leaving it alone\n", presetsPath)
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(presetsPath), 0o755); err != nil {
					return fmt.Errorf("creating presets directory: %w", err)
				}
				if err := os.WriteFile(presetsPath, []byte(starterPresets), 0o644); err != nil {
					return fmt.Errorf("writing presets: %w", err)
				}
				fmt.Printf("wrote %s\n", presetsPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&presets, "presets", false, "also seed ~/.fetchez/presets.json with an example preset")

	return cmd
}
