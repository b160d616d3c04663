package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fetchez/fetchez/pkg/recipe"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [modules|hooks|schemas|presets]",
		Short: "List available modules, hooks, schemas, and presets",
		Example: `  # List everything
  fetchez list

  # List only data-source modules
  fetchez list modules`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := ""
			if len(args) > 0 {
				kind = strings.ToLower(args[0])
			}

			reg := buildRegistry()
			sr := buildSchemas()

			switch kind {
			case "modules":
				printNames("modules", reg.ModuleNames())
			case "hooks":
				printNames("hooks", reg.HookNames())
			case "schemas":
				printNames("schemas", sr.Names())
			case "presets":
				names, err := presetNames()
				if err != nil {
					return err
				}
				printNames("presets", names)
			case "":
				printNames("modules", reg.ModuleNames())
				printNames("hooks", reg.HookNames())
				printNames("schemas", sr.Names())
				names, err := presetNames()
				if err != nil {
					return err
				}
				printNames("presets", names)
			default:
				return fmt.Errorf("unknown kind %q (want modules, hooks, schemas, or presets)", kind)
			}
			return nil
		},
	}
	return cmd
}

// presetNames returns the merged builtin and user preset names, sorted.
func presetNames() ([]string, error) {
	path := ""
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".fetchez", "presets.json")
	}
	presets, err := recipe.LoadPresets(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func printNames(kind string, names []string) {
	fmt.Printf("%s:\n", kind)
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
}
