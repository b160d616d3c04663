package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/policy"
	"github.com/fetchez/fetchez/pkg/recipe"
)

func newValidateCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "validate <recipe.yaml>",
		Short: "Validate a recipe without running it",
		Long: `Validate a recipe through the same path a real run takes: parse and
default the document, apply the domain schema, compile the execution plan,
and evaluate it against policy.

Compile problems that a run would isolate per scope (unregistered modules,
unknown hooks) are reported here as errors so they can be fixed up front.`,
		Example: `  # Validate a recipe
  fetchez validate coastal.yaml

  # Validate against site policies too
  fetchez validate coastal.yaml --policy-dir /etc/fetchez/policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			r, err := recipe.Load(args[0])
			if err != nil {
				return fmt.Errorf("loading recipe: %w", err)
			}

			eng, err := engine.New(buildRegistry(), buildSchemas())
			if err != nil {
				return err
			}
			plan, err := eng.Prepare(r)
			if err != nil {
				return fmt.Errorf("compiling plan: %w", err)
			}

			problems := 0
			for _, mp := range plan.Modules {
				if mp.Err != nil {
					fmt.Printf("module [%d] %s: %v\n", mp.Index, mp.Name, mp.Err)
					problems++
					continue
				}
				for _, sk := range mp.Hooks.Skipped {
					fmt.Printf("module [%d] %s: hook %s would be skipped: %s\n",
						mp.Index, mp.Name, sk.Name, sk.Reason)
				}
			}
			if plan.GlobalHooksErr != nil {
				fmt.Printf("global hooks: %v\n", plan.GlobalHooksErr)
				problems++
			}

			gate, err := policy.NewGate(log.Logger)
			if err != nil {
				return err
			}
			if len(policyDirs) > 0 {
				if err := gate.LoadPolicies(ctx, policyDirs); err != nil {
					return err
				}
			}
			decision, err := gate.Evaluate(ctx, plan)
			if err != nil {
				return err
			}
			for _, w := range decision.Warnings {
				fmt.Printf("policy warning: %s\n", w)
			}
			for _, d := range decision.Denials {
				fmt.Printf("policy denial: %s\n", d)
				problems++
			}

			if problems > 0 {
				return fmt.Errorf("%d problem(s) found", problems)
			}
			fmt.Printf("recipe %s is valid: %d module(s), region %s\n",
				r.Project, len(plan.Modules), plan.Recipe.Region)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "directories of .rego policies to evaluate")

	return cmd
}
