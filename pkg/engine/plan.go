package engine

import (
	"errors"
	"fmt"

	"github.com/fetchez/fetchez/pkg/recipe"
)

// Compile turns a recipe into an executable plan: every module and hook
// name is resolved against the registry and instantiated with its
// arguments. Compilation never aborts on a bad scope; the failure is
// recorded on that scope so sibling scopes still run.
func Compile(r *recipe.Recipe, reg *Registry) *Plan {
	plan := &Plan{Recipe: r}

	for i, mc := range r.Modules {
		mp := &ModulePlan{Index: i, Name: mc.Module}

		mod, err := reg.Module(mc.Module, mc.Args)
		if err != nil {
			mp.Err = err
		} else {
			mp.Module = mod
			mp.Hooks, mp.Err = buildChain(reg, mc.Hooks)
		}
		plan.Modules = append(plan.Modules, mp)
	}

	plan.GlobalHooks, plan.GlobalHooksErr = buildChain(reg, r.GlobalHooks)
	return plan
}

// buildChain instantiates a hook spec list into stage-partitioned slices.
// A hook whose factory reports a missing external dependency is dropped
// from the chain with an actionable message; any other factory failure, or
// an unknown hook name, fails the whole chain.
func buildChain(reg *Registry, specs []recipe.HookSpec) (*HookChain, error) {
	chain := &HookChain{}
	for _, spec := range specs {
		h, err := reg.Hook(spec.Name, spec.Args)
		if err != nil {
			var ee *EngineError
			if errors.As(err, &ee) && ee.Code == ErrCodeDependencyMissing {
				chain.Skipped = append(chain.Skipped, SkippedHook{
					Name:   spec.Name,
					Reason: ee.Message,
				})
				continue
			}
			return nil, fmt.Errorf("hook %q: %w", spec.Name, err)
		}

		staged := false
		if ph, ok := h.(PreHook); ok {
			chain.Pre = append(chain.Pre, ph)
			staged = true
		}
		if fh, ok := h.(FileHook); ok {
			chain.File = append(chain.File, fh)
			staged = true
		}
		if xh, ok := h.(PostHook); ok {
			chain.Post = append(chain.Post, xh)
			staged = true
		}
		if !staged {
			return nil, NewPermanentError(
				fmt.Sprintf("hook %q implements no pipeline stage", spec.Name), nil).
				WithCode(ErrCodeConfig)
		}
	}
	return chain, nil
}
