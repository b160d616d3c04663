package hooks

import (
	"context"
	"fmt"

	"github.com/fetchez/fetchez/pkg/engine"
)

// SetWeight is a PRE hook that assigns a processing weight to every entry.
// Downstream gridding tooling sorts by weight, so surveys from preferred
// sources can be ranked above background data. Rules override the default
// per module or per data_type.
type SetWeight struct {
	def   float64
	rules []weightRule
}

type weightRule struct {
	module   string
	dataType string
	weight   float64
}

// NewSetWeight is the hook factory for "set_weight". Weights are never
// negative. Args:
//
//	weight: default weight applied to every entry (default 1)
//	rules:  list of {module|data_type, weight} overrides, first match wins
func NewSetWeight(args map[string]interface{}) (engine.Hook, error) {
	h := &SetWeight{def: argFloat(args, "weight", 1)}
	if h.def < 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("set_weight default weight %g is negative", h.def), nil).
			WithCode(engine.ErrCodeConfig)
	}
	raw, _ := args["rules"].([]interface{})
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, engine.NewPermanentError(
				"set_weight rules must be mappings", nil).
				WithCode(engine.ErrCodeConfig)
		}
		w := argFloat(m, "weight", h.def)
		if w < 0 {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("set_weight rule weight %g is negative", w), nil).
				WithCode(engine.ErrCodeConfig)
		}
		h.rules = append(h.rules, weightRule{
			module:   argString(m, "module", ""),
			dataType: argString(m, "data_type", ""),
			weight:   w,
		})
	}
	return h, nil
}

// Name implements engine.Hook.
func (h *SetWeight) Name() string { return "set_weight" }

// Pre implements engine.PreHook.
func (h *SetWeight) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	for _, e := range entries {
		e.Weight = h.weightFor(e)
	}
	return entries, nil
}

func (h *SetWeight) weightFor(e *engine.Entry) float64 {
	dt, _ := e.GetMeta("data_type")
	dts, _ := dt.(string)
	for _, r := range h.rules {
		if r.module != "" && r.module != e.Module {
			continue
		}
		if r.dataType != "" && r.dataType != dts {
			continue
		}
		return r.weight
	}
	return h.def
}
