package recipe

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

// Preset is a named macro for a module configuration. A module entry whose
// name matches a preset is replaced by the preset body, with the entry's own
// args and hooks overlaid on top, so recipes can say "ncei_dem" instead of
// repeating a module name, arguments, and hook chain.
type Preset struct {
	Module string                 `json:"module"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Hooks  []HookSpec             `json:"hooks,omitempty"`
}

//go:embed presets.json
var builtinPresets []byte

// LoadPresets returns the builtin preset table, merged with the user table
// at path when it exists. User entries win on name collision.
func LoadPresets(path string) (map[string]Preset, error) {
	presets := map[string]Preset{}
	if err := json.Unmarshal(builtinPresets, &presets); err != nil {
		return nil, fmt.Errorf("decoding builtin presets: %w", err)
	}
	if path == "" {
		return presets, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return presets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading presets %s: %w", path, err)
	}
	user := map[string]Preset{}
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decoding presets %s: %w", path, err)
	}
	for name, p := range user {
		presets[name] = p
	}
	return presets, nil
}

// ExpandPresets rewrites module entries that name a preset into their full
// form. Expansion is a single pass: presets cannot reference presets.
func ExpandPresets(r *Recipe) error {
	presets, err := LoadPresets(userPresetsPath())
	if err != nil {
		return err
	}
	for i, m := range r.Modules {
		p, ok := presets[m.Module]
		if !ok {
			continue
		}
		expanded := ModuleConfig{
			Module: p.Module,
			Args:   cloneArgs(p.Args),
			Hooks:  cloneHooks(p.Hooks),
		}
		if expanded.Args == nil && m.Args != nil {
			expanded.Args = map[string]interface{}{}
		}
		for k, v := range m.Args {
			expanded.Args[k] = v
		}
		expanded.Hooks = append(expanded.Hooks, cloneHooks(m.Hooks)...)
		r.Modules[i] = expanded
	}
	return nil
}

func userPresetsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.fetchez/presets.json"
}
