// Package hooks provides the built-in pipeline hooks: archive expansion,
// checksum computation, entry filtering and weighting, inventory and audit
// reports, external command piping, and Starlark-scripted transforms.
package hooks

import (
	"strconv"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Register installs all built-in hooks into the registry.
func Register(reg *engine.Registry) {
	reg.RegisterHook("unzip", NewUnzip)
	reg.RegisterHook("checksum", NewChecksum)
	reg.RegisterHook("filename_filter", NewFilenameFilter)
	reg.RegisterHook("set_weight", NewSetWeight)
	reg.RegisterHook("pre_inventory", NewPreInventory)
	reg.RegisterHook("inventory", NewInventory)
	reg.RegisterHook("audit", NewAudit)
	reg.RegisterHook("pipe", NewPipe)
	reg.RegisterHook("list", NewList)
	reg.RegisterHook("dryrun", NewDryRun)
	reg.RegisterHook("starlark", NewStarlark)
}

func argString(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func argBool(args map[string]interface{}, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func metaInt64(e *engine.Entry, key string) (int64, bool) {
	v, ok := e.GetMeta(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func argFloat(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
