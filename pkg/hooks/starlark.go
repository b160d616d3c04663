package hooks

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Starlark is a scripted hook: a user script decides which entries survive
// a PRE stage and can rewrite entry metadata in a POST stage. The script
// receives the entry list as `entries` (a list of dicts) and must define a
// `transform(entries)` function returning the kept entries. Scripts run
// hermetically: no filesystem or network access, and a hard wall-clock
// timeout.
type Starlark struct {
	script  string
	timeout time.Duration
}

// NewStarlark is the hook factory for "starlark". Either script (inline
// source) or file (path to a .star file) must be given.
func NewStarlark(args map[string]interface{}) (engine.Hook, error) {
	script := argString(args, "script", "")
	if file := argString(args, "file", ""); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("starlark script %s unreadable", file), err).
				WithCode(engine.ErrCodeDependencyMissing)
		}
		script = string(data)
	}
	if script == "" {
		return nil, engine.NewPermanentError(
			"starlark requires script or file", nil).
			WithCode(engine.ErrCodeConfig)
	}

	timeout := 30 * time.Second
	if secs := argFloat(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	return &Starlark{script: script, timeout: timeout}, nil
}

// Name implements engine.Hook.
func (h *Starlark) Name() string { return "starlark" }

// Pre implements engine.PreHook. Entries absent from the transform result
// are marked Skipped; metadata and weight changes on returned entries are
// copied back.
func (h *Starlark) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	kept, err := h.transform(ctx, entries)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		out, ok := kept[i]
		if !ok {
			e.Skip("starlark: excluded by transform")
			continue
		}
		applyScriptEntry(e, out)
	}
	return entries, nil
}

// Post implements engine.PostHook. The transform runs for its metadata
// side effects only; dropping entries after retrieval has no effect.
func (h *Starlark) Post(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	kept, err := h.transform(ctx, entries)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if out, ok := kept[i]; ok {
			applyScriptEntry(e, out)
		}
	}
	return entries, nil
}

// transform runs the script over the entry list and returns the surviving
// entries keyed by their original index. Evaluation happens on a separate
// goroutine so a runaway script cannot wedge the run past the timeout.
func (h *Starlark) transform(ctx context.Context, entries []*engine.Entry) (map[int]map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		kept map[int]map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		kept, err := h.transformSync(entries)
		ch <- result{kept, err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("starlark transform timed out after %v", h.timeout)
	case r := <-ch:
		return r.kept, r.err
	}
}

func (h *Starlark) transformSync(entries []*engine.Entry) (map[int]map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name:  "fetchez",
		Print: func(_ *starlark.Thread, msg string) {},
	}

	in := make([]starlark.Value, len(entries))
	for i, e := range entries {
		v, err := toStarlarkValue(scriptEntry(e, i))
		if err != nil {
			return nil, fmt.Errorf("converting entry %d: %w", i, err)
		}
		in[i] = v
	}

	predeclared := starlark.StringDict{
		"struct":  starlarkstruct.Default,
		"entries": starlark.NewList(in),
	}

	globals, err := starlark.ExecFile(thread, "hook.star", h.script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals["transform"]
	if !ok {
		return nil, fmt.Errorf("script does not define transform(entries)")
	}
	out, err := starlark.Call(thread, fn, starlark.Tuple{starlark.NewList(in)}, nil)
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}

	raw, err := fromStarlarkValue(out)
	if err != nil {
		return nil, fmt.Errorf("converting transform result: %w", err)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transform must return a list, got %T", raw)
	}

	kept := make(map[int]map[string]interface{}, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transform result items must be entry dicts")
		}
		idx, ok := m["index"].(int64)
		if !ok {
			return nil, fmt.Errorf("transform result entry lost its index")
		}
		kept[int(idx)] = m
	}
	return kept, nil
}

// scriptEntry is the dict representation an entry takes inside a script.
func scriptEntry(e *engine.Entry, index int) map[string]interface{} {
	meta := make(map[string]interface{}, len(e.Meta))
	for k, v := range e.Meta {
		meta[k] = v
	}
	return map[string]interface{}{
		"index":  index,
		"url":    e.URL,
		"dst":    e.Dst,
		"module": e.Module,
		"weight": e.Weight,
		"meta":   meta,
	}
}

// applyScriptEntry copies mutable fields from a script result back onto
// the entry. URL and destination are not script-writable, and a negative
// script weight is clamped to zero.
func applyScriptEntry(e *engine.Entry, m map[string]interface{}) {
	switch w := m["weight"].(type) {
	case float64:
		e.Weight = math.Max(0, w)
	case int64:
		e.Weight = math.Max(0, float64(w))
	}
	if meta, ok := m["meta"].(map[string]interface{}); ok {
		for k, v := range meta {
			e.SetMeta(k, v)
		}
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			gv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = gv
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			gv, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = gv
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
