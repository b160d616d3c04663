// Package recipe defines the declarative recipe document that drives a
// fetchez run: which modules to query, which hooks to apply at which stage,
// the working region, and the execution configuration. The document shape is
// the wire contract between the CLI/YAML surface and the execution engine and
// round-trips losslessly for audit purposes.
package recipe

import (
	"fmt"
	"time"
)

// Region is a geographic bounding box in decimal degrees.
type Region struct {
	West  float64 `yaml:"west" json:"west"`
	East  float64 `yaml:"east" json:"east"`
	South float64 `yaml:"south" json:"south"`
	North float64 `yaml:"north" json:"north"`

	// Name is an optional named location, resolved by the caller before the
	// engine runs. When set, the numeric bounds are authoritative only after
	// resolution.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Valid reports whether the region has usable bounds.
func (r Region) Valid() bool {
	return r.West < r.East && r.South < r.North
}

// Buffer returns a copy of the region expanded by d degrees on each side.
func (r Region) Buffer(d float64) Region {
	r.West -= d
	r.East += d
	r.South -= d
	r.North += d
	return r
}

// Intersects reports whether the two regions overlap.
func (r Region) Intersects(o Region) bool {
	return r.West <= o.East && r.East >= o.West && r.South <= o.North && r.North >= o.South
}

func (r Region) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", r.West, r.East, r.South, r.North)
}

// UnmarshalYAML accepts either the mapping form
// {west: -120, east: -119, south: 33, north: 34} or the compact sequence
// form [-120, -119, 33, 34] (west, east, south, north).
func (r *Region) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seq []float64
	if err := unmarshal(&seq); err == nil {
		if len(seq) != 4 {
			return fmt.Errorf("region sequence must have 4 values (west, east, south, north), got %d", len(seq))
		}
		r.West, r.East, r.South, r.North = seq[0], seq[1], seq[2], seq[3]
		return nil
	}

	type plain Region
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*r = Region(p)
	return nil
}

// Retry configures the retrieval retry policy.
type Retry struct {
	// MaxAttempts is the number of attempts per source URL before falling
	// through to the next mirror.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" validate:"gte=0,lte=100"`

	// BackoffInitial is the delay before the first retry.
	BackoffInitial time.Duration `yaml:"backoff_initial" json:"backoff_initial"`

	// BackoffMultiplier grows the delay between consecutive retries.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" validate:"gte=0"`

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `yaml:"backoff_max" json:"backoff_max"`

	// AttemptTimeout bounds a single retrieval attempt, not the Entry
	// lifetime: an Entry may legitimately span several timed-out attempts.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
}

// PoolScope selects how the retrieval worker pool is shared.
type PoolScope string

const (
	// PoolShared runs all modules' entries through one bounded pool.
	PoolShared PoolScope = "shared"

	// PoolModule gives each module scope its own bounded pool.
	PoolModule PoolScope = "module"
)

// Execution configures concurrency and retry for a run.
type Execution struct {
	// Threads is the bounded worker pool size.
	Threads int `yaml:"threads" json:"threads" validate:"gte=0,lte=256"`

	// Isolation selects shared or per-module worker pools.
	Isolation PoolScope `yaml:"isolation,omitempty" json:"isolation,omitempty" validate:"omitempty,oneof=shared module"`

	Retry Retry `yaml:"retry" json:"retry"`
}

// HookSpec names a hook and its argument mapping. Stage affinity is
// intrinsic to the hook implementation, not declared here.
type HookSpec struct {
	Name string                 `yaml:"name" json:"name" validate:"required"`
	Args map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
}

// ModuleConfig names a data-source module, its arguments, and the hooks
// scoped to it. Identity is positional: the same module name may appear
// more than once with different arguments.
type ModuleConfig struct {
	Module string                 `yaml:"module" json:"module" validate:"required"`
	Args   map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	Hooks  []HookSpec             `yaml:"hooks,omitempty" json:"hooks,omitempty" validate:"dive"`
}

// Domain references a named domain schema that rewrites the recipe to
// satisfy geometric delivery constraints before execution.
type Domain struct {
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// Applied marks a recipe that has already been rewritten by Schema.
	// Re-applying a schema to a marked recipe is an error; the marker keeps
	// that decision deterministic and auditable.
	Applied bool `yaml:"applied,omitempty" json:"applied,omitempty"`
}

// Recipe is the declarative description of a fetch-and-process run.
// Once compiled into an execution plan it is treated as immutable.
type Recipe struct {
	Project     string         `yaml:"project" json:"project" validate:"required"`
	Execution   Execution      `yaml:"execution" json:"execution"`
	Region      Region         `yaml:"region" json:"region"`
	Domain      *Domain        `yaml:"domain,omitempty" json:"domain,omitempty"`
	Modules     []ModuleConfig `yaml:"modules" json:"modules" validate:"required,min=1,dive"`
	GlobalHooks []HookSpec     `yaml:"global_hooks,omitempty" json:"global_hooks,omitempty" validate:"dive"`

	// OutputDir is where retrieved artifacts are staged.
	OutputDir string `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
}

// Clone returns a deep copy of the recipe. Schema mutation works on a clone
// so a failed mutation never leaves a partially rewritten recipe behind.
func (r *Recipe) Clone() *Recipe {
	out := *r
	if r.Domain != nil {
		d := *r.Domain
		out.Domain = &d
	}
	out.Modules = make([]ModuleConfig, len(r.Modules))
	for i, m := range r.Modules {
		out.Modules[i] = ModuleConfig{
			Module: m.Module,
			Args:   cloneArgs(m.Args),
			Hooks:  cloneHooks(m.Hooks),
		}
	}
	out.GlobalHooks = cloneHooks(r.GlobalHooks)
	return &out
}

func cloneHooks(hooks []HookSpec) []HookSpec {
	if hooks == nil {
		return nil
	}
	out := make([]HookSpec, len(hooks))
	for i, h := range hooks {
		out[i] = HookSpec{Name: h.Name, Args: cloneArgs(h.Args)}
	}
	return out
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch vv := v.(type) {
		case map[string]interface{}:
			out[k] = cloneArgs(vv)
		case []interface{}:
			s := make([]interface{}, len(vv))
			copy(s, vv)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
