package recipe

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields the document leaves unset.
const (
	DefaultThreads           = 4
	DefaultMaxAttempts       = 3
	DefaultBackoffInitial    = 1 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffMax        = 30 * time.Second
	DefaultAttemptTimeout    = 5 * time.Minute
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, defaults, and validates a recipe document from path.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a recipe document, expands presets, applies defaults and
// validates the result.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}
	if err := ExpandPresets(&r); err != nil {
		return nil, err
	}
	ApplyDefaults(&r)
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ApplyDefaults fills unset execution fields with engine defaults.
func ApplyDefaults(r *Recipe) {
	if r.Execution.Threads == 0 {
		r.Execution.Threads = DefaultThreads
	}
	if r.Execution.Isolation == "" {
		r.Execution.Isolation = PoolShared
	}
	if r.Execution.Retry.MaxAttempts == 0 {
		r.Execution.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if r.Execution.Retry.BackoffInitial == 0 {
		r.Execution.Retry.BackoffInitial = DefaultBackoffInitial
	}
	if r.Execution.Retry.BackoffMultiplier == 0 {
		r.Execution.Retry.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if r.Execution.Retry.BackoffMax == 0 {
		r.Execution.Retry.BackoffMax = DefaultBackoffMax
	}
	if r.Execution.Retry.AttemptTimeout == 0 {
		r.Execution.Retry.AttemptTimeout = DefaultAttemptTimeout
	}
	if r.OutputDir == "" {
		r.OutputDir = "."
	}
}

// Validate checks structural constraints on a decoded recipe.
func Validate(r *Recipe) error {
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			v := verrs[0]
			return fmt.Errorf("invalid recipe: field %s failed %q validation", v.Namespace(), v.Tag())
		}
		return fmt.Errorf("invalid recipe: %w", err)
	}
	if r.Region.Name == "" && !r.Region.Valid() {
		return fmt.Errorf("invalid recipe: region %s has empty extent", r.Region)
	}
	return nil
}

// Save writes the recipe back out as YAML. Used by schema application and
// `fetchez init` so a rewritten recipe can be inspected and re-run.
func Save(r *Recipe, path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding recipe: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing recipe %s: %w", path, err)
	}
	return nil
}
