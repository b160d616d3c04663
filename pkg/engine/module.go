package engine

import (
	"context"

	"github.com/fetchez/fetchez/pkg/recipe"
)

// Module is a data-source adapter. Given a region of interest it resolves
// the set of retrievable entries the source offers there. Resolution must
// not retrieve anything; it only enumerates.
type Module interface {
	// Name is the identifier recipes reference.
	Name() string

	// Resolve enumerates the entries the source offers within region.
	Resolve(ctx context.Context, region recipe.Region) ([]*Entry, error)
}

// ModuleFactory constructs a module instance from the recipe's argument
// mapping. Factories validate their arguments and fail fast with a
// CONFIG_ERROR rather than deferring to resolution time.
type ModuleFactory func(args map[string]interface{}) (Module, error)

// Hook is the base capability of every pipeline hook. Stage affinity is
// expressed through the PreHook, FileHook and PostHook interfaces; a hook
// implements the stages it participates in.
type Hook interface {
	// Name is the identifier recipes reference.
	Name() string
}

// PreHook runs before retrieval, over the full resolved entry slice of its
// scope. It may filter, reorder, annotate, or expand the slice.
type PreHook interface {
	Hook
	Pre(ctx context.Context, entries []*Entry) ([]*Entry, error)
}

// FileHook runs once per successfully retrieved entry, inline in the
// retrieval worker. It may fan an archive out into multiple entries by
// returning them; returning a nil slice keeps just the input entry.
type FileHook interface {
	Hook
	File(ctx context.Context, entry *Entry) ([]*Entry, error)
}

// PostHook runs after all retrieval in its scope has settled, over the
// terminal entries of that scope excluding skipped ones.
type PostHook interface {
	Hook
	Post(ctx context.Context, entries []*Entry) ([]*Entry, error)
}

// HookFactory constructs a hook instance from the recipe's argument
// mapping. A factory whose external dependency (a required binary, an
// unreachable index) is absent returns an EngineError with code
// DEPENDENCY_MISSING so the chain can skip it with an actionable message.
type HookFactory func(args map[string]interface{}) (Hook, error)
