package engine

import (
	"time"

	"github.com/fetchez/fetchez/pkg/recipe"
)

// HookStage identifies where in the lifecycle a hook chain runs.
type HookStage string

const (
	StagePre  HookStage = "pre"
	StageFile HookStage = "file"
	StagePost HookStage = "post"
)

// HookChain is an ordered instantiation of a hook spec list, partitioned by
// the stages each hook implements. Order within a stage follows declaration
// order in the recipe.
type HookChain struct {
	Pre  []PreHook
	File []FileHook
	Post []PostHook

	// Skipped records hooks that could not be instantiated because an
	// external dependency was missing, with the actionable message. The
	// chain still runs without them.
	Skipped []SkippedHook
}

// SkippedHook records a hook dropped from a chain and why.
type SkippedHook struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ModulePlan is one module scope of a compiled plan: the instantiated
// module, its hook chain, and the positional index that keeps duplicate
// module names distinct.
type ModulePlan struct {
	// Index is the position in the recipe's module list.
	Index int

	// Name is the module name as the recipe spelled it.
	Name string

	Module Module
	Hooks  *HookChain

	// Err is set when the scope failed to compile (unregistered module,
	// bad arguments, unknown hook). The scope is reported failed without
	// executing, but does not block sibling scopes.
	Err error
}

// Plan is a compiled, immutable execution plan for one recipe run.
type Plan struct {
	Recipe      *recipe.Recipe
	Modules     []*ModulePlan
	GlobalHooks *HookChain

	// GlobalHooksErr is set when the global chain failed to compile. The
	// run still executes module scopes; the global stage is reported failed.
	GlobalHooksErr error
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusSkipped is used for module scopes whose external dependency
	// is missing; it never describes a whole run.
	RunStatusSkipped RunStatus = "skipped"
)

// IsTerminal reports whether the run status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the run is still in progress.
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// EntrySummary counts entries by terminal status.
type EntrySummary struct {
	Total   int `json:"total"`
	Fetched int `json:"fetched"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// Add folds o into the summary.
func (s *EntrySummary) Add(o EntrySummary) {
	s.Total += o.Total
	s.Fetched += o.Fetched
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Pending += o.Pending
}

// ModuleReport is the per-scope slice of a run report.
type ModuleReport struct {
	Index   int          `json:"index"`
	Module  string       `json:"module"`
	Status  RunStatus    `json:"status"`
	Summary EntrySummary `json:"summary"`
	Entries []*Entry     `json:"entries,omitempty"`

	// Error records scope-level failure: compile error, resolution error,
	// or PRE hook failure. Entry-level failures live on the entries.
	Error string `json:"error,omitempty"`

	// SkippedHooks lists hooks dropped from this scope's chain.
	SkippedHooks []SkippedHook `json:"skipped_hooks,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// RunReport is the aggregate outcome of one recipe run. Per-module results
// stay attributable; the global summary folds them together.
type RunReport struct {
	ID        string         `json:"id"`
	Project   string         `json:"project"`
	Status    RunStatus      `json:"status"`
	Region    recipe.Region  `json:"region"`
	Modules   []ModuleReport `json:"modules"`
	Summary   EntrySummary   `json:"summary"`
	GlobalErr string         `json:"global_error,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// EventType categorizes run events persisted to the store.
type EventType string

const (
	EventTypeRunStarted      EventType = "run.started"
	EventTypeRunCompleted    EventType = "run.completed"
	EventTypeRunFailed       EventType = "run.failed"
	EventTypeRunCancelled    EventType = "run.cancelled"
	EventTypeModuleStarted   EventType = "module.started"
	EventTypeModuleCompleted EventType = "module.completed"
	EventTypeModuleFailed    EventType = "module.failed"
	EventTypeModuleSkipped   EventType = "module.skipped"
	EventTypeEntryFetched    EventType = "entry.fetched"
	EventTypeEntryFailed     EventType = "entry.failed"
	EventTypeEntrySkipped    EventType = "entry.skipped"
	EventTypeHookSkipped     EventType = "hook.skipped"
	EventTypeWarning         EventType = "warning"
)

// Event is a timestamped record of something that happened during a run.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Module    string    `json:"module,omitempty"`
	URL       string    `json:"url,omitempty"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}
