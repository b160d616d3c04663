package engine

import "context"

// RunStore persists run reports so `fetchez runs` can list and inspect
// past executions.
type RunStore interface {
	SaveRun(ctx context.Context, report *RunReport) error
	GetRun(ctx context.Context, runID string) (*RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]*RunReport, error)
}

// EventSink receives run events. Implementations must not block the
// execution path; slow sinks buffer or drop.
type EventSink interface {
	Publish(ctx context.Context, event *Event) error
}

// PlanGate evaluates a compiled plan against policy before execution.
// A deny aborts the run; warnings are logged and recorded.
type PlanGate interface {
	Evaluate(ctx context.Context, plan *Plan) (*GateDecision, error)
}

// GateDecision is the outcome of a policy evaluation.
type GateDecision struct {
	Allowed  bool     `json:"allowed"`
	Denials  []string `json:"denials,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
