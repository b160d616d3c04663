package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fetchez/fetchez/pkg/recipe"
	"github.com/fetchez/fetchez/pkg/telemetry"
)

// Engine executes recipes: it applies the domain schema, compiles the plan,
// gates it against policy, runs module scopes in strict declaration order,
// and finishes with the global hook scope. Partial failure is the normal
// operating mode; only configuration errors and cancellation abort a run.
type Engine struct {
	registry *Registry
	schemas  *recipe.SchemaRegistry
	fetcher  Fetcher
	store    RunStore
	gate     PlanGate
	sink     EventSink
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists run reports to a RunStore.
func WithStore(s RunStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithGate evaluates compiled plans against policy before execution.
func WithGate(g PlanGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithEventSink publishes run events to an EventSink.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithFetcher replaces the default fetcher mux.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithTelemetry wires logging, metrics and tracing into the run.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = tel
		e.logger = tel.Logger.NewComponentLogger("engine")
	}
}

// New creates an engine over a registry and schema registry.
func New(reg *Registry, schemas *recipe.SchemaRegistry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, NewPermanentError("registry is nil", nil).WithCode(ErrCodeConfig)
	}
	if schemas == nil {
		schemas = recipe.NewSchemaRegistry()
	}
	e := &Engine{
		registry: reg,
		schemas:  schemas,
		fetcher:  NewFetcherMux(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, err
		}
		e.logger = logger.NewComponentLogger("engine")
	}
	return e, nil
}

// Prepare applies the recipe's domain schema and compiles the execution
// plan without running it. `fetchez validate` and the policy gate use the
// same path as a real run.
func (e *Engine) Prepare(r *recipe.Recipe) (*Plan, error) {
	applied, err := e.schemas.Apply(r)
	if err != nil {
		switch {
		case errors.Is(err, recipe.ErrUnknownSchema):
			return nil, NewPermanentError("unknown domain schema", err).
				WithCode(ErrCodeSchemaUnknown)
		case errors.Is(err, recipe.ErrSchemaApplied):
			return nil, NewPermanentError("domain schema already applied", err).
				WithCode(ErrCodeSchemaApplied)
		}
		return nil, NewPermanentError("schema application failed", err).
			WithCode(ErrCodeConfig)
	}
	if !applied.Region.Valid() {
		return nil, NewPermanentError(
			fmt.Sprintf("region %s has empty extent", applied.Region), nil).
			WithCode(ErrCodeConfig)
	}
	return Compile(applied, e.registry), nil
}

// Run executes a recipe end to end and returns the run report. The report
// is produced even on cancellation, covering everything completed before
// the signal. Run returns an error only for configuration failures and
// policy denials, which abort before any retrieval.
func (e *Engine) Run(ctx context.Context, r *recipe.Recipe) (*RunReport, error) {
	plan, err := e.Prepare(r)
	if err != nil {
		return nil, err
	}

	if e.gate != nil {
		decision, err := e.gate.Evaluate(ctx, plan)
		if err != nil {
			return nil, NewPermanentError("policy evaluation failed", err).
				WithCode(ErrCodeConfig)
		}
		for _, w := range decision.Warnings {
			e.logger.Warnf("policy warning: %s", w)
		}
		if !decision.Allowed {
			return nil, NewPermanentError(
				fmt.Sprintf("plan denied by policy: %s", strings.Join(decision.Denials, "; ")), nil).
				WithCode(ErrCodeConfig)
		}
	}

	report := &RunReport{
		ID:        uuid.New().String(),
		Project:   plan.Recipe.Project,
		Status:    RunStatusRunning,
		Region:    plan.Recipe.Region,
		StartedAt: time.Now().UTC(),
	}

	if e.tel != nil {
		ctx = e.tel.WithContext(ctx)
		ctx = telemetry.WithRunContext(ctx, report.ID, report.Project)
		defer func() {
			telemetry.EndRunContext(ctx, report.ID, string(report.Status), report.Duration, nil)
		}()
	}
	e.saveRun(ctx, report)
	e.publish(ctx, &Event{
		Type: EventTypeRunStarted, RunID: report.ID,
		Message: "run started for project " + report.Project, Level: "info",
	})

	// One shared pool executor by default; per-module isolation gets a
	// fresh executor per scope.
	shared := e.newExecutor(plan, report.ID)

	var allEntries []*Entry
	for _, mp := range plan.Modules {
		x := shared
		if plan.Recipe.Execution.Isolation == recipe.PoolModule {
			x = e.newExecutor(plan, report.ID)
		}
		mr := e.runModuleScope(ctx, plan, mp, x)
		report.Modules = append(report.Modules, mr)
		allEntries = append(allEntries, Surviving(mr.Entries)...)

		if ctx.Err() != nil {
			// Remaining modules are reported failed without executing.
			for _, rest := range plan.Modules[mp.Index+1:] {
				report.Modules = append(report.Modules, ModuleReport{
					Index:  rest.Index,
					Module: rest.Name,
					Status: RunStatusCancelled,
					Error:  "run cancelled before module executed",
				})
			}
			finalizeReport(report, true)
			e.saveRun(ctx, report)
			e.publish(ctx, &Event{
				Type: EventTypeRunCancelled, RunID: report.ID,
				Message: "run cancelled", Level: "warning",
			})
			return report, nil
		}
	}

	e.runGlobalScope(ctx, plan, report, allEntries)

	finalizeReport(report, false)
	e.saveRun(ctx, report)
	e.publish(ctx, &Event{
		Type: EventTypeRunCompleted, RunID: report.ID,
		Message: fmt.Sprintf("run completed with status %s", report.Status), Level: "info",
	})
	return report, nil
}

func (e *Engine) newExecutor(plan *Plan, runID string) *Executor {
	opts := []ExecutorOption{
		WithEventFunc(func(ev *Event) {
			ev.RunID = runID
			e.publish(context.Background(), ev)
		}),
	}
	if e.tel != nil {
		opts = append(opts, WithMetrics(e.tel.Metrics))
	}
	return NewExecutor(
		plan.Recipe.Execution.Threads,
		plan.Recipe.Execution.Retry,
		e.fetcher,
		e.logger.NewComponentLogger("executor"),
		opts...,
	)
}

// runModuleScope runs one module: resolution, PRE hooks, retrieval with
// inline FILE hooks, then POST hooks over the surviving artifacts. Every
// failure mode inside the scope is recorded on its report and isolated
// from sibling scopes.
func (e *Engine) runModuleScope(ctx context.Context, plan *Plan, mp *ModulePlan, x *Executor) ModuleReport {
	mr := ModuleReport{
		Index:     mp.Index,
		Module:    mp.Name,
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		mr.CompletedAt = time.Now().UTC()
		mr.Duration = mr.CompletedAt.Sub(mr.StartedAt)
	}()

	log := e.logger.WithModule(mp.Name).WithField("index", mp.Index)

	if mp.Err != nil {
		// A module whose external dependency is missing gets the same
		// treatment as a hook in that state: the scope is skipped with the
		// actionable message, not reported failed.
		var ee *EngineError
		if errors.As(mp.Err, &ee) && ee.Code == ErrCodeDependencyMissing {
			mr.Status = RunStatusSkipped
			mr.Error = mp.Err.Error()
			log.Warnf("module skipped: %s", mp.Err.Error())
			e.publishModule(ctx, plan, mp, EventTypeModuleSkipped, mp.Err.Error())
			return mr
		}
		mr.Status = RunStatusFailed
		mr.Error = mp.Err.Error()
		log.WithError(mp.Err).Error("module scope unusable")
		e.publishModule(ctx, plan, mp, EventTypeModuleFailed, mp.Err.Error())
		return mr
	}
	mr.SkippedHooks = mp.Hooks.Skipped
	for _, sk := range mp.Hooks.Skipped {
		log.Warnf("hook %s skipped: %s", sk.Name, sk.Reason)
		e.publish(ctx, &Event{
			Type: EventTypeHookSkipped, Module: mp.Name,
			Message: fmt.Sprintf("hook %s skipped: %s", sk.Name, sk.Reason),
			Level:   "warning",
		})
	}

	e.publishModule(ctx, plan, mp, EventTypeModuleStarted, "module started")

	entries, err := mp.Module.Resolve(ctx, plan.Recipe.Region)
	if err != nil {
		mr.Status = RunStatusFailed
		mr.Error = fmt.Sprintf("resolution failed: %v", err)
		log.WithError(err).Error("module resolution failed")
		e.publishModule(ctx, plan, mp, EventTypeModuleFailed, mr.Error)
		return mr
	}
	// Entry identity is the URL within a scope. A module resolving the same
	// URL twice would race two workers onto one destination, so duplicates
	// past the first are dropped here.
	seen := make(map[string]bool, len(entries))
	deduped := entries[:0]
	for _, en := range entries {
		if seen[en.URL] {
			log.Warnf("dropping duplicate entry for %s", en.URL)
			continue
		}
		seen[en.URL] = true
		en.Module = mp.Name
		if en.Status == "" {
			en.Status = StatusPending
		}
		if en.Dst != "" && !filepath.IsAbs(en.Dst) {
			en.Dst = filepath.Join(plan.Recipe.OutputDir, en.Dst)
		}
		deduped = append(deduped, en)
	}
	entries = deduped
	log.Infof("resolved %d entries", len(entries))

	// PRE stage: single-threaded over the whole scope's entry set. A PRE
	// failure skips this module's retrieval entirely.
	for _, h := range mp.Hooks.Pre {
		entries, err = h.Pre(ctx, entries)
		if err != nil {
			mr.Status = RunStatusFailed
			mr.Error = fmt.Sprintf("pre hook %q failed: %v", h.Name(), err)
			mr.Entries = entries
			mr.Summary = Summarize(entries)
			log.WithError(err).WithField("hook", h.Name()).Error("pre hook failed")
			e.publishModule(ctx, plan, mp, EventTypeModuleFailed, mr.Error)
			return mr
		}
	}

	entries = x.Execute(ctx, entries, mp.Hooks.File)

	// POST stage: over the surviving artifacts only. A POST failure leaves
	// the artifacts on disk, reported retrievable-but-unprocessed.
	surviving := Surviving(entries)
	for _, h := range mp.Hooks.Post {
		surviving, err = h.Post(ctx, surviving)
		if err != nil {
			mr.Error = fmt.Sprintf("post hook %q failed: %v", h.Name(), err)
			log.WithError(err).WithField("hook", h.Name()).Error("post hook failed")
			break
		}
	}

	mr.Entries = entries
	mr.Summary = Summarize(entries)
	mr.Status = scopeStatus(mr.Summary, stringErr(mr.Error))
	e.publishModule(ctx, plan, mp, EventTypeModuleCompleted,
		fmt.Sprintf("%d fetched, %d failed, %d skipped",
			mr.Summary.Fetched, mr.Summary.Failed, mr.Summary.Skipped))
	return mr
}

// runGlobalScope runs the global hook chain over the union of surviving
// entries from all module scopes. It begins only after every module scope
// has fully completed, preserving strict module-order semantics. Failures
// here never disturb the per-module results already collected.
func (e *Engine) runGlobalScope(ctx context.Context, plan *Plan, report *RunReport, entries []*Entry) {
	if plan.GlobalHooksErr != nil {
		report.GlobalErr = plan.GlobalHooksErr.Error()
		e.logger.WithError(plan.GlobalHooksErr).Error("global hook chain unusable")
		return
	}
	chain := plan.GlobalHooks
	if chain == nil || (len(chain.Pre) == 0 && len(chain.File) == 0 && len(chain.Post) == 0) {
		return
	}

	var err error
	for _, h := range chain.Pre {
		entries, err = h.Pre(ctx, entries)
		if err != nil {
			report.GlobalErr = fmt.Sprintf("global pre hook %q failed: %v", h.Name(), err)
			e.logger.WithError(err).WithField("hook", h.Name()).Error("global pre hook failed")
			return
		}
	}

	// Global FILE hooks operate on already-fetched artifacts; no new
	// retrieval happens at global scope. A rejection fails that entry,
	// keeps it out of the POST stage, and surfaces on the report.
	for _, h := range chain.File {
		for _, en := range entries {
			if en.Status != StatusFetched {
				continue
			}
			if _, ferr := h.File(ctx, en); ferr != nil {
				en.Fail(NewPermanentError(
					fmt.Sprintf("hook %q rejected artifact", h.Name()), ferr).
					WithCode(ErrCodeHookFailed).WithSource(en.URL))
				if report.GlobalErr == "" {
					report.GlobalErr = fmt.Sprintf("global file hook %q failed: %v", h.Name(), ferr)
				}
			}
		}
	}

	surviving := Surviving(entries)
	for _, h := range chain.Post {
		surviving, err = h.Post(ctx, surviving)
		if err != nil {
			report.GlobalErr = fmt.Sprintf("global post hook %q failed: %v", h.Name(), err)
			e.logger.WithError(err).WithField("hook", h.Name()).Error("global post hook failed")
			return
		}
	}
}

func (e *Engine) saveRun(ctx context.Context, report *RunReport) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveRun(ctx, report); err != nil {
		e.logger.WithError(err).Warn("failed to persist run report")
	}
}

func (e *Engine) publish(ctx context.Context, ev *Event) {
	if e.sink == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.WithError(err).Debug("event publish failed")
	}
}

func (e *Engine) publishModule(ctx context.Context, plan *Plan, mp *ModulePlan, typ EventType, msg string) {
	level := "info"
	switch typ {
	case EventTypeModuleFailed:
		level = "error"
	case EventTypeModuleSkipped:
		level = "warning"
	}
	e.publish(ctx, &Event{Type: typ, Module: mp.Name, Message: msg, Level: level})
}

func stringErr(s string) error {
	if s == "" {
		return nil
	}
	return errors.New(s)
}
