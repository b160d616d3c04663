package stores

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(id string) *engine.RunReport {
	started := time.Now().UTC().Add(-time.Minute)
	completed := time.Now().UTC()

	fetched := engine.NewEntry("https://example.com/a.tif", "a.tif")
	fetched.Module = "urllist"
	fetched.Status = engine.StatusFetched
	fetched.SetMeta("local_size", int64(1024))

	failed := engine.NewEntry("https://example.com/b.tif", "b.tif")
	failed.Module = "urllist"
	failed.Status = engine.StatusFailed
	failed.StatusReason = "retrieval failed: 404"
	failed.RetryCount = 2

	return &engine.RunReport{
		ID:      id,
		Project: "test-project",
		Status:  engine.RunStatusPartial,
		Modules: []engine.ModuleReport{
			{
				Index:   0,
				Module:  "urllist",
				Status:  engine.RunStatusPartial,
				Summary: engine.EntrySummary{Total: 2, Fetched: 1, Failed: 1},
				Entries: []*engine.Entry{fetched, failed},
			},
		},
		Summary:     engine.EntrySummary{Total: 2, Fetched: 1, Failed: 1},
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1")
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Project != "test-project" {
		t.Errorf("Project = %q, want %q", got.Project, "test-project")
	}
	if got.Status != engine.RunStatusPartial {
		t.Errorf("Status = %q, want %q", got.Status, engine.RunStatusPartial)
	}
	if len(got.Modules) != 1 || len(got.Modules[0].Entries) != 2 {
		t.Fatalf("report lost module entries: %+v", got.Modules)
	}
	if got.Summary.Fetched != 1 || got.Summary.Failed != 1 {
		t.Errorf("Summary = %+v, want 1 fetched, 1 failed", got.Summary)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestSaveRunReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1")
	report.Status = engine.RunStatusRunning
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun (running): %v", err)
	}

	report.Status = engine.RunStatusPartial
	if err := store.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun (final): %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != engine.RunStatusPartial {
		t.Errorf("Status = %q, want %q after resave", got.Status, engine.RunStatusPartial)
	}

	outcomes, err := store.ListOutcomes(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("len(outcomes) = %d, want 2 (resave must not duplicate)", len(outcomes))
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := sampleReport(id)
		report.StartedAt = time.Now().UTC().Add(time.Duration(i) * time.Hour)
		if err := store.SaveRun(ctx, report); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = [%s, %s], want newest first [run-c, run-b]", runs[0].ID, runs[1].ID)
	}
}

func TestListOutcomesByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleReport("run-1")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	failed, err := store.ListOutcomes(ctx, "run-1", string(engine.StatusFailed))
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("len(failed) = %d, want 1", len(failed))
	}
	if failed[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", failed[0].RetryCount)
	}
	if failed[0].Error == nil {
		t.Error("failed outcome should carry an error")
	}
}

func TestDeleteRunCascadesOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleReport("run-1")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	outcomes, err := store.ListOutcomes(ctx, "run-1", "")
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("len(outcomes) = %d after delete, want 0", len(outcomes))
	}

	if err := store.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("second delete should report run not found")
	}
}

func TestSaveAndListEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []*engine.Event{
		{
			ID:        "evt-1",
			Type:      engine.EventTypeRunStarted,
			Timestamp: time.Now().UTC().Add(-2 * time.Second),
			RunID:     "run-1",
			Message:   "run started",
			Level:     "info",
		},
		{
			ID:        "evt-2",
			Type:      engine.EventTypeEntryFailed,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
			Module:    "urllist",
			URL:       "https://example.com/b.tif",
			Message:   "retrieval failed",
			Level:     "error",
		},
	}
	for _, e := range events {
		if err := store.SaveEvent(ctx, e); err != nil {
			t.Fatalf("SaveEvent %s: %v", e.ID, err)
		}
	}

	got, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(got))
	}
	if got[0].ID != "evt-1" {
		t.Errorf("events not in chronological order: first = %s", got[0].ID)
	}
	if got[1].Module == nil || *got[1].Module != "urllist" {
		t.Errorf("event module not persisted: %+v", got[1])
	}
}

func TestPruneRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleReport("run-old")
	old.CompletedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := store.SaveRun(ctx, old); err != nil {
		t.Fatalf("SaveRun old: %v", err)
	}
	if err := store.SaveRun(ctx, sampleReport("run-new")); err != nil {
		t.Fatalf("SaveRun new: %v", err)
	}

	n, err := store.PruneRuns(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, err := store.GetRun(ctx, "run-old"); err == nil {
		t.Error("run-old should be pruned")
	}
	if _, err := store.GetRun(ctx, "run-new"); err != nil {
		t.Errorf("run-new should survive: %v", err)
	}
}

// fixedModule resolves one fixed entry.
type fixedModule struct {
	url string
}

func (m *fixedModule) Name() string { return "fixed" }

func (m *fixedModule) Resolve(ctx context.Context, _ recipe.Region) ([]*engine.Entry, error) {
	return []*engine.Entry{engine.NewEntry(m.url, filepath.Base(m.url))}, nil
}

// writeFetcher materializes a fixed payload at the destination.
type writeFetcher struct{}

func (writeFetcher) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	body := []byte("payload")
	if err := os.WriteFile(dst, body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func TestStoreRecordsEngineEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reg := engine.NewRegistry()
	reg.RegisterModule("fixed", func(args map[string]interface{}) (engine.Module, error) {
		return &fixedModule{url: "src/a.tif"}, nil
	})

	eng, err := engine.New(reg, recipe.NewSchemaRegistry(),
		engine.WithFetcher(writeFetcher{}),
		engine.WithStore(store),
		engine.WithEventSink(store),
	)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}

	r := &recipe.Recipe{
		Project: "events-project",
		Region:  recipe.Region{West: -120, East: -119, South: 33, North: 34},
		Execution: recipe.Execution{
			Threads: 1,
			Retry:   recipe.Retry{MaxAttempts: 1, AttemptTimeout: 5 * time.Second},
		},
		Modules:   []recipe.ModuleConfig{{Module: "fixed"}},
		OutputDir: t.TempDir(),
	}

	report, err := eng.Run(ctx, r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	events, err := store.ListEvents(ctx, report.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no events recorded for the run")
	}

	types := map[string]bool{}
	for _, ev := range events {
		if ev.RunID != report.ID {
			t.Errorf("event %s run id = %q, want %q", ev.ID, ev.RunID, report.ID)
		}
		types[ev.Type] = true
	}
	for _, want := range []string{"run.started", "entry.fetched", "run.completed"} {
		if !types[want] {
			t.Errorf("event type %s not recorded; got %v", want, types)
		}
	}
}
