package engine

import (
	"errors"
	"testing"
	"time"
)

func TestEntryTransitionsOnlyMoveForward(t *testing.T) {
	e := NewEntry("src/a.tif", "a.tif")
	if err := e.Transition(StatusFetching); err != nil {
		t.Fatalf("pending -> fetching: %v", err)
	}
	if err := e.Transition(StatusFetched); err != nil {
		t.Fatalf("fetching -> fetched: %v", err)
	}
	if e.FetchedAt.IsZero() {
		t.Error("fetched_at not stamped")
	}
	if err := e.Transition(StatusPending); err == nil {
		t.Error("fetched -> pending allowed")
	}
	if err := e.Transition(StatusFetching); err == nil {
		t.Error("fetched -> fetching allowed")
	}
}

func TestEntrySkipWinsOverFetched(t *testing.T) {
	e := NewEntry("src/a.tif", "a.tif")
	e.Transition(StatusFetching) //nolint:errcheck
	e.Transition(StatusFetched)  //nolint:errcheck

	e.Skip("superseded by expanded members")
	if e.Status != StatusSkipped {
		t.Errorf("status = %s, want skipped", e.Status)
	}
	if e.StatusReason == "" {
		t.Error("skip reason not recorded")
	}
}

func TestEntryFailAfterFetched(t *testing.T) {
	e := NewEntry("src/a.tif", "a.tif")
	e.Transition(StatusFetching) //nolint:errcheck
	e.Transition(StatusFetched)  //nolint:errcheck

	// A fetched artifact can still be rejected by a downstream hook.
	e.Fail(errors.New("unusable artifact"))
	if e.Status != StatusFailed {
		t.Errorf("status = %s, want failed", e.Status)
	}
	if e.StatusReason == "" {
		t.Error("failure reason not recorded")
	}
}

func TestEntryFailIsNoopOnceFailedOrSkipped(t *testing.T) {
	e := NewEntry("src/a.tif", "a.tif")
	e.Fail(errors.New("first failure"))
	e.Fail(errors.New("second failure"))
	if e.StatusReason != "first failure" {
		t.Errorf("reason = %q, a raced failure overwrote the first", e.StatusReason)
	}

	s := NewEntry("src/b.tif", "b.tif")
	s.Skip("filtered upstream")
	s.Fail(errors.New("late failure"))
	if s.Status != StatusSkipped {
		t.Errorf("status = %s, a raced failure resurrected a skipped entry", s.Status)
	}
}

func TestEntrySourcesOrder(t *testing.T) {
	e := NewEntry("primary", "a")
	e.Mirrors = []string{"m1", "m2"}
	got := e.Sources()
	want := []string{"primary", "m1", "m2"}
	if len(got) != len(want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sources = %v, want %v", got, want)
		}
	}
}

func TestEntryUnknownStatusRejected(t *testing.T) {
	e := NewEntry("src/a.tif", "a.tif")
	if err := e.Transition(EntryStatus("exploded")); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestSummarizeAndSurviving(t *testing.T) {
	mk := func(status EntryStatus) *Entry {
		e := NewEntry("u", "d")
		e.Status = status
		return e
	}
	entries := []*Entry{
		mk(StatusFetched), mk(StatusFetched),
		mk(StatusFailed),
		mk(StatusSkipped),
		mk(StatusPending),
	}

	s := Summarize(entries)
	if s.Total != 5 || s.Fetched != 2 || s.Failed != 1 || s.Skipped != 1 || s.Pending != 1 {
		t.Errorf("summary = %+v", s)
	}

	surv := Surviving(entries)
	if len(surv) != 2 {
		t.Fatalf("surviving = %d entries, want 2", len(surv))
	}
	for _, e := range surv {
		if e.Status != StatusFetched {
			t.Errorf("surviving entry has status %s", e.Status)
		}
	}
}

func TestFinalizeReportStatus(t *testing.T) {
	mr := func(status RunStatus) ModuleReport {
		return ModuleReport{Status: status}
	}
	tests := []struct {
		name      string
		modules   []ModuleReport
		globalErr string
		cancelled bool
		want      RunStatus
	}{
		{"all succeed", []ModuleReport{mr(RunStatusSucceeded), mr(RunStatusSucceeded)}, "", false, RunStatusSucceeded},
		{"mixed", []ModuleReport{mr(RunStatusSucceeded), mr(RunStatusFailed)}, "", false, RunStatusPartial},
		{"all fail", []ModuleReport{mr(RunStatusFailed)}, "", false, RunStatusFailed},
		{"partial module", []ModuleReport{mr(RunStatusPartial)}, "", false, RunStatusPartial},
		{"global error with successes", []ModuleReport{mr(RunStatusSucceeded)}, "global post failed", false, RunStatusPartial},
		{"global error alone", []ModuleReport{mr(RunStatusFailed)}, "global post failed", false, RunStatusFailed},
		{"cancelled trumps", []ModuleReport{mr(RunStatusSucceeded)}, "", true, RunStatusCancelled},
	}
	for _, tt := range tests {
		report := &RunReport{
			Modules:   tt.modules,
			GlobalErr: tt.globalErr,
			StartedAt: time.Now().Add(-time.Second),
		}
		finalizeReport(report, tt.cancelled)
		if report.Status != tt.want {
			t.Errorf("%s: status = %s, want %s", tt.name, report.Status, tt.want)
		}
		if report.CompletedAt.IsZero() || report.Duration <= 0 {
			t.Errorf("%s: timing not finalized", tt.name)
		}
	}
}

func TestRunStatusPredicates(t *testing.T) {
	for _, s := range []RunStatus{RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled} {
		if !s.IsTerminal() || s.IsActive() {
			t.Errorf("%s: want terminal and not active", s)
		}
	}
	for _, s := range []RunStatus{RunStatusPending, RunStatusRunning} {
		if s.IsTerminal() || !s.IsActive() {
			t.Errorf("%s: want active and not terminal", s)
		}
	}
}
