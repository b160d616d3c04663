package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Run is the persisted row for one recipe run. Report carries the full
// serialized engine.RunReport so past runs round-trip losslessly; the
// scalar columns exist for listing and filtering without decoding it.
type Run struct {
	ID          string
	Project     string
	Status      string
	Fetched     int
	Failed      int
	Skipped     int
	Error       *string
	Report      string
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// EntryOutcome is the persisted per-entry result of a run, one row per
// entry across all module scopes.
type EntryOutcome struct {
	ID         int64
	RunID      string
	Module     string
	URL        string
	Dst        string
	Status     string
	Weight     float64
	RetryCount int
	Error      *string
	Meta       *string
	FetchedAt  *time.Time
}

// StoredEvent is a persisted run event.
type StoredEvent struct {
	ID        string
	RunID     string
	Type      string
	Module    *string
	URL       *string
	Message   string
	Level     string
	Timestamp time.Time
}

// runFromReport flattens a report into its storage row.
func runFromReport(report *engine.RunReport) (*Run, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding run report: %w", err)
	}

	run := &Run{
		ID:        report.ID,
		Project:   report.Project,
		Status:    string(report.Status),
		Fetched:   report.Summary.Fetched,
		Failed:    report.Summary.Failed,
		Skipped:   report.Summary.Skipped,
		Report:    string(data),
		StartedAt: report.StartedAt,
		CreatedAt: time.Now().UTC(),
	}
	if !report.CompletedAt.IsZero() {
		t := report.CompletedAt
		run.CompletedAt = &t
	}
	if report.GlobalErr != "" {
		e := report.GlobalErr
		run.Error = &e
	}
	return run, nil
}

// reportFromRun decodes the stored report blob.
func reportFromRun(run *Run) (*engine.RunReport, error) {
	var report engine.RunReport
	if err := json.Unmarshal([]byte(run.Report), &report); err != nil {
		return nil, fmt.Errorf("decoding run report %s: %w", run.ID, err)
	}
	return &report, nil
}

// outcomesFromReport flattens every entry in the report into outcome rows.
func outcomesFromReport(report *engine.RunReport) []*EntryOutcome {
	var out []*EntryOutcome
	for _, mr := range report.Modules {
		for _, e := range mr.Entries {
			o := &EntryOutcome{
				RunID:      report.ID,
				Module:     e.Module,
				URL:        e.URL,
				Dst:        e.Dst,
				Status:     string(e.Status),
				Weight:     e.Weight,
				RetryCount: e.RetryCount,
			}
			if e.StatusReason != "" {
				r := e.StatusReason
				o.Error = &r
			}
			if len(e.Meta) > 0 {
				if data, err := json.Marshal(e.Meta); err == nil {
					s := string(data)
					o.Meta = &s
				}
			}
			if !e.FetchedAt.IsZero() {
				t := e.FetchedAt
				o.FetchedAt = &t
			}
			out = append(out, o)
		}
	}
	return out
}
