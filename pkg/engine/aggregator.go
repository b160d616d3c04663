package engine

import "time"

// Summarize counts entries by status. Aggregation is best-effort and never
// fails; entries still mid-flight count as pending.
func Summarize(entries []*Entry) EntrySummary {
	s := EntrySummary{Total: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case StatusFetched:
			s.Fetched++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
	}
	return s
}

// Surviving returns the fetched entries, the population POST-stage hooks
// and the global scope operate over. Failed and skipped entries stay in
// the report but are excluded here.
func Surviving(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.Status == StatusFetched {
			out = append(out, e)
		}
	}
	return out
}

// scopeStatus derives a module scope's status from its summary and any
// scope-level error.
func scopeStatus(summary EntrySummary, scopeErr error) RunStatus {
	if scopeErr != nil {
		return RunStatusFailed
	}
	switch {
	case summary.Failed > 0 && summary.Fetched > 0:
		return RunStatusPartial
	case summary.Failed > 0:
		return RunStatusFailed
	default:
		return RunStatusSucceeded
	}
}

// finalizeReport folds module reports into the global summary and derives
// the run status. Module order in the report always equals declaration
// order; the aggregator never reorders.
func finalizeReport(report *RunReport, cancelled bool) {
	var summary EntrySummary
	anyFailed := false
	anySucceeded := false
	for _, mr := range report.Modules {
		summary.Add(mr.Summary)
		switch mr.Status {
		case RunStatusFailed:
			anyFailed = true
		case RunStatusPartial:
			anyFailed = true
			anySucceeded = true
		case RunStatusSucceeded:
			anySucceeded = true
		}
	}
	report.Summary = summary
	report.CompletedAt = time.Now().UTC()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	switch {
	case cancelled:
		report.Status = RunStatusCancelled
	case report.GlobalErr != "" && !anySucceeded:
		report.Status = RunStatusFailed
	case anyFailed && anySucceeded, report.GlobalErr != "" && anySucceeded:
		report.Status = RunStatusPartial
	case anyFailed:
		report.Status = RunStatusFailed
	default:
		report.Status = RunStatusSucceeded
	}
}
