package engine

import (
	"fmt"
	"sync"
	"time"
)

// EntryStatus is the lifecycle state of a retrieval entry.
type EntryStatus string

const (
	// StatusPending means the entry has been resolved but not yet handed to
	// a worker.
	StatusPending EntryStatus = "pending"

	// StatusFetching means a worker is actively retrieving the entry.
	StatusFetching EntryStatus = "fetching"

	// StatusFetched means retrieval and the FILE hook chain completed.
	StatusFetched EntryStatus = "fetched"

	// StatusFailed means retrieval was exhausted across all sources or a
	// FILE hook rejected the artifact.
	StatusFailed EntryStatus = "failed"

	// StatusSkipped means a hook deliberately excluded the entry from
	// further processing. Skipped entries still appear in the run report.
	StatusSkipped EntryStatus = "skipped"
)

// statusRank orders the lifecycle so transitions only move forward.
var statusRank = map[EntryStatus]int{
	StatusPending:  0,
	StatusFetching: 1,
	StatusFetched:  2,
	StatusFailed:   2,
	StatusSkipped:  3,
}

// Entry is one retrievable artifact resolved from a data-source module:
// a primary URL, optional mirrors, a local destination, and accumulated
// metadata. Entries flow Pending -> Fetching -> Fetched|Failed, with an
// optional final hop to Skipped when a hook excludes the artifact.
type Entry struct {
	mu sync.Mutex

	// URL is the primary source location.
	URL string `json:"url"`

	// Mirrors are alternate source locations tried in order after the
	// primary is exhausted.
	Mirrors []string `json:"mirrors,omitempty"`

	// Dst is the local destination path, relative to the run output dir.
	Dst string `json:"dst"`

	// Module is the name of the module that resolved this entry.
	Module string `json:"module"`

	// Size is the remote size in bytes when the module knows it, else 0.
	Size int64 `json:"size,omitempty"`

	// Checksum is a declared "algo:hex" digest verified after retrieval.
	Checksum string `json:"checksum,omitempty"`

	// Weight is a processing priority assigned by hooks; higher sorts first
	// in downstream tooling.
	Weight float64 `json:"weight,omitempty"`

	// Status is the lifecycle state. Guarded by Transition.
	Status EntryStatus `json:"status"`

	// Err records the classified failure for Failed entries.
	Err error `json:"-"`

	// StatusReason is a short human-readable note on the terminal status,
	// e.g. which hook skipped the entry.
	StatusReason string `json:"status_reason,omitempty"`

	// RetryCount is the total number of failed attempts across all sources.
	RetryCount int `json:"retry_count,omitempty"`

	// FetchedAt is set when the entry reaches Fetched.
	FetchedAt time.Time `json:"fetched_at,omitempty"`

	// Meta carries hook- and module-contributed metadata such as data_type,
	// date, remote_size, {algo}_hash, local_size, verification.
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// NewEntry creates a pending entry for url, destined for dst.
func NewEntry(url, dst string) *Entry {
	return &Entry{
		URL:    url,
		Dst:    dst,
		Status: StatusPending,
		Meta:   map[string]interface{}{},
	}
}

// Transition moves the entry to a later lifecycle state. Backward moves are
// rejected so a raced update can never resurrect a terminal entry.
func (e *Entry) Transition(to EntryStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.Status
	toRank, ok := statusRank[to]
	if !ok {
		return NewPermanentError(fmt.Sprintf("unknown entry status %q", to), nil).
			WithCode(ErrCodeInternal)
	}
	if toRank <= statusRank[from] && to != from {
		return NewPermanentError(
			fmt.Sprintf("invalid entry transition %s -> %s", from, to), nil).
			WithCode(ErrCodeInternal).WithSource(e.URL)
	}
	e.Status = to
	if to == StatusFetched {
		e.FetchedAt = time.Now().UTC()
	}
	return nil
}

// Skip marks the entry Skipped with a reason, typically the hook name that
// excluded it.
func (e *Entry) Skip(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if statusRank[StatusSkipped] > statusRank[e.Status] {
		e.Status = StatusSkipped
		e.StatusReason = reason
	}
}

// Fail marks the entry Failed with the classified cause. A Fetched entry
// can still fail when a later hook rejects its artifact; once the entry
// ended Failed or Skipped, Fail is a no-op.
func (e *Entry) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status == StatusFailed || e.Status == StatusSkipped {
		return
	}
	e.Status = StatusFailed
	e.Err = err
	if err != nil {
		e.StatusReason = err.Error()
	}
}

// SetMeta stores a metadata value on the entry.
func (e *Entry) SetMeta(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Meta == nil {
		e.Meta = map[string]interface{}{}
	}
	e.Meta[key] = value
}

// GetMeta reads a metadata value from the entry.
func (e *Entry) GetMeta(key string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.Meta[key]
	return v, ok
}

// Sources returns the primary URL followed by mirrors, the order in which
// retrieval walks the source list.
func (e *Entry) Sources() []string {
	return append([]string{e.URL}, e.Mirrors...)
}

// Terminal reports whether the entry has reached a final state.
func (e *Entry) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.Status {
	case StatusFetched, StatusFailed, StatusSkipped:
		return true
	}
	return false
}
