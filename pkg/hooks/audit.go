package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Audit is a POST hook that writes a JSON record of every surviving entry:
// source, destination, size, digests, and per-entry metadata. The record is
// the provenance trail for downstream products built from the artifacts.
type Audit struct {
	path string
}

type auditRecord struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Entries     []auditEntry `json:"entries"`
}

type auditEntry struct {
	URL        string                 `json:"url"`
	Dst        string                 `json:"dst"`
	Module     string                 `json:"module"`
	Status     string                 `json:"status"`
	Weight     float64                `json:"weight,omitempty"`
	RetryCount int                    `json:"retry_count,omitempty"`
	FetchedAt  time.Time              `json:"fetched_at,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// NewAudit is the hook factory for "audit".
func NewAudit(args map[string]interface{}) (engine.Hook, error) {
	return &Audit{path: argString(args, "path", "audit.json")}, nil
}

// Name implements engine.Hook.
func (h *Audit) Name() string { return "audit" }

// Post implements engine.PostHook.
func (h *Audit) Post(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	rec := auditRecord{GeneratedAt: time.Now().UTC()}
	for _, e := range entries {
		rec.Entries = append(rec.Entries, auditEntry{
			URL:        e.URL,
			Dst:        e.Dst,
			Module:     e.Module,
			Status:     string(e.Status),
			Weight:     e.Weight,
			RetryCount: e.RetryCount,
			FetchedAt:  e.FetchedAt,
			Meta:       e.Meta,
		})
	}

	// Report-only: a failed write never fails the scope.
	if err := h.write(rec); err != nil {
		log.Warn().Err(err).Str("path", h.path).Msg("audit write failed")
	}
	return entries, nil
}

func (h *Audit) write(rec auditRecord) error {
	if dir := filepath.Dir(h.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating audit dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}
