package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fetchez/fetchez/pkg/engine"
)

func TestPreInventoryWritesPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "pre.txt")
	h, err := NewPreInventory(map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("NewPreInventory: %v", err)
	}

	entries := []*engine.Entry{
		engine.NewEntry("https://example.com/a.tif", "/out/a.tif"),
		engine.NewEntry("https://example.com/b.tif", "/out/b.tif"),
	}
	out, err := h.(engine.PreHook).Pre(context.Background(), entries)
	if err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("pre inventory altered the entry set")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading inventory: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != "https://example.com/a.tif -> /out/a.tif" {
		t.Errorf("line = %q", lines[0])
	}
}

func TestInventoryWritesDatalist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.txt")
	h, err := NewInventory(map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("NewInventory: %v", err)
	}

	weighted := engine.NewEntry("u1", "/out/a.tif")
	weighted.Weight = 2
	plain := engine.NewEntry("u2", "/out/b.tif")

	out, err := h.(engine.PostHook).Post(context.Background(), []*engine.Entry{weighted, plain})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("post returned %d entries, want passthrough", len(out))
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "/out/a.tif 2" {
		t.Errorf("weighted line = %q", lines[0])
	}
	if lines[1] != "/out/b.tif" {
		t.Errorf("plain line = %q", lines[1])
	}
}

func TestAuditRecordsProvenance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	h, err := NewAudit(map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("NewAudit: %v", err)
	}

	e := engine.NewEntry("https://example.com/a.tif", "/out/a.tif")
	e.Module = "urllist"
	e.Status = engine.StatusFetched
	e.RetryCount = 1
	e.FetchedAt = time.Now().UTC()
	e.SetMeta("blake3_hash", "abc123")

	out, err := h.(engine.PostHook).Post(context.Background(), []*engine.Entry{e})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("post returned %d entries, want passthrough", len(out))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit record: %v", err)
	}
	var rec struct {
		GeneratedAt time.Time `json:"generated_at"`
		Entries     []struct {
			URL        string                 `json:"url"`
			Module     string                 `json:"module"`
			Status     string                 `json:"status"`
			RetryCount int                    `json:"retry_count"`
			Meta       map[string]interface{} `json:"meta"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decoding audit record: %v", err)
	}
	if rec.GeneratedAt.IsZero() {
		t.Error("generated_at missing")
	}
	if len(rec.Entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(rec.Entries))
	}
	ae := rec.Entries[0]
	if ae.URL != e.URL || ae.Module != "urllist" || ae.Status != "fetched" || ae.RetryCount != 1 {
		t.Errorf("audit entry = %+v", ae)
	}
	if ae.Meta["blake3_hash"] != "abc123" {
		t.Errorf("audit meta = %v", ae.Meta)
	}
}

func TestInventoryWriteFailureIsNonFatal(t *testing.T) {
	// Point the inventory at a directory so the write fails.
	dir := t.TempDir()
	h, _ := NewInventory(map[string]interface{}{"path": dir})

	entries := []*engine.Entry{engine.NewEntry("u", "/out/a.tif")}
	out, err := h.(engine.PostHook).Post(context.Background(), entries)
	if err != nil {
		t.Fatalf("Post failed on a report write error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("entry set altered on write failure")
	}
}

func TestAuditWriteFailureIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	h, _ := NewAudit(map[string]interface{}{"path": dir})

	entries := []*engine.Entry{engine.NewEntry("u", "/out/a.tif")}
	if _, err := h.(engine.PostHook).Post(context.Background(), entries); err != nil {
		t.Fatalf("Post failed on a report write error: %v", err)
	}
}
