package hooks

import (
	"context"
	"testing"

	"github.com/fetchez/fetchez/pkg/engine"
)

func filterEntries() []*engine.Entry {
	return []*engine.Entry{
		engine.NewEntry("https://example.com/tiles/a.tif", "a.tif"),
		engine.NewEntry("https://example.com/tiles/b.laz", "b.laz"),
		engine.NewEntry("https://example.com/tiles/c.tif", "c.tif"),
	}
}

func TestFilenameFilterGlob(t *testing.T) {
	h, err := NewFilenameFilter(map[string]interface{}{"glob": "*.tif"})
	if err != nil {
		t.Fatalf("NewFilenameFilter: %v", err)
	}

	entries := filterEntries()
	out, err := h.(engine.PreHook).Pre(context.Background(), entries)
	if err != nil {
		t.Fatalf("Pre: %v", err)
	}
	// Non-matching entries stay in the slice, marked skipped.
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	if entries[0].Status != engine.StatusPending || entries[2].Status != engine.StatusPending {
		t.Error("matching entries disturbed")
	}
	if entries[1].Status != engine.StatusSkipped {
		t.Errorf("b.laz status = %s, want skipped", entries[1].Status)
	}
	if entries[1].StatusReason == "" {
		t.Error("skip reason missing")
	}
}

func TestFilenameFilterRegexInverted(t *testing.T) {
	h, err := NewFilenameFilter(map[string]interface{}{"regex": `\.tif$`, "invert": true})
	if err != nil {
		t.Fatalf("NewFilenameFilter: %v", err)
	}

	entries := filterEntries()
	if _, err := h.(engine.PreHook).Pre(context.Background(), entries); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if entries[0].Status != engine.StatusSkipped || entries[2].Status != engine.StatusSkipped {
		t.Error("inverted filter kept the matches")
	}
	if entries[1].Status != engine.StatusPending {
		t.Error("inverted filter dropped the non-match")
	}
}

func TestFilenameFilterArgValidation(t *testing.T) {
	if _, err := NewFilenameFilter(nil); err == nil {
		t.Error("neither glob nor regex accepted")
	}
	if _, err := NewFilenameFilter(map[string]interface{}{
		"glob": "*.tif", "regex": ".*",
	}); err == nil {
		t.Error("both glob and regex accepted")
	}
	if _, err := NewFilenameFilter(map[string]interface{}{"regex": "("}); err == nil {
		t.Error("invalid regex accepted")
	}
	if _, err := NewFilenameFilter(map[string]interface{}{"glob": "[a-"}); err == nil {
		t.Error("invalid glob accepted")
	}
}
