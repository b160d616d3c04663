package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fetchez/fetchez/pkg/engine"
)

func starlarkEntries() []*engine.Entry {
	a := engine.NewEntry("https://example.com/a.tif", "a.tif")
	a.SetMeta("data_type", "dem")
	b := engine.NewEntry("https://example.com/b.laz", "b.laz")
	b.SetMeta("data_type", "lidar")
	return []*engine.Entry{a, b}
}

func TestStarlarkFiltersEntries(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"script": `
def transform(entries):
    return [e for e in entries if e["meta"]["data_type"] == "dem"]
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}

	entries := starlarkEntries()
	out, err := h.(engine.PreHook).Pre(context.Background(), entries)
	if err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("entries dropped from the slice instead of skipped")
	}
	if entries[0].Status != engine.StatusPending {
		t.Errorf("kept entry status = %s", entries[0].Status)
	}
	if entries[1].Status != engine.StatusSkipped {
		t.Errorf("excluded entry status = %s, want skipped", entries[1].Status)
	}
}

func TestStarlarkRewritesWeightAndMeta(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"script": `
def transform(entries):
    out = []
    for e in entries:
        e["weight"] = 7.5
        e["meta"]["ranked"] = True
        out.append(e)
    return out
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}

	entries := starlarkEntries()
	if _, err := h.(engine.PreHook).Pre(context.Background(), entries); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	for _, e := range entries {
		if e.Weight != 7.5 {
			t.Errorf("entry %s weight = %g, want 7.5", e.URL, e.Weight)
		}
		if v, _ := e.GetMeta("ranked"); v != true {
			t.Errorf("entry %s ranked meta = %v", e.URL, v)
		}
	}
}

func TestStarlarkCannotRewriteURL(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"script": `
def transform(entries):
    for e in entries:
        e["url"] = "https://evil.example.com/x"
    return entries
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}

	entries := starlarkEntries()
	if _, err := h.(engine.PreHook).Pre(context.Background(), entries); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if entries[0].URL != "https://example.com/a.tif" {
		t.Errorf("script rewrote the source url: %s", entries[0].URL)
	}
}

func TestStarlarkPostKeepsEntrySet(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"script": `
def transform(entries):
    return [e for e in entries if e["meta"]["data_type"] == "dem"]
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}

	entries := starlarkEntries()
	out, err := h.(engine.PostHook).Post(context.Background(), entries)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	// Dropping entries after retrieval has no effect.
	if len(out) != 2 {
		t.Fatalf("post returned %d entries, want 2", len(out))
	}
	if entries[1].Status == engine.StatusSkipped {
		t.Error("post transform skipped a retrieved entry")
	}
}

func TestStarlarkMissingTransform(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{"script": "x = 1"})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}
	_, err = h.(engine.PreHook).Pre(context.Background(), starlarkEntries())
	if err == nil || !strings.Contains(err.Error(), "transform") {
		t.Errorf("error = %v, want a missing transform complaint", err)
	}
}

func TestStarlarkTimeout(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"timeout": 0.05,
		"script": `
def transform(entries):
    for i in range(1000000000):
        pass
    return entries
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}
	_, err = h.(engine.PreHook).Pre(context.Background(), starlarkEntries())
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestStarlarkFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transform.star")
	script := "def transform(entries):\n    return entries\n"
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := NewStarlark(map[string]interface{}{"file": path})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}
	if _, err := h.(engine.PreHook).Pre(context.Background(), starlarkEntries()); err != nil {
		t.Fatalf("Pre: %v", err)
	}
}

func TestStarlarkMissingFileIsDependencyError(t *testing.T) {
	_, err := NewStarlark(map[string]interface{}{"file": "/no/such/script.star"})
	if err == nil {
		t.Fatal("missing script file accepted")
	}
	ee, ok := err.(*engine.EngineError)
	if !ok || ee.Code != engine.ErrCodeDependencyMissing {
		t.Errorf("error = %v, want code %s", err, engine.ErrCodeDependencyMissing)
	}
}

func TestStarlarkRequiresScript(t *testing.T) {
	if _, err := NewStarlark(nil); err == nil {
		t.Error("empty args accepted")
	}
}

func TestStarlarkNegativeWeightClamped(t *testing.T) {
	h, err := NewStarlark(map[string]interface{}{
		"script": `
def transform(entries):
    for e in entries:
        e["weight"] = -3.0
    return entries
`,
	})
	if err != nil {
		t.Fatalf("NewStarlark: %v", err)
	}

	entries := starlarkEntries()
	if _, err := h.(engine.PreHook).Pre(context.Background(), entries); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	for _, e := range entries {
		if e.Weight != 0 {
			t.Errorf("entry %s weight = %g, want clamped to 0", e.URL, e.Weight)
		}
	}
}
