package hooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fetchez/fetchez/pkg/engine"
)

// PreInventory is a PRE hook that writes the planned retrieval list before
// any bytes move, one "url -> dst" line per entry. Useful for eyeballing a
// scope's plan and for diffing against the post-run inventory.
type PreInventory struct {
	path string
}

// NewPreInventory is the hook factory for "pre_inventory".
func NewPreInventory(args map[string]interface{}) (engine.Hook, error) {
	return &PreInventory{path: argString(args, "path", "pre_inventory.txt")}, nil
}

// Name implements engine.Hook.
func (h *PreInventory) Name() string { return "pre_inventory" }

// Pre implements engine.PreHook.
func (h *PreInventory) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s -> %s\n", e.URL, e.Dst)
	}
	// Report-only: a failed write never blocks retrieval.
	if err := writeInventory(h.path, b.String()); err != nil {
		log.Warn().Err(err).Str("path", h.path).Msg("pre_inventory write failed")
	}
	return entries, nil
}

// Inventory is a POST hook that writes the list of surviving artifacts, one
// local path per line. The file is the handoff point to external gridding
// pipelines that expect a plain datalist.
type Inventory struct {
	path string
}

// NewInventory is the hook factory for "inventory".
func NewInventory(args map[string]interface{}) (engine.Hook, error) {
	return &Inventory{path: argString(args, "path", "inventory.txt")}, nil
}

// Name implements engine.Hook.
func (h *Inventory) Name() string { return "inventory" }

// Post implements engine.PostHook.
func (h *Inventory) Post(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	var b strings.Builder
	for _, e := range entries {
		line := e.Dst
		if e.Weight != 0 {
			line = fmt.Sprintf("%s %g", e.Dst, e.Weight)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := writeInventory(h.path, b.String()); err != nil {
		log.Warn().Err(err).Str("path", h.path).Msg("inventory write failed")
	}
	return entries, nil
}

func writeInventory(path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating inventory dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing inventory: %w", err)
	}
	return nil
}
