package hooks

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fetchez/fetchez/pkg/engine"
)

// List is a PRE hook that prints the resolved entry list without altering
// it, one "url -> dst" line per entry.
type List struct {
	out io.Writer
}

// NewList is the hook factory for "list".
func NewList(args map[string]interface{}) (engine.Hook, error) {
	return &List{out: os.Stdout}, nil
}

// Name implements engine.Hook.
func (h *List) Name() string { return "list" }

// Pre implements engine.PreHook.
func (h *List) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	for _, e := range entries {
		fmt.Fprintf(h.out, "%s -> %s\n", e.URL, e.Dst)
	}
	return entries, nil
}

// DryRun is a PRE hook that marks every entry Skipped so the scope resolves
// and reports without retrieving anything.
type DryRun struct{}

// NewDryRun is the hook factory for "dryrun".
func NewDryRun(args map[string]interface{}) (engine.Hook, error) {
	return &DryRun{}, nil
}

// Name implements engine.Hook.
func (h *DryRun) Name() string { return "dryrun" }

// Pre implements engine.PreHook.
func (h *DryRun) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	for _, e := range entries {
		e.Skip("dryrun: retrieval disabled")
	}
	return entries, nil
}
