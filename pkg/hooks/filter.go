package hooks

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"

	"github.com/fetchez/fetchez/pkg/engine"
)

// FilenameFilter is a PRE hook that narrows the entry list by matching the
// basename of each entry's URL against a glob or regular expression. Entries
// that do not match are marked Skipped, not dropped, so they still show up
// in the run report.
type FilenameFilter struct {
	glob    string
	pattern *regexp.Regexp
	invert  bool
}

// NewFilenameFilter is the hook factory for "filename_filter". Exactly one
// of the glob or regex args must be given.
func NewFilenameFilter(args map[string]interface{}) (engine.Hook, error) {
	glob := argString(args, "glob", "")
	expr := argString(args, "regex", "")
	if (glob == "") == (expr == "") {
		return nil, engine.NewPermanentError(
			"filename_filter requires exactly one of glob or regex", nil).
			WithCode(engine.ErrCodeConfig)
	}
	h := &FilenameFilter{glob: glob, invert: argBool(args, "invert", false)}
	if expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("invalid filename_filter regex %q", expr), err).
				WithCode(engine.ErrCodeConfig)
		}
		h.pattern = re
	} else if _, err := filepath.Match(glob, "probe"); err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("invalid filename_filter glob %q", glob), err).
			WithCode(engine.ErrCodeConfig)
	}
	return h, nil
}

// Name implements engine.Hook.
func (h *FilenameFilter) Name() string { return "filename_filter" }

// Pre implements engine.PreHook.
func (h *FilenameFilter) Pre(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	kept := make([]*engine.Entry, 0, len(entries))
	for _, e := range entries {
		name := path.Base(e.URL)
		var matched bool
		if h.pattern != nil {
			matched = h.pattern.MatchString(name)
		} else {
			matched, _ = filepath.Match(h.glob, name)
		}
		if matched != h.invert {
			kept = append(kept, e)
			continue
		}
		e.Skip("filename_filter: " + name + " excluded")
		kept = append(kept, e)
	}
	return kept, nil
}
