// Package modules provides the built-in data-source adapters: a FRED-backed
// local index module, a plain URL list module, and an SFTP directory module.
// Each registers a factory keyed by the name recipes use.
package modules

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/fred"
	"github.com/fetchez/fetchez/pkg/recipe"
)

// Register installs all built-in modules into the registry.
func Register(reg *engine.Registry) {
	reg.RegisterModule("local", NewLocal)
	reg.RegisterModule("urllist", NewURLList)
	reg.RegisterModule("sftp", NewSFTP)
}

// Local resolves entries from a FRED survey index. Mode "copy" stages the
// referenced files into the output directory; mode "reference" yields
// entries that point at the files in place, already terminal.
type Local struct {
	index    *fred.Index
	where    string
	dataType string
	mode     string
}

// NewLocal is the module factory for "local".
func NewLocal(args map[string]interface{}) (engine.Module, error) {
	path, _ := args["index"].(string)
	if path == "" {
		return nil, engine.NewPermanentError(
			"local module requires an `index` argument", nil).
			WithCode(engine.ErrCodeConfig)
	}
	idx, err := fred.Open(path)
	if err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("opening survey index %s", path), err).
			WithCode(engine.ErrCodeDependencyMissing)
	}

	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "reference"
	}
	if mode != "reference" && mode != "copy" {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("local module mode must be reference or copy, got %q", mode), nil).
			WithCode(engine.ErrCodeConfig)
	}

	where, _ := args["where"].(string)
	dataType, _ := args["datatype"].(string)
	return &Local{index: idx, where: where, dataType: dataType, mode: mode}, nil
}

// Name implements engine.Module.
func (l *Local) Name() string { return "local" }

// Resolve implements engine.Module.
func (l *Local) Resolve(ctx context.Context, region recipe.Region) ([]*engine.Entry, error) {
	surveys, err := l.index.Search(fred.Filter{
		Region:   &region,
		DataType: l.dataType,
		Where:    l.where,
	})
	if err != nil {
		return nil, engine.NewPermanentError("survey search failed", err).
			WithCode(engine.ErrCodeConfig)
	}

	entries := make([]*engine.Entry, 0, len(surveys))
	for _, s := range surveys {
		src := s.DataLink
		local := localPath(src)

		var e *engine.Entry
		switch l.mode {
		case "reference":
			// Point at the file in place; nothing to retrieve.
			e = engine.NewEntry(src, local)
			e.Status = engine.StatusFetched
		case "copy":
			if local == src {
				// DataLink is a bare path; normalize to a file URL so the
				// mux can route it.
				src = "file://" + src
			}
			e = engine.NewEntry(src, filepath.Base(local))
		}
		e.SetMeta("data_type", s.DataType)
		e.SetMeta("date", s.Date)
		e.SetMeta("survey_id", s.ID)
		e.SetMeta("agency", s.Agency)
		if s.Resolution != "" {
			e.SetMeta("resolution", s.Resolution)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// localPath strips a file:// scheme when present.
func localPath(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Scheme != "file" {
		return link
	}
	if u.Host != "" {
		return filepath.Join(u.Host, u.Path)
	}
	return u.Path
}
