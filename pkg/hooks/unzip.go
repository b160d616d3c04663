package hooks

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Unzip is a FILE hook that expands a retrieved archive in place, fanning
// each member out as its own entry. Zip, tar, tar.gz/tgz and bare gzip
// artifacts are recognised; anything else passes through untouched. With
// remove=true the archive itself is marked Skipped after expansion so
// downstream stages only see the members.
type Unzip struct {
	remove    bool
	overwrite bool
}

// NewUnzip is the hook factory for "unzip".
func NewUnzip(args map[string]interface{}) (engine.Hook, error) {
	return &Unzip{
		remove:    argBool(args, "remove", true),
		overwrite: argBool(args, "overwrite", false),
	}, nil
}

// Name implements engine.Hook.
func (h *Unzip) Name() string { return "unzip" }

// File implements engine.FileHook.
func (h *Unzip) File(ctx context.Context, e *engine.Entry) ([]*engine.Entry, error) {
	var (
		children []*engine.Entry
		err      error
	)
	switch archiveKind(e.Dst) {
	case "zip":
		children, err = h.expandZip(ctx, e)
	case "tar", "tgz":
		children, err = h.expandTar(ctx, e, archiveKind(e.Dst) == "tgz")
	case "gz":
		children, err = h.expandGzip(e)
	default:
		return nil, nil
	}
	if err != nil {
		return children, err
	}

	if h.remove {
		if err := os.Remove(e.Dst); err != nil {
			return children, fmt.Errorf("removing expanded archive: %w", err)
		}
		e.Skip("unzip: archive expanded into members")
	}
	e.SetMeta("artifacts", len(children))
	return children, nil
}

// archiveKind classifies an artifact path by extension.
func archiveKind(dst string) string {
	lower := strings.ToLower(dst)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tgz"
	case strings.HasSuffix(lower, ".tar"):
		return "tar"
	case strings.HasSuffix(lower, ".gz"):
		return "gz"
	}
	return ""
}

func (h *Unzip) expandZip(ctx context.Context, e *engine.Entry) ([]*engine.Entry, error) {
	r, err := zip.OpenReader(e.Dst)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", e.Dst, err)
	}
	defer r.Close()

	destDir := filepath.Dir(e.Dst)
	var children []*engine.Entry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return children, ctx.Err()
		default:
		}

		in, err := f.Open()
		if err != nil {
			return children, err
		}
		dst, err := extractMember(f.Name, in, destDir, h.overwrite)
		in.Close()
		if err != nil {
			return children, err
		}
		children = append(children, childEntry(e, dst, int64(f.UncompressedSize64)))
	}
	return children, nil
}

func (h *Unzip) expandTar(ctx context.Context, e *engine.Entry, gzipped bool) ([]*engine.Entry, error) {
	f, err := os.Open(e.Dst)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", e.Dst, err)
	}
	defer f.Close()

	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening archive %s: %w", e.Dst, err)
		}
		defer gz.Close()
		src = gz
	}

	destDir := filepath.Dir(e.Dst)
	tr := tar.NewReader(src)
	var children []*engine.Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return children, nil
		}
		if err != nil {
			return children, fmt.Errorf("reading archive %s: %w", e.Dst, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		select {
		case <-ctx.Done():
			return children, ctx.Err()
		default:
		}

		dst, err := extractMember(hdr.Name, tr, destDir, h.overwrite)
		if err != nil {
			return children, err
		}
		children = append(children, childEntry(e, dst, hdr.Size))
	}
}

// expandGzip handles a bare gzip artifact: one member, named by stripping
// the .gz suffix.
func (h *Unzip) expandGzip(e *engine.Entry) ([]*engine.Entry, error) {
	f, err := os.Open(e.Dst)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", e.Dst, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", e.Dst, err)
	}
	defer gz.Close()

	name := filepath.Base(strings.TrimSuffix(e.Dst, filepath.Ext(e.Dst)))
	dst, err := extractMember(name, gz, filepath.Dir(e.Dst), h.overwrite)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}
	return []*engine.Entry{childEntry(e, dst, info.Size())}, nil
}

func childEntry(parent *engine.Entry, dst string, size int64) *engine.Entry {
	child := engine.NewEntry(parent.URL, dst)
	child.SetMeta("archive", parent.Dst)
	child.SetMeta("local_size", size)
	if dt, ok := parent.GetMeta("data_type"); ok {
		child.SetMeta("data_type", dt)
	}
	return child
}

// extractMember writes one archive member under destDir, rejecting paths
// that escape it.
func extractMember(name string, in io.Reader, destDir string, overwrite bool) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("archive member %q escapes destination", name)
	}
	dst := filepath.Join(destDir, clean)

	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return dst, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return dst, nil
}
