package hooks

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fetchez/fetchez/pkg/engine"
)

func writeArchive(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnzipFansOutMembers(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeArchive(t, archive, map[string]string{
		"tiles/a.tif": "aaaa",
		"tiles/b.tif": "bbbb",
	})

	h, err := NewUnzip(nil)
	if err != nil {
		t.Fatalf("NewUnzip: %v", err)
	}
	e := engine.NewEntry("https://example.com/bundle.zip", archive)
	e.SetMeta("data_type", "dem")

	children, err := h.(engine.FileHook).File(context.Background(), e)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	for _, c := range children {
		if _, err := os.Stat(c.Dst); err != nil {
			t.Errorf("member %s not extracted: %v", c.Dst, err)
		}
		if a, _ := c.GetMeta("archive"); a != archive {
			t.Errorf("child archive meta = %v", a)
		}
		if dt, _ := c.GetMeta("data_type"); dt != "dem" {
			t.Errorf("child data_type = %v, want inherited", dt)
		}
	}

	// remove defaults true: the archive is gone and its entry skipped.
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("archive left on disk")
	}
	if e.Status != engine.StatusSkipped {
		t.Errorf("archive entry status = %s, want skipped", e.Status)
	}
	if n, _ := e.GetMeta("artifacts"); n != 2 {
		t.Errorf("artifacts meta = %v, want 2", n)
	}
}

func TestUnzipKeepArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeArchive(t, archive, map[string]string{"a.txt": "x"})

	h, _ := NewUnzip(map[string]interface{}{"remove": false})
	e := engine.NewEntry("u", archive)
	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		t.Error("archive removed despite remove=false")
	}
	if e.Status == engine.StatusSkipped {
		t.Error("archive entry skipped despite remove=false")
	}
}

func writeTarball(t *testing.T, path string, members map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range members {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnzipExpandsTarball(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.tar.gz")
	writeTarball(t, archive, map[string]string{
		"lidar/a.laz": "aaaa",
		"lidar/b.laz": "bb",
	})

	h, _ := NewUnzip(nil)
	e := engine.NewEntry("u", archive)
	children, err := h.(engine.FileHook).File(context.Background(), e)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	for _, c := range children {
		body, err := os.ReadFile(c.Dst)
		if err != nil {
			t.Fatalf("member %s not extracted: %v", c.Dst, err)
		}
		if size, _ := c.GetMeta("local_size"); size != int64(len(body)) {
			t.Errorf("local_size = %v, want %d", size, len(body))
		}
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("tarball left on disk")
	}
}

func TestUnzipExpandsBareGzip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "grid.xyz.gz")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte("1 2 3\n")); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h, _ := NewUnzip(nil)
	e := engine.NewEntry("u", archive)
	children, err := h.(engine.FileHook).File(context.Background(), e)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1", len(children))
	}
	if got := children[0].Dst; got != filepath.Join(dir, "grid.xyz") {
		t.Errorf("decompressed member = %s", got)
	}
	body, err := os.ReadFile(children[0].Dst)
	if err != nil || string(body) != "1 2 3\n" {
		t.Errorf("decompressed body = %q, err %v", body, err)
	}
}

func TestUnzipPassesThroughNonArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.tif")
	if err := os.WriteFile(path, []byte("raster"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, _ := NewUnzip(nil)
	e := engine.NewEntry("u", path)
	children, err := h.(engine.FileHook).File(context.Background(), e)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if children != nil {
		t.Errorf("non-archive fanned out: %v", children)
	}
	if e.Status != engine.StatusPending {
		t.Errorf("non-archive entry disturbed: %s", e.Status)
	}
}

func TestUnzipRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeArchive(t, archive, map[string]string{"../escape.txt": "nope"})

	h, _ := NewUnzip(nil)
	e := engine.NewEntry("u", archive)
	if _, err := h.(engine.FileHook).File(context.Background(), e); err == nil {
		t.Fatal("member escaping the destination accepted")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt")); !os.IsNotExist(err) {
		t.Error("escaped member written outside the destination")
	}
}
