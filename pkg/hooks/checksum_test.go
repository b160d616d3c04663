package hooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fetchez/fetchez/pkg/engine"
)

func writeArtifact(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChecksumDefaultsToBlake3(t *testing.T) {
	h, err := NewChecksum(nil)
	if err != nil {
		t.Fatalf("NewChecksum: %v", err)
	}
	e := engine.NewEntry("u", writeArtifact(t, "some raster bytes"))
	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}
	v, ok := e.GetMeta("blake3_hash")
	if !ok {
		t.Fatal("blake3_hash meta missing")
	}
	if len(v.(string)) != 64 {
		t.Errorf("digest %q is not a 256-bit hex string", v)
	}
	if n, _ := e.GetMeta("local_size"); n != int64(len("some raster bytes")) {
		t.Errorf("local_size = %v", n)
	}
}

func TestChecksumVerifiesDeclaredDigest(t *testing.T) {
	body := "known content"
	sum := sha256.Sum256([]byte(body))

	h, _ := NewChecksum(map[string]interface{}{"algo": "sha256"})
	e := engine.NewEntry("u", writeArtifact(t, body))
	e.Checksum = "sha256:" + hex.EncodeToString(sum[:])

	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}
	if v, _ := e.GetMeta("verification"); v != "passed" {
		t.Errorf("verification = %v, want passed", v)
	}
}

func TestChecksumMismatchFails(t *testing.T) {
	h, _ := NewChecksum(map[string]interface{}{"algo": "sha256"})
	e := engine.NewEntry("u", writeArtifact(t, "actual content"))
	e.Checksum = "sha256:" + strings.Repeat("ab", 32)

	_, err := h.(engine.FileHook).File(context.Background(), e)
	if err == nil {
		t.Fatal("mismatched digest accepted")
	}
	if v, _ := e.GetMeta("verification"); v != "failed" {
		t.Errorf("verification = %v, want failed", v)
	}
}

func TestChecksumIgnoresForeignAlgoDeclaration(t *testing.T) {
	// A blake3 hook must not compare against a declared sha256 digest.
	h, _ := NewChecksum(map[string]interface{}{"algo": "blake3"})
	e := engine.NewEntry("u", writeArtifact(t, "content"))
	e.Checksum = "sha256:" + strings.Repeat("00", 32)

	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}
	if _, ok := e.GetMeta("verification"); ok {
		t.Error("verification recorded against a foreign algorithm")
	}
}

func TestChecksumRejectsUnknownAlgo(t *testing.T) {
	if _, err := NewChecksum(map[string]interface{}{"algo": "crc32"}); err == nil {
		t.Error("crc32 accepted")
	}
}

func TestChecksumLegacyAlgorithms(t *testing.T) {
	// md5("content") — some upstream catalogs still publish these.
	h, err := NewChecksum(map[string]interface{}{"algo": "md5"})
	if err != nil {
		t.Fatalf("NewChecksum: %v", err)
	}
	e := engine.NewEntry("u", writeArtifact(t, "content"))
	e.Checksum = "md5:9a0364b9e99bb480dd25e1f0284c8555"

	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}
	if v, _ := e.GetMeta("verification"); v != "passed" {
		t.Errorf("verification = %v, want passed", v)
	}
	if got, _ := e.GetMeta("md5_hash"); got != "9a0364b9e99bb480dd25e1f0284c8555" {
		t.Errorf("md5_hash = %v", got)
	}
}

func TestChecksumVerifiesRemoteSize(t *testing.T) {
	h, _ := NewChecksum(nil)
	e := engine.NewEntry("u", writeArtifact(t, "content"))
	e.SetMeta("remote_size", int64(7))

	if _, err := h.(engine.FileHook).File(context.Background(), e); err != nil {
		t.Fatalf("File: %v", err)
	}

	short := engine.NewEntry("u", writeArtifact(t, "conten"))
	short.SetMeta("remote_size", int64(7))
	if _, err := h.(engine.FileHook).File(context.Background(), short); err == nil {
		t.Fatal("short artifact accepted against declared remote size")
	}
	if v, _ := short.GetMeta("verification"); v != "failed" {
		t.Errorf("verification = %v, want failed", v)
	}
}
