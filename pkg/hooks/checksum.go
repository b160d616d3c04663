package hooks

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"

	"github.com/fetchez/fetchez/pkg/engine"
)

// Checksum is a FILE hook that digests each retrieved artifact and records
// the result on the entry. When the entry carries a declared digest for the
// same algorithm the computed value is compared against it and a mismatch
// fails the entry.
type Checksum struct {
	algo string
}

// NewChecksum is the hook factory for "checksum". Supported algorithms are
// blake3 (default), sha256, sha1 and md5.
func NewChecksum(args map[string]interface{}) (engine.Hook, error) {
	algo := strings.ToLower(argString(args, "algo", "blake3"))
	switch algo {
	case "blake3", "sha256", "sha1", "md5":
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported checksum algorithm %q", algo), nil).
			WithCode(engine.ErrCodeConfig)
	}
	return &Checksum{algo: algo}, nil
}

// Name implements engine.Hook.
func (h *Checksum) Name() string { return "checksum" }

// File implements engine.FileHook.
func (h *Checksum) File(ctx context.Context, e *engine.Entry) ([]*engine.Entry, error) {
	var digest hash.Hash
	switch h.algo {
	case "sha256":
		digest = sha256.New()
	case "sha1":
		digest = sha1.New()
	case "md5":
		digest = md5.New()
	default:
		digest = blake3.New(32, nil)
	}

	f, err := os.Open(e.Dst)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(digest, f)
	if err != nil {
		return nil, fmt.Errorf("hashing artifact: %w", err)
	}

	got := hex.EncodeToString(digest.Sum(nil))
	e.SetMeta(h.algo+"_hash", got)
	e.SetMeta("local_size", n)

	// Modules that know the remote size up front (sftp stat, catalog rows)
	// declare it; a short artifact fails like a digest mismatch.
	if want, ok := metaInt64(e, "remote_size"); ok && want != n {
		e.SetMeta("verification", "failed")
		return nil, fmt.Errorf("size mismatch: remote %d bytes, local %d", want, n)
	}

	if algo, want, ok := strings.Cut(e.Checksum, ":"); ok && strings.ToLower(algo) == h.algo {
		if !strings.EqualFold(got, want) {
			e.SetMeta("verification", "failed")
			return nil, fmt.Errorf("checksum mismatch: want %s, got %s", want, got)
		}
		e.SetMeta("verification", "passed")
	}
	return nil, nil
}
