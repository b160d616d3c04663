package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher retrieves a single source URL into a local destination file.
// Implementations return classified errors so the executor can decide
// between retry, mirror fallback, and permanent failure.
type Fetcher interface {
	// Fetch retrieves rawURL into dst, creating parent directories as
	// needed, and returns the number of bytes written. When dst already
	// holds a partial artifact the fetcher resumes if the scheme allows.
	Fetch(ctx context.Context, rawURL, dst string) (int64, error)
}

// FetcherMux routes URLs to fetchers by scheme.
type FetcherMux struct {
	fetchers map[string]Fetcher
}

// NewFetcherMux returns a mux with HTTP(S) and file fetchers preinstalled.
func NewFetcherMux() *FetcherMux {
	mux := &FetcherMux{fetchers: map[string]Fetcher{}}
	httpf := NewHTTPFetcher(nil)
	mux.Register("http", httpf)
	mux.Register("https", httpf)
	mux.Register("file", FileFetcher{})
	return mux
}

// Register installs a fetcher for a URL scheme, replacing any previous one.
func (m *FetcherMux) Register(scheme string, f Fetcher) {
	m.fetchers[strings.ToLower(scheme)] = f
}

// Fetch dispatches to the fetcher registered for the URL's scheme.
func (m *FetcherMux) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, NewPermanentError("invalid source URL", err).
			WithCode(ErrCodeConfig).WithSource(rawURL)
	}
	f, ok := m.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return 0, NewPermanentError(
			fmt.Sprintf("no fetcher for scheme %q", u.Scheme), nil).
			WithCode(ErrCodeConfig).WithSource(rawURL)
	}
	return f.Fetch(ctx, rawURL, dst)
}

// HTTPFetcher retrieves over HTTP(S) with byte-range resume: when the
// destination already holds a partial artifact it asks the server to
// continue from that offset, appending on 206 and truncating on 200.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client; nil uses http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, NewPermanentError("building request", err).
			WithCode(ErrCodeConfig).WithSource(rawURL)
	}

	var offset int64
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		offset = fi.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, classifyNetErr(err, rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Server honored the range; append below.
	case resp.StatusCode == http.StatusOK:
		// Full body; discard any partial artifact.
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Partial artifact is already complete or the range was bogus.
		// Start over with a full retrieval.
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return 0, NewPermanentError("clearing stale partial", err).
				WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
		}
		req.Header.Del("Range")
		resp.Body.Close()
		resp, err = f.client.Do(req)
		if err != nil {
			return 0, classifyNetErr(err, rawURL)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, classifyHTTPStatus(resp.StatusCode, rawURL)
		}
		offset = 0
	default:
		return 0, classifyHTTPStatus(resp.StatusCode, rawURL)
	}

	return writeBody(resp.Body, dst, offset, rawURL)
}

func writeBody(body io.Reader, dst string, offset int64, rawURL string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, NewPermanentError("creating destination directory", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		return 0, NewPermanentError("opening destination", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	defer out.Close()

	n, err := io.Copy(out, body)
	if err != nil {
		// A torn body is retryable; the partial stays on disk for resume.
		return n, NewTransientError("reading response body", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	return offset + n, nil
}

func classifyHTTPStatus(status int, rawURL string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewThrottledError(
			fmt.Sprintf("source returned %d", status), nil).
			WithCode(ErrCodeRateLimited).WithSource(rawURL)
	case status >= 500:
		return NewTransientError(
			fmt.Sprintf("source returned %d", status), nil).
			WithCode(ErrCodeSourceUnavailable).WithSource(rawURL)
	default:
		return NewPermanentError(
			fmt.Sprintf("source returned %d", status), nil).
			WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
	}
}

func classifyNetErr(err error, rawURL string) error {
	if errors.Is(err, context.Canceled) {
		return NewPermanentError("retrieval cancelled", err).
			WithCode(ErrCodeCancelled).WithSource(rawURL)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("attempt timed out", err).
			WithCode(ErrCodeTimeout).WithSource(rawURL)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return NewTransientError("attempt timed out", err).
			WithCode(ErrCodeTimeout).WithSource(rawURL)
	}
	// Connection resets, refused connections and DNS hiccups are worth a
	// retry; a mirror may also resolve them.
	return NewTransientError("connection failed", err).
		WithCode(ErrCodeSourceUnavailable).WithSource(rawURL)
}

// FileFetcher copies file:// URLs, used by the local module's copy mode and
// in tests.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, NewPermanentError("invalid source URL", err).
			WithCode(ErrCodeConfig).WithSource(rawURL)
	}
	src := u.Path
	if u.Host != "" {
		src = filepath.Join(u.Host, u.Path)
	}
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, NewPermanentError("source file not found", err).
				WithCode(ErrCodeNotFound).WithSource(rawURL)
		}
		return 0, NewPermanentError("opening source file", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	defer in.Close()

	select {
	case <-ctx.Done():
		return 0, classifyNetErr(ctx.Err(), rawURL)
	default:
	}
	return writeBody(in, dst, 0, rawURL)
}
