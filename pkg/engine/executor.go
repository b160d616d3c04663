package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/fetchez/fetchez/pkg/recipe"
	"github.com/fetchez/fetchez/pkg/telemetry"
)

// Executor drives pending entries through a bounded worker pool with
// per-source retry, mirror fallback, and inline FILE hook execution.
// One executor instance serves one pool scope.
type Executor struct {
	threads int
	retry   recipe.Retry
	fetcher Fetcher
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	// onEvent receives entry lifecycle events; nil disables publishing.
	onEvent func(e *Event)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEventFunc installs an entry event callback.
func WithEventFunc(fn func(e *Event)) ExecutorOption {
	return func(x *Executor) { x.onEvent = fn }
}

// WithMetrics installs run metrics collection.
func WithMetrics(m *telemetry.Metrics) ExecutorOption {
	return func(x *Executor) { x.metrics = m }
}

// NewExecutor creates an executor with the given pool size and retry policy.
func NewExecutor(threads int, retry recipe.Retry, fetcher Fetcher, logger *telemetry.Logger, opts ...ExecutorOption) *Executor {
	if threads <= 0 {
		threads = recipe.DefaultThreads
	}
	x := &Executor{
		threads: threads,
		retry:   retry,
		fetcher: fetcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute retrieves every pending entry in entries through the pool and
// returns the final entry set, including any entries fanned out by FILE
// hooks. Terminal entries pass through untouched. On context cancellation
// in-flight entries finish or fail and remaining pending entries are marked
// Failed with a CANCELLED cause; Execute still returns the full set so the
// caller can report partial progress.
func (x *Executor) Execute(ctx context.Context, entries []*Entry, fileHooks []FileHook) []*Entry {
	pending := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Terminal() {
			pending = append(pending, e)
		}
	}
	if len(pending) == 0 {
		return entries
	}

	workers := x.threads
	if len(pending) < workers {
		workers = len(pending)
	}

	workQueue := make(chan *Entry, len(pending))
	for _, e := range pending {
		workQueue <- e
	}
	close(workQueue)

	var mu sync.Mutex
	var spawned []*Entry

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range workQueue {
				select {
				case <-ctx.Done():
					e.Fail(NewPermanentError("run cancelled", ctx.Err()).
						WithCode(ErrCodeCancelled).WithSource(e.URL))
					x.publishEntry(e, EventTypeEntryFailed, "cancelled before retrieval")
					continue
				default:
				}

				extra := x.executeEntry(ctx, e, fileHooks)
				if len(extra) > 0 {
					mu.Lock()
					spawned = append(spawned, extra...)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	return append(entries, spawned...)
}

// executeEntry walks the entry's source list, retrying each source per the
// retry policy, then runs the FILE chain over the retrieved artifact. It
// returns entries fanned out by FILE hooks.
func (x *Executor) executeEntry(ctx context.Context, e *Entry, fileHooks []FileHook) []*Entry {
	if err := e.Transition(StatusFetching); err != nil {
		return nil
	}

	var lastErr error
	fetched := false

sources:
	for _, src := range e.Sources() {
		for attempt := 0; attempt < max(1, x.retry.MaxAttempts); attempt++ {
			attemptCtx := ctx
			var cancel context.CancelFunc
			if x.retry.AttemptTimeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, x.retry.AttemptTimeout)
			}

			start := time.Now()
			n, err := x.fetcher.Fetch(attemptCtx, src, e.Dst)
			if cancel != nil {
				cancel()
			}
			if err == nil {
				err = x.verifyChecksum(e)
			}
			if err == nil {
				if x.metrics != nil {
					x.metrics.ObserveFetch(e.Module, time.Since(start), n)
				}
				e.SetMeta("local_size", n)
				e.SetMeta("source_used", src)
				fetched = true
				break sources
			}

			lastErr = err
			e.RetryCount++
			if x.metrics != nil {
				x.metrics.IncRetries(e.Module)
			}

			if ctx.Err() != nil {
				lastErr = NewPermanentError("run cancelled", ctx.Err()).
					WithCode(ErrCodeCancelled).WithSource(src)
				break sources
			}
			if !IsRetryable(err) {
				// Permanent failures never fall through to a mirror: a 404
				// or checksum mismatch on the primary means the artifact,
				// not the transport, is bad.
				break sources
			}
			if attempt+1 >= max(1, x.retry.MaxAttempts) {
				// Source exhausted; try the next mirror.
				continue sources
			}

			x.logger.WithField("url", src).
				WithField("attempt", attempt+1).
				WithError(err).
				Warn("retrying after transient failure")

			select {
			case <-time.After(x.backoff(attempt, err)):
			case <-ctx.Done():
				lastErr = NewPermanentError("run cancelled", ctx.Err()).
					WithCode(ErrCodeCancelled).WithSource(src)
				break sources
			}
		}
	}

	if !fetched {
		if lastErr == nil {
			lastErr = NewPermanentError("no sources available", nil).
				WithCode(ErrCodeSourceUnavailable).WithSource(e.URL)
		}
		e.Fail(lastErr)
		x.publishEntry(e, EventTypeEntryFailed, lastErr.Error())
		if x.metrics != nil {
			x.metrics.IncEntries(e.Module, string(StatusFailed))
		}
		return nil
	}

	// The entry is Fetched the moment retrieval and verification complete;
	// the FILE chain then runs over the fetched artifact and may still fail
	// or skip it.
	if err := e.Transition(StatusFetched); err == nil {
		x.publishEntry(e, EventTypeEntryFetched, "retrieved "+e.Dst)
	}

	spawned := x.runFileChain(ctx, e, fileHooks)

	if x.metrics != nil {
		x.metrics.IncEntries(e.Module, string(e.Status))
	}
	return spawned
}

// runFileChain runs the FILE hooks over a fetched entry, collecting any
// fanned-out entries. Fanned-out entries inherit the parent's module and
// run through the remainder of the chain themselves. A hook error fails the
// entry; a hook may instead mark the entry Skipped to drop it cleanly.
func (x *Executor) runFileChain(ctx context.Context, e *Entry, fileHooks []FileHook) []*Entry {
	var spawned []*Entry
	for i, h := range fileHooks {
		out, err := h.File(ctx, e)
		if err != nil {
			e.Fail(NewPermanentError(
				fmt.Sprintf("hook %q rejected artifact", h.Name()), err).
				WithCode(ErrCodeHookFailed).WithSource(e.URL))
			x.publishEntry(e, EventTypeEntryFailed, e.StatusReason)
			return spawned
		}
		for _, child := range out {
			if child == e {
				continue
			}
			child.Module = e.Module
			if child.Status == "" {
				child.Status = StatusPending
			}
			// Children already materialized on disk run the rest of the
			// chain directly instead of going back through the pool.
			if err := child.Transition(StatusFetching); err == nil {
				child.Transition(StatusFetched) //nolint:errcheck
				spawned = append(spawned, x.runFileChain(ctx, child, fileHooks[i+1:])...)
			}
			spawned = append(spawned, child)
		}
		if e.Status != StatusFetched {
			if e.Status == StatusSkipped {
				x.publishEntry(e, EventTypeEntrySkipped, e.StatusReason)
			}
			break
		}
	}
	return spawned
}

// verifyChecksum checks a declared "algo:hex" digest against the artifact.
// A mismatch is permanent: retrying the same corrupt source is pointless
// and mirrors are assumed to serve the same bytes.
func (x *Executor) verifyChecksum(e *Entry) error {
	if e.Checksum == "" {
		return nil
	}
	algo, want, ok := strings.Cut(e.Checksum, ":")
	if !ok {
		return NewPermanentError(
			fmt.Sprintf("malformed checksum declaration %q", e.Checksum), nil).
			WithCode(ErrCodeConfig).WithSource(e.URL)
	}

	var h hash.Hash
	switch strings.ToLower(algo) {
	case "blake3":
		h = blake3.New(32, nil)
	case "sha256":
		h = sha256.New()
	default:
		return NewPermanentError(
			fmt.Sprintf("unsupported checksum algorithm %q", algo), nil).
			WithCode(ErrCodeConfig).WithSource(e.URL)
	}

	f, err := os.Open(e.Dst)
	if err != nil {
		return NewPermanentError("opening artifact for verification", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(e.URL)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return NewTransientError("hashing artifact", err).
			WithCode(ErrCodeRetrievalFailed).WithSource(e.URL)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		// Remove the corrupt artifact so a later run does not resume it.
		os.Remove(e.Dst) //nolint:errcheck
		return NewPermanentError(
			fmt.Sprintf("checksum mismatch: want %s, got %s", want, got), nil).
			WithCode(ErrCodeChecksumMismatch).WithSource(e.URL)
	}
	e.SetMeta(strings.ToLower(algo)+"_hash", got)
	e.SetMeta("verification", "passed")
	return nil
}

// backoff calculates exponential backoff with jitter. Throttled errors
// start from a larger base since the source asked us to slow down.
func (x *Executor) backoff(attempt int, err error) time.Duration {
	base := x.retry.BackoffInitial
	if base <= 0 {
		base = recipe.DefaultBackoffInitial
	}
	if IsThrottled(err) {
		base *= 5
	}

	mult := x.retry.BackoffMultiplier
	if mult <= 0 {
		mult = recipe.DefaultBackoffMultiplier
	}
	delay := time.Duration(float64(base) * math.Pow(mult, float64(attempt)))

	maxDelay := x.retry.BackoffMax
	if maxDelay <= 0 {
		maxDelay = recipe.DefaultBackoffMax
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	// ±25% jitter
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay*3/4 + jitter
}

func (x *Executor) publishEntry(e *Entry, typ EventType, msg string) {
	if x.onEvent == nil {
		return
	}
	level := "info"
	if typ == EventTypeEntryFailed {
		level = "error"
	}
	x.onEvent(&Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Module:    e.Module,
		URL:       e.URL,
		Message:   msg,
		Level:     level,
	})
}
