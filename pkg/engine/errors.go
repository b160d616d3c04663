// Package engine executes compiled recipe plans: it resolves data-source
// modules into retrieval entries, drives them through a bounded worker pool
// with retry and mirror fallback, runs hook pipelines around retrieval, and
// aggregates per-module and global results into a run report.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for retry and mirror-fallback decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, connection resets, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the remote source.
	// Retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable failure. Examples:
	// 4xx responses, authentication failures, checksum mismatches, invalid
	// configuration. Never retried and never falls through to a mirror.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is a classified error with retrieval context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Source is the URL or resource that caused the error, if applicable.
	Source string `json:"source,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Source != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (source=%s, operation=%s): %s",
			e.Class, e.Message, e.Source, e.Operation, e.unwrapMessage())
	}
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s (source=%s): %s",
			e.Class, e.Message, e.Source, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithSource adds source context to an error.
func (e *EngineError) WithSource(source string) *EngineError {
	e.Source = source
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried on the same source.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// Common error codes.
const (
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeDependencyMissing = "DEPENDENCY_MISSING"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeRetrievalFailed   = "RETRIEVAL_FAILED"
	ErrCodeChecksumMismatch  = "CHECKSUM_MISMATCH"
	ErrCodeHookFailed        = "HOOK_FAILED"
	ErrCodeSchemaUnknown     = "SCHEMA_UNKNOWN"
	ErrCodeSchemaApplied     = "SCHEMA_APPLIED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
