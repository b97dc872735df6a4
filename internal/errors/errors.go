// Package errors provides the structured error taxonomy for semcode.
// Every user-visible failure carries a kind, a scope (project, file, batch)
// and, where actionable, suggested fixes.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation decisions.
type Kind string

const (
	// KindConfiguration indicates missing or invalid configuration.
	// Fatal at startup or job start.
	KindConfiguration Kind = "CONFIGURATION"

	// KindProviderUnavailable indicates the embedding provider is down
	// or unauthenticated. Jobs fail fast with suggested actions.
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"

	// KindTransient indicates network errors, rate limits, or pool
	// exhaustion. Retried with backoff.
	KindTransient Kind = "TRANSIENT"

	// KindBatchLimit indicates an upstream refused the batch size.
	// Retried with a smaller split.
	KindBatchLimit Kind = "BATCH_LIMIT"

	// KindConsistency indicates one store upsert succeeded and the
	// compensation on the other failed.
	KindConsistency Kind = "CONSISTENCY"

	// KindFatal indicates corrupted persistence or an unusable backend.
	KindFatal Kind = "FATAL"

	// KindNotFound indicates an unknown project or resource.
	KindNotFound Kind = "NOT_FOUND"

	// KindAlreadyIndexing indicates a job is already running for the project.
	KindAlreadyIndexing Kind = "ALREADY_INDEXING"

	// KindInvalidPath indicates the project path does not exist or is not a directory.
	KindInvalidPath Kind = "INVALID_PATH"
)

// ScopeProject, ScopeFile, ScopeBatch identify what an error applies to.
const (
	ScopeProject = "project"
	ScopeFile    = "file"
	ScopeBatch   = "batch"
)

// CoreError is the structured error type used across the indexing engine.
type CoreError struct {
	// Kind classifies the error for retry and propagation decisions.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Scope is what the error applies to: project, file, or batch.
	Scope string

	// Details contains additional context as key-value pairs
	// (project id, relative path, batch range).
	Details map[string]string

	// Hints are actionable suggestions for the user, in order of preference.
	Hints []string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Scope, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with sentinel kinds.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the operation may be retried as-is.
// BatchLimit failures are not retryable: the caller must split the
// batch first.
func (e *CoreError) Retryable() bool {
	return e.Kind == KindTransient
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithHint appends an actionable suggestion. Returns the error for chaining.
func (e *CoreError) WithHint(hint string) *CoreError {
	e.Hints = append(e.Hints, hint)
	return e
}

// WithScope sets the scope. Returns the error for chaining.
func (e *CoreError) WithScope(scope string) *CoreError {
	e.Scope = scope
	return e
}

// New creates a CoreError with the given kind and message.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Newf creates a CoreError with a formatted message.
func Newf(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a CoreError from an existing error. Returns nil for nil.
func Wrap(kind Kind, message string, cause error) *CoreError {
	if cause == nil && message == "" {
		return nil
	}
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// Wrapf creates a CoreError wrapping cause with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain.
// Returns KindFatal for non-structured errors.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error chain contains a retryable error.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// HintsOf extracts suggested actions from an error chain.
func HintsOf(err error) []string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Hints
	}
	return nil
}
