package helper

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure into the taxonomy shared by all pipeline stages.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindEmptyDocument     Kind = "empty_document"
	KindEmbeddingService  Kind = "embedding_service"
	KindIndexUnavailable  Kind = "index_unavailable"
	KindNoRelevantContext Kind = "no_relevant_context"
	KindGenerationService Kind = "generation_service"
	KindTimeout           Kind = "timeout"
	KindConfigMismatch    Kind = "config_mismatch"
)

// Error wraps an underlying error with the operation that failed, an optional
// machine readable kind and a transient flag deciding retry eligibility.
type Error struct {
	Op        string
	Kind      Kind
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error in %s", e.Op)
	}
	return fmt.Sprintf("error in %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps an error with the context of the operation that failed.
func NewError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// NewKindError wraps a permanent error with an operation context and a kind.
func NewKindError(kind Kind, op string, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewTransientError wraps an error that is eligible for retry with backoff.
func NewTransientError(kind Kind, op string, err error) error {
	return &Error{Op: op, Kind: kind, Transient: true, Err: err}
}

// KindOf returns the first non-empty kind in the error chain.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Kind != "" {
			return e.Kind
		}
		err = e.Err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsTransient reports whether the error may be retried. Deadline expiry counts
// as transient so that a timed out external call goes through the retry policy
// of the component that issued it.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Transient {
			return true
		}
		err = e.Err
	}
	return false
}
