package helper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	t.Run("NewError wraps with operation context", func(t *testing.T) {
		inner := fmt.Errorf("connection refused")
		err := NewError("open database", inner)
		assert.EqualError(t, err, "error in open database: connection refused", "Expected error message to carry the operation")
		assert.ErrorIs(t, err, inner, "Expected wrapped error to be reachable via errors.Is")
	})

	t.Run("NewKindError carries its kind", func(t *testing.T) {
		err := NewKindError(KindUnsupportedFormat, "load file", fmt.Errorf("no extractor for .xyz"))
		assert.Equal(t, KindUnsupportedFormat, KindOf(err), "Expected KindOf to return the wrapped kind")
		assert.True(t, IsKind(err, KindUnsupportedFormat), "Expected IsKind to match the wrapped kind")
		assert.False(t, IsKind(err, KindEmptyDocument), "Expected IsKind to not match a different kind")
	})

	t.Run("KindOf finds the first kind through plain wrappers", func(t *testing.T) {
		inner := NewKindError(KindIndexUnavailable, "query chunks", fmt.Errorf("dial tcp"))
		outer := NewError("ask", inner)
		assert.Equal(t, KindIndexUnavailable, KindOf(outer), "Expected KindOf to walk past kindless wrappers")
	})

	t.Run("KindOf of an unclassified error is empty", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(errors.New("plain")), "Expected no kind for a plain error")
		assert.Equal(t, Kind(""), KindOf(nil), "Expected no kind for nil")
	})
}

func TestTransience(t *testing.T) {
	t.Run("Transient errors are retryable", func(t *testing.T) {
		err := NewTransientError(KindEmbeddingService, "embed batch", fmt.Errorf("429 too many requests"))
		assert.True(t, IsTransient(err), "Expected a transient error to be retryable")
	})

	t.Run("Kind errors are permanent by default", func(t *testing.T) {
		err := NewKindError(KindEmbeddingService, "embed batch", fmt.Errorf("401 unauthorized"))
		assert.False(t, IsTransient(err), "Expected a permanent error to not be retryable")
	})

	t.Run("Transience survives outer wrapping", func(t *testing.T) {
		inner := NewTransientError(KindIndexUnavailable, "upsert chunk", fmt.Errorf("connection reset"))
		outer := NewError("ingest file", inner)
		assert.True(t, IsTransient(outer), "Expected transience to be visible through wrappers")
	})

	t.Run("Deadline expiry is transient and maps to timeout", func(t *testing.T) {
		err := NewError("embed batch", context.DeadlineExceeded)
		assert.True(t, IsTransient(err), "Expected deadline expiry to count as transient")
		assert.Equal(t, KindTimeout, KindOf(err), "Expected deadline expiry to map to the timeout kind")
	})

	t.Run("Cancellation is not transient", func(t *testing.T) {
		err := NewError("embed batch", context.Canceled)
		assert.False(t, IsTransient(err), "Expected cancellation to not be retryable")
	})
}
