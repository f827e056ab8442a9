package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Format(t *testing.T) {
	err := NewValidationError("code is required", "MISSING_CODE", nil)
	assert.Equal(t, "[MISSING_CODE] code is required", err.Error())

	wrapped := NewInternalError("corr-1", "publish failed", "PUBLISH_FAILED", errors.New("connection reset"))
	assert.Contains(t, wrapped.Error(), "PUBLISH_FAILED")
	assert.Contains(t, wrapped.Error(), "connection reset")
	assert.Equal(t, "corr-1", wrapped.CorrelationID)
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(Conflict, "already exists", "DUP", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewInternalError("", "db down", "DB", nil)))
	assert.False(t, IsTransient(NewValidationError("bad input", "BAD", nil)))
	assert.False(t, IsTransient(NewNotFoundError("no such stream", "NF", nil)))

	// Unclassified errors get the benefit of a retry.
	assert.True(t, IsTransient(errors.New("mystery")))
}

func TestIsTransient_WrappedAppError(t *testing.T) {
	inner := NewValidationError("bad", "BAD", nil)
	wrapped := fmt.Errorf("processing failed: %w", inner)
	assert.False(t, IsTransient(wrapped))
}

func TestSentinels(t *testing.T) {
	require.True(t, IsTimeout(fmt.Errorf("op: %w", ErrTimeout)))
	require.True(t, IsNotConnected(fmt.Errorf("op: %w", ErrNotConnected)))
	assert.False(t, IsTimeout(ErrNotConnected))
}
