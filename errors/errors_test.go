package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextualError_Error(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New("store", "Load", cause)

	assert.Equal(t, "[store] Load: connection refused", err.Error())
}

func TestContextualError_ErrorWithKind(t *testing.T) {
	err := New("engine", "Resolve", stderrors.New("boom")).WithKind(KindUpstream)

	assert.Equal(t, "[engine] Resolve (upstream): boom", err.Error())
}

func TestContextualError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := New("bus", "Publish", cause)

	assert.ErrorIs(t, err, cause)
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := New("chunker", "Split", stderrors.New("element too large")).WithKind(KindInput)
	wrapped := fmt.Errorf("preparing input: %w", inner)

	assert.Equal(t, KindInput, KindOf(wrapped))
	assert.True(t, IsInput(wrapped))
	assert.False(t, IsTimeout(wrapped))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestContextualError_WithDetails(t *testing.T) {
	err := New("engine", "dispatch", nil).WithDetails(map[string]any{"prompt": "compress"})

	assert.Equal(t, "compress", err.Details["prompt"])
}
