package vcs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Run("nil is ok", func(t *testing.T) {
		o := Classify(nil)
		assert.True(t, o.IsOk())
		assert.Equal(t, "ok", o.String())
	})

	t.Run("wrapped conflict", func(t *testing.T) {
		err := fmt.Errorf("failed to commit: %w", &ConflictError{Path: "src/a.txt", Detail: "out of date"})
		o := Classify(err)
		require.Equal(t, OutcomeConflict, o.Kind)
		assert.Equal(t, "src/a.txt", o.Path)
		assert.Equal(t, "out of date", o.Detail)
		assert.ErrorIs(t, o.Err, ErrConflicts)
	})

	t.Run("plain sentinel is an error", func(t *testing.T) {
		o := Classify(ErrConflicts)
		assert.Equal(t, OutcomeError, o.Kind)
	})

	t.Run("transport failure", func(t *testing.T) {
		cause := errors.New("connection reset")
		o := Classify(cause)
		assert.Equal(t, OutcomeError, o.Kind)
		assert.Same(t, cause, o.Err)
	})
}

func TestConflictOutcome(t *testing.T) {
	o := Conflict("docs", "tree conflict")
	assert.Equal(t, OutcomeConflict, o.Kind)
	assert.True(t, errors.Is(o.Err, ErrConflicts))
	assert.Equal(t, "conflict(docs)", o.String())
}

func TestErrorCategories(t *testing.T) {
	conflict := &ConflictError{Path: "a"}
	assert.True(t, IsUserActionRequired(conflict))
	assert.False(t, IsRetryable(conflict))
	assert.True(t, IsRetryable(fmt.Errorf("git push: %w", ErrTimeout)))
	assert.True(t, IsRetryable(ErrOutOfDate))
	assert.True(t, IsFatal(ErrVCSNotAvailable))
	assert.False(t, IsFatal(nil))
}
