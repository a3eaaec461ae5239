package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewRetrievalError(ReasonFetchFailed, "source fetch failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "source fetch failed")
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, IsCategory(err, CategoryRetrieval))
	assert.False(t, IsCategory(err, CategoryRender))
	assert.False(t, err.Retryable)
}

func TestTimeoutErrorsAreRetryable(t *testing.T) {
	err := NewTimeoutError(CategoryRender, "render deadline exceeded", nil)
	assert.True(t, err.Retryable)
	assert.Equal(t, ReasonTimeout, err.Reason)
}

func TestAsError(t *testing.T) {
	typed := NewValidationError(ReasonInvalidReference, "bad reference")
	wrapped := fmt.Errorf("handling request: %w", typed)
	require.Same(t, typed, AsError(wrapped))

	// Untyped errors fold into the cache category fallback.
	plain := AsError(errors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, CategoryCache, plain.Category)
}
