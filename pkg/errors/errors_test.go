package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := StoreUnavailable(context.Canceled)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))

	wrapped := fmt.Errorf("resolve: %w", Wrap(CodeStoreUnavailable, "store unavailable", ErrConflictRetryExhausted))
	assert.True(t, errors.Is(wrapped, ErrStoreUnavailable))
	assert.True(t, errors.Is(wrapped, ErrConflictRetryExhausted))
}

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidParticipants, http.StatusBadRequest},
		{ErrEmptyContent, http.StatusBadRequest},
		{ErrNotAParticipant, http.StatusForbidden},
		{ErrConversationNotFound, http.StatusNotFound},
		{ErrRateLimited, http.StatusTooManyRequests},
		{StoreUnavailable(errors.New("dial tcp")), http.StatusServiceUnavailable},
		{Timeout(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusFromError(tc.err), tc.err.Error())
	}
}

func TestNewAPIErrorHidesCause(t *testing.T) {
	apiErr := NewAPIError(StoreUnavailable(errors.New("password authentication failed for user app")))
	assert.Equal(t, CodeStoreUnavailable, apiErr.Code)
	assert.Equal(t, "store unavailable, please try again", apiErr.Message)
	assert.True(t, apiErr.Retryable)

	assert.False(t, NewAPIError(ErrEmptyContent).Retryable)
	assert.Equal(t, "internal server error", NewAPIError(errors.New("x")).Message)
}
