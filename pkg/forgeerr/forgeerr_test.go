package forgeerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected Category
	}{
		{"unauthorized", http.StatusUnauthorized, CategoryAuth},
		{"forbidden", http.StatusForbidden, CategoryPermission},
		{"not found", http.StatusNotFound, CategoryNotFound},
		{"too many requests", http.StatusTooManyRequests, CategoryRateLimit},
		{"unprocessable", http.StatusUnprocessableEntity, CategoryValidation},
		{"bad gateway", http.StatusBadGateway, CategoryServer},
		{"bad request", http.StatusBadRequest, CategoryValidation},
		{"teapot", http.StatusTeapot, CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatusCode(tt.status, "list issues", "body")
			require.Equal(t, tt.expected, err.Category)
			require.Equal(t, tt.status, err.Code)
			require.NotEmpty(t, err.Suggestion)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, New(CategoryRateLimit, "slow down").IsRetryable())
	require.True(t, New(CategoryServer, "oops").IsRetryable())
	require.True(t, New(CategoryNetwork, "unreachable").IsRetryable())
	require.True(t, New(CategoryTimeout, "deadline").IsRetryable())

	require.False(t, New(CategoryAuth, "bad token").IsRetryable())
	require.False(t, New(CategoryPermission, "no access").IsRetryable())
	require.False(t, New(CategoryNotFound, "gone").IsRetryable())
	require.False(t, New(CategoryValidation, "bad input").IsRetryable())
}

func TestIsRetryableWrapped(t *testing.T) {
	inner := New(CategoryAuth, "bad token")
	wrapped := fmt.Errorf("exporting issues: %w", inner)
	require.False(t, IsRetryable(wrapped))

	// Raw errors below the HTTP layer are treated as transient network failures.
	require.True(t, IsRetryable(errors.New("connection reset by peer")))
	require.False(t, IsRetryable(nil))
}

func TestCategoryOf(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", New(CategoryNotFound, "missing"))
	require.Equal(t, CategoryNotFound, CategoryOf(err))
	require.Equal(t, CategoryUnknown, CategoryOf(errors.New("plain")))
}

func TestRetryAfterOf(t *testing.T) {
	err := New(CategoryRateLimit, "slow down").WithRetryAfter(2 * time.Second)
	wrapped := fmt.Errorf("create issue: %w", err)
	require.Equal(t, 2*time.Second, RetryAfterOf(wrapped))
	require.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CategoryNetwork, "request failed", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, cause.Error(), err.Technical)
}
