package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
)

// newTestLimiter returns a limiter whose sleeps are recorded instead of slept.
func newTestLimiter(t *testing.T, kind APIKind) (*AdaptiveLimiter, *[]time.Duration) {
	t.Helper()
	l, err := NewAdaptiveLimiter(kind, nil)
	require.NoError(t, err)
	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return l, &slept
}

func TestNewAdaptiveLimiterInvalidPolicy(t *testing.T) {
	_, err := NewAdaptiveLimiter(APISourceForge, &Policy{MaxRetries: -1, BackoffMultiplier: 2, ThrottleThreshold: 0.5})
	require.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewAdaptiveLimiter(APISourceForge, &Policy{BackoffMultiplier: 0.5, ThrottleThreshold: 0.5})
	require.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewAdaptiveLimiter(APISourceForge, &Policy{BackoffMultiplier: 2, ThrottleThreshold: 1.5})
	require.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestUpdateFromHeadersSourceForge(t *testing.T) {
	l, _ := newTestLimiter(t, APISourceForge)

	h := http.Header{}
	h.Set("RateLimit-Limit", "600")
	h.Set("RateLimit-Remaining", "599")
	h.Set("RateLimit-Reset", "1700000000")
	l.UpdateFromHeaders(h)

	state := l.State()
	require.Equal(t, 600, state.Limit)
	require.Equal(t, 599, state.Remaining)
	require.Equal(t, time.Unix(1700000000, 0), state.ResetAt)
	require.Zero(t, state.ThrottleDelay)
}

func TestUpdateFromHeadersDestForge(t *testing.T) {
	l, _ := newTestLimiter(t, APIDestForge)

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5000")
	h.Set("X-RateLimit-Remaining", "4999")
	h.Set("X-RateLimit-Reset", "1700000000")
	l.UpdateFromHeaders(h)

	state := l.State()
	require.Equal(t, 5000, state.Limit)
	require.Equal(t, 4999, state.Remaining)
}

func TestThrottleRampsAboveThreshold(t *testing.T) {
	l, _ := newTestLimiter(t, APIDestForge) // threshold 0.8, max delay 10s

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100")
	h.Set("X-RateLimit-Remaining", "50")
	l.UpdateFromHeaders(h)
	require.Zero(t, l.State().ThrottleDelay, "usage below threshold should not throttle")

	h.Set("X-RateLimit-Remaining", "10") // usage 0.9, halfway between 0.8 and 1.0
	l.UpdateFromHeaders(h)
	delay := l.State().ThrottleDelay
	require.InDelta(t, float64(5*time.Second), float64(delay), float64(100*time.Millisecond))

	h.Set("X-RateLimit-Remaining", "0") // full usage hits the cap
	l.UpdateFromHeaders(h)
	require.Equal(t, 10*time.Second, l.State().ThrottleDelay)
}

func TestAcquireSleepsUntilReset(t *testing.T) {
	l, slept := newTestLimiter(t, APIDestForge)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1010")
	l.UpdateFromHeaders(h)

	require.NoError(t, l.Acquire(context.Background()))
	require.Len(t, *slept, 1)
	require.Equal(t, 11*time.Second, (*slept)[0], "sleeps reset-now plus one second")
}

func TestAcquireHonorsRetryAfterOnce(t *testing.T) {
	l, slept := newTestLimiter(t, APISourceForge)
	l.RecordRateLimited(2 * time.Second)

	require.NoError(t, l.Acquire(context.Background()))
	require.Len(t, *slept, 1)
	require.Equal(t, 2*time.Second, (*slept)[0])

	// The retry-after is cleared after being honored.
	require.Zero(t, l.State().RetryAfter)
}

func TestAcquireCanceledContext(t *testing.T) {
	l, err := NewAdaptiveLimiter(APISourceForge, nil)
	require.NoError(t, err)
	l.RecordRateLimited(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Acquire(ctx), ErrContextCanceled)
}

func TestBackoffCapped(t *testing.T) {
	l, _ := newTestLimiter(t, APISourceForge)
	require.Equal(t, time.Second, l.Backoff(0))
	require.Equal(t, 2*time.Second, l.Backoff(1))
	require.Equal(t, 4*time.Second, l.Backoff(2))
	require.Equal(t, time.Minute, l.Backoff(20), "backoff is capped at the policy maximum")
}

func TestWithRetryTransientThenSuccess(t *testing.T) {
	l, slept := newTestLimiter(t, APIDestForge)

	calls := 0
	result, err := WithRetry(context.Background(), l, func() (string, error) {
		calls++
		if calls == 1 {
			return "", forgeerr.New(forgeerr.CategoryServer, "bad gateway")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 2, calls)
	require.Contains(t, *slept, time.Second, "first retry backs off by the initial backoff")

	stats := l.Stats()
	require.Equal(t, int64(1), stats.RetryAttempts)
	require.Equal(t, int64(1), stats.SuccessfulRetries)
}

func TestWithRetryHonorsRetryAfter(t *testing.T) {
	l, slept := newTestLimiter(t, APIDestForge)

	calls := 0
	_, err := WithRetry(context.Background(), l, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, forgeerr.New(forgeerr.CategoryRateLimit, "slow down").WithRetryAfter(2 * time.Second)
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Contains(t, *slept, 2*time.Second)
}

func TestWithRetryPermanentErrorNotRetried(t *testing.T) {
	l, _ := newTestLimiter(t, APIDestForge)

	calls := 0
	_, err := WithRetry(context.Background(), l, func() (int, error) {
		calls++
		return 0, forgeerr.New(forgeerr.CategoryAuth, "bad credentials")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, forgeerr.CategoryAuth, forgeerr.CategoryOf(err))
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	l, _ := newTestLimiter(t, APIDestForge)

	calls := 0
	_, err := WithRetry(context.Background(), l, func() (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})
	require.Error(t, err)
	require.Equal(t, l.Policy().MaxRetries+1, calls)
	require.Equal(t, int64(1), l.Stats().FailedRetries)
}

func TestGroupSharesLimiterPerKind(t *testing.T) {
	g := NewGroup()
	a, err := g.GetOrCreate(APISourceForge)
	require.NoError(t, err)
	b, err := g.GetOrCreate(APISourceForge)
	require.NoError(t, err)
	require.Same(t, a, b)

	c, err := g.GetOrCreate(APIDestForge)
	require.NoError(t, err)
	require.NotSame(t, a, c)

	stats := g.AllStats()
	require.Len(t, stats, 2)
}
