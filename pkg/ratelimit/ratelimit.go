// Package ratelimit provides adaptive, header-driven rate limiting for forge
// API calls. Each API gets its own limiter whose state mirrors the most
// recently observed RateLimit-* / X-RateLimit-* response headers, with a
// smooth throttle ramp as the remaining budget shrinks, retry-after handling
// for 429 responses, and exponential-backoff retry for transient failures.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/logger"
)

var log = logger.New("ratelimit:limiter")

// Common errors returned by the rate limiter
var (
	// ErrContextCanceled is returned when the context is canceled while waiting
	ErrContextCanceled = errors.New("context canceled while waiting for rate limit")
	// ErrInvalidPolicy is returned when the retry policy is invalid
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// APIKind identifies which forge API a limiter governs. The batch
// orchestrator shares one limiter per kind across all concurrent pipelines.
type APIKind string

const (
	// APISourceForge is the GitLab-shaped read API
	APISourceForge APIKind = "source-forge"
	// APIDestForge is the GitHub-shaped write API
	APIDestForge APIKind = "dest-forge"
)

// Policy holds retry and pacing configuration for one API.
type Policy struct {
	// MaxRetries is the maximum number of retry attempts on transient errors
	MaxRetries int
	// InitialBackoff is the initial backoff duration for exponential backoff
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// MinInterval is the minimum spacing between consecutive requests
	MinInterval time.Duration
	// ThrottleThreshold is the usage fraction above which throttling ramps up
	ThrottleThreshold float64
	// MaxThrottleDelay is the ceiling for the adaptive throttle delay
	MaxThrottleDelay time.Duration
}

// DefaultPolicies provides sensible defaults per API kind.
var DefaultPolicies = map[APIKind]Policy{
	APISourceForge: {
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		MinInterval:       100 * time.Millisecond,
		ThrottleThreshold: 0.7,
		MaxThrottleDelay:  5 * time.Second,
	},
	APIDestForge: {
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		MinInterval:       50 * time.Millisecond,
		ThrottleThreshold: 0.8,
		MaxThrottleDelay:  10 * time.Second,
	},
}

func validatePolicy(p Policy) error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", p.MaxRetries)
	}
	if p.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff multiplier must be >= 1.0, got %.2f", p.BackoffMultiplier)
	}
	if p.ThrottleThreshold <= 0 || p.ThrottleThreshold >= 1 {
		return fmt.Errorf("throttle threshold must be in (0,1), got %.2f", p.ThrottleThreshold)
	}
	return nil
}

// State is the exact view of the last-seen rate-limit headers for one API.
type State struct {
	Limit         int
	Remaining     int
	ResetAt       time.Time
	RetryAfter    time.Duration
	ThrottleDelay time.Duration
}

// Stats holds statistics about rate limiter usage
type Stats struct {
	mu                sync.RWMutex
	AllowedRequests   int64
	WaitingRequests   int64
	TotalWaitTime     time.Duration
	RetryAttempts     int64
	SuccessfulRetries int64
	FailedRetries     int64
}

// Clone returns a copy of the stats
func (s *Stats) Clone() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		AllowedRequests:   s.AllowedRequests,
		WaitingRequests:   s.WaitingRequests,
		TotalWaitTime:     s.TotalWaitTime,
		RetryAttempts:     s.RetryAttempts,
		SuccessfulRetries: s.SuccessfulRetries,
		FailedRetries:     s.FailedRetries,
	}
}

// AdaptiveLimiter paces requests against one forge API based on the rate-limit
// headers the API returns. A single instance is shared by every caller that
// talks to the same API, so concurrency does not multiply the request rate.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	kind     APIKind
	policy   Policy
	state    State
	lastReq  time.Time
	stats    Stats
	sleep    func(ctx context.Context, d time.Duration) error
	nowFunc  func() time.Time
}

// NewAdaptiveLimiter creates a limiter for the given API kind. A nil policy
// selects the default for the kind.
func NewAdaptiveLimiter(kind APIKind, policy *Policy) (*AdaptiveLimiter, error) {
	p := DefaultPolicies[kind]
	if policy != nil {
		p = *policy
	}
	if err := validatePolicy(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	log.Printf("Creating adaptive limiter: api=%s, min_interval=%v, threshold=%.2f",
		kind, p.MinInterval, p.ThrottleThreshold)

	return &AdaptiveLimiter{
		kind:    kind,
		policy:  p,
		sleep:   sleepCtx,
		nowFunc: time.Now,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	case <-t.C:
		return nil
	}
}

// Acquire blocks until a request may be issued. The sleep policy, in order:
// exhausted budget sleeps to reset, a pending retry-after is honored once,
// otherwise the larger of the throttle delay and the minimum inter-request
// spacing applies.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.nowFunc()
	var wait time.Duration
	switch {
	case l.state.Limit > 0 && l.state.Remaining == 0 && l.state.ResetAt.After(now):
		wait = l.state.ResetAt.Sub(now) + time.Second
		log.Printf("Budget exhausted: api=%s, sleeping %v until reset", l.kind, wait)
	case l.state.RetryAfter > 0:
		wait = l.state.RetryAfter
		l.state.RetryAfter = 0
		log.Printf("Honoring retry-after: api=%s, sleeping %v", l.kind, wait)
	default:
		wait = l.state.ThrottleDelay
		if !l.lastReq.IsZero() {
			if gap := l.policy.MinInterval - now.Sub(l.lastReq); gap > wait {
				wait = gap
			}
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		l.stats.mu.Lock()
		l.stats.WaitingRequests++
		l.stats.mu.Unlock()
		err := l.sleep(ctx, wait)
		l.stats.mu.Lock()
		l.stats.WaitingRequests--
		l.stats.TotalWaitTime += wait
		l.stats.mu.Unlock()
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastReq = l.nowFunc()
	l.mu.Unlock()
	l.stats.mu.Lock()
	l.stats.AllowedRequests++
	l.stats.mu.Unlock()
	return nil
}

// UpdateFromHeaders overwrites the limiter state from a response's rate-limit
// headers. Both the source-forge (RateLimit-*) and destination-forge
// (X-RateLimit-*) header families are recognized.
func (l *AdaptiveLimiter) UpdateFromHeaders(h http.Header) {
	limit, okLimit := headerInt(h, "RateLimit-Limit", "X-RateLimit-Limit")
	remaining, okRem := headerInt(h, "RateLimit-Remaining", "X-RateLimit-Remaining")
	reset, okReset := headerInt(h, "RateLimit-Reset", "X-RateLimit-Reset")

	l.mu.Lock()
	defer l.mu.Unlock()

	if okLimit {
		l.state.Limit = limit
	}
	if okRem {
		l.state.Remaining = remaining
	}
	if okReset {
		l.state.ResetAt = time.Unix(int64(reset), 0)
	}

	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			l.state.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	l.state.ThrottleDelay = l.computeThrottleLocked()
}

// computeThrottleLocked ramps the delay smoothly from zero at the threshold
// to MaxThrottleDelay at full usage.
func (l *AdaptiveLimiter) computeThrottleLocked() time.Duration {
	if l.state.Limit <= 0 {
		return 0
	}
	usage := 1.0 - float64(l.state.Remaining)/float64(l.state.Limit)
	if usage < l.policy.ThrottleThreshold {
		return 0
	}
	frac := (usage - l.policy.ThrottleThreshold) / (1.0 - l.policy.ThrottleThreshold)
	delay := time.Duration(frac * float64(l.policy.MaxThrottleDelay))
	if delay > l.policy.MaxThrottleDelay {
		delay = l.policy.MaxThrottleDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// RecordRateLimited registers a 429 response carrying the given retry-after.
func (l *AdaptiveLimiter) RecordRateLimited(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if retryAfter > 0 {
		l.state.RetryAfter = retryAfter
	}
}

// State returns a snapshot of the current limiter state.
func (l *AdaptiveLimiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a copy of the limiter statistics.
func (l *AdaptiveLimiter) Stats() Stats {
	return l.stats.Clone()
}

// Kind returns the API this limiter governs.
func (l *AdaptiveLimiter) Kind() APIKind {
	return l.kind
}

// Policy returns the limiter's retry policy.
func (l *AdaptiveLimiter) Policy() Policy {
	return l.policy
}

// Backoff calculates the backoff duration for a given retry attempt,
// capped at the policy maximum.
func (l *AdaptiveLimiter) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return l.policy.InitialBackoff
	}
	backoff := float64(l.policy.InitialBackoff) * math.Pow(l.policy.BackoffMultiplier, float64(attempt))
	if backoff > float64(l.policy.MaxBackoff) {
		return l.policy.MaxBackoff
	}
	return time.Duration(backoff)
}

func headerInt(h http.Header, names ...string) (int, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// WithRetry executes fn under the limiter's pacing and retry policy. A 429
// honors the server's retry-after before the next attempt; server, network,
// and timeout failures back off exponentially. Auth, permission, not-found,
// and validation failures are returned immediately.
func WithRetry[T any](ctx context.Context, l *AdaptiveLimiter, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= l.policy.MaxRetries; attempt++ {
		if err := l.Acquire(ctx); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				l.stats.mu.Lock()
				l.stats.SuccessfulRetries++
				l.stats.mu.Unlock()
				log.Printf("Request succeeded after retry: api=%s, attempt=%d", l.kind, attempt+1)
			}
			return result, nil
		}
		lastErr = err

		if !forgeerr.IsRetryable(err) {
			return zero, err
		}
		if attempt == l.policy.MaxRetries {
			break
		}

		l.stats.mu.Lock()
		l.stats.RetryAttempts++
		l.stats.mu.Unlock()

		var wait time.Duration
		if forgeerr.CategoryOf(err) == forgeerr.CategoryRateLimit {
			wait = forgeerr.RetryAfterOf(err)
			if wait <= 0 {
				wait = l.Backoff(attempt)
			}
			l.RecordRateLimited(0)
		} else {
			wait = l.Backoff(attempt)
		}

		log.Printf("Transient failure, backing off: api=%s, attempt=%d, backoff=%v, error=%v",
			l.kind, attempt+1, wait, err)
		if err := l.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	l.stats.mu.Lock()
	l.stats.FailedRetries++
	l.stats.mu.Unlock()
	return zero, fmt.Errorf("giving up after %d attempts: %w", l.policy.MaxRetries+1, lastErr)
}

// Group manages one shared limiter per API kind. The batch orchestrator
// constructs a single group and threads it into every concurrent pipeline.
type Group struct {
	mu       sync.RWMutex
	limiters map[APIKind]*AdaptiveLimiter
}

// NewGroup creates an empty limiter group.
func NewGroup() *Group {
	return &Group{limiters: make(map[APIKind]*AdaptiveLimiter)}
}

// GetOrCreate gets an existing limiter or creates a new one with the default
// policy for the kind.
func (g *Group) GetOrCreate(kind APIKind) (*AdaptiveLimiter, error) {
	g.mu.RLock()
	limiter, exists := g.limiters[kind]
	g.mu.RUnlock()
	if exists {
		return limiter, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if limiter, exists = g.limiters[kind]; exists {
		return limiter, nil
	}

	limiter, err := NewAdaptiveLimiter(kind, nil)
	if err != nil {
		return nil, err
	}
	g.limiters[kind] = limiter
	return limiter, nil
}

// AllStats returns statistics for all limiters in the group.
func (g *Group) AllStats() map[APIKind]Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := make(map[APIKind]Stats, len(g.limiters))
	for kind, limiter := range g.limiters {
		result[kind] = limiter.Stats()
	}
	return result
}
