// Package destclient is the write client for the GitHub-shaped destination
// forge, built on go-gh's REST client. It covers every write the apply stage
// performs plus the read surface the verify stage compares against. All calls
// are gated by the shared adaptive rate limiter and classified into the forge
// error taxonomy.
package destclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cli/go-gh/v2/pkg/api"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
)

var log = logger.New("destclient:client")

// Client talks to one destination forge host.
type Client struct {
	host    string
	token   string
	rest    *api.RESTClient
	limiter *ratelimit.AdaptiveLimiter
}

// Options configures a destination client.
type Options struct {
	// Timeout overrides the default per-request timeout.
	Timeout time.Duration
}

// New creates a destination client for the given host and token.
func New(host, token string, limiter *ratelimit.AdaptiveLimiter, opts *Options) (*Client, error) {
	timeout := constants.DefaultHTTPTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	rest, err := api.NewRESTClient(api.ClientOptions{
		Host:      host,
		AuthToken: token,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating REST client: %w", err)
	}
	return &Client{host: host, token: token, rest: rest, limiter: limiter}, nil
}

// Token returns the configured token, for git URL injection.
func (c *Client) Token() string { return c.token }

// Host returns the destination host.
func (c *Client) Host() string { return c.host }

// RemainingBudget reports the most recently observed remaining request count,
// or -1 if no response has been seen yet.
func (c *Client) RemainingBudget() int {
	state := c.limiter.State()
	if state.Limit == 0 {
		return -1
	}
	return state.Remaining
}

// WaitForBudget sleeps until the rate budget recovers when the remaining
// count has dropped below the floor. Used by the apply loop between actions.
func (c *Client) WaitForBudget(ctx context.Context, floor int) error {
	state := c.limiter.State()
	if state.Limit == 0 || state.Remaining >= floor {
		return nil
	}
	wait := time.Until(state.ResetAt) + time.Second
	if wait <= 0 {
		return nil
	}
	log.Printf("Rate budget low (%d remaining), sleeping %v until reset", state.Remaining, wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do performs one rate-limited, retried request. A non-nil out is decoded
// from the response body. The returned header is from the final attempt.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (http.Header, error) {
	return ratelimit.WithRetry(ctx, c.limiter, func() (http.Header, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, forgeerr.Wrap(forgeerr.CategoryValidation, "encoding request body", err)
			}
			reader = bytes.NewReader(payload)
		}

		resp, err := c.rest.RequestWithContext(ctx, method, path, reader)
		if err != nil {
			return nil, classifyError(err, method+" "+path)
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.Header)

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
				return nil, forgeerr.Wrap(forgeerr.CategoryUnknown, "decoding response for "+path, err)
			}
		} else {
			io.Copy(io.Discard, resp.Body)
		}
		return resp.Header, nil
	})
}

// classifyError maps go-gh failures into the taxonomy. HTTP errors carry a
// status code; anything else is a transport-level failure.
func classifyError(err error, op string) error {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		fe := forgeerr.FromStatusCode(httpErr.StatusCode, op, httpErr.Message)
		if httpErr.StatusCode == http.StatusTooManyRequests && httpErr.Headers != nil {
			if secs, convErr := strconv.Atoi(httpErr.Headers.Get("Retry-After")); convErr == nil && secs > 0 {
				fe = fe.WithRetryAfter(time.Duration(secs) * time.Second)
			}
		}
		return fe
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return forgeerr.Wrap(forgeerr.CategoryTimeout, op+" timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return forgeerr.Wrap(forgeerr.CategoryTimeout, op+" timed out", err)
	}
	return forgeerr.Wrap(forgeerr.CategoryNetwork, op+" failed", err)
}

var lastPagePattern = regexp.MustCompile(`[?&]page=(\d+)>; rel="last"`)

// lastPageFromLink extracts the final page number from a Link header, which
// gives a total count without fetching every page: total ≈ (last-1)*perPage
// + len(lastPage). Returns 1 when no rel="last" is present.
func lastPageFromLink(link string) int {
	m := lastPagePattern.FindStringSubmatch(link)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}
