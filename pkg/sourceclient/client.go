// Package sourceclient is the read client for the GitLab-shaped source forge.
// It exposes paginated readers as lazy iterators, feature probes, attachment
// downloads, and git export helpers. Every request is gated by the shared
// adaptive rate limiter and classified into the forge error taxonomy.
package sourceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/httputil"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
)

var log = logger.New("sourceclient:client")

// Client talks to one source forge instance.
type Client struct {
	baseURL  string
	token    string
	http     *httputil.Client
	limiter  *ratelimit.AdaptiveLimiter
	pageSize int
}

// Options configures a source client.
type Options struct {
	// Timeout overrides the default per-request timeout.
	Timeout time.Duration
	// PageSize overrides the per-page item count.
	PageSize int
}

// New creates a source client. The limiter is shared with every other
// consumer of the same API so concurrency cannot multiply the request rate.
func New(baseURL, token string, limiter *ratelimit.AdaptiveLimiter, opts *Options) *Client {
	timeout := constants.DefaultHTTPTimeout
	pageSize := constants.DefaultPageSize
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.PageSize > 0 {
			pageSize = opts.PageSize
		}
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		http:     httputil.NewClient(&httputil.ClientOptions{Timeout: timeout}),
		limiter:  limiter,
		pageSize: pageSize,
	}
}

// Token returns the configured access token, for git URL injection.
func (c *Client) Token() string { return c.token }

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// apiURL builds an absolute API v4 URL from a path and query values.
func (c *Client) apiURL(path string, query url.Values) string {
	u := c.baseURL + "/api/v4" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// get performs one rate-limited, retried GET and returns the body and
// response headers. Errors are classified into the forge taxonomy.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, http.Header, error) {
	type result struct {
		body   []byte
		header http.Header
	}
	res, err := ratelimit.WithRetry(ctx, c.limiter, func() (result, error) {
		req, err := c.http.NewRequest(http.MethodGet, c.apiURL(path, query))
		if err != nil {
			return result{}, forgeerr.Wrap(forgeerr.CategoryValidation, "building request", err)
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)
		req = req.WithContext(ctx)

		resp, err := c.http.Do(req)
		if err != nil {
			return result{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.Header)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, forgeerr.Wrap(forgeerr.CategoryNetwork, "reading response body", err)
		}
		if resp.StatusCode >= 400 {
			return result{}, classifyStatus(resp, path, body)
		}
		return result{body: body, header: resp.Header}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.body, res.header, nil
}

// classifyStatus maps an HTTP error response into the taxonomy, attaching
// retry-after on 429.
func classifyStatus(resp *http.Response, path string, body []byte) error {
	fe := forgeerr.FromStatusCode(resp.StatusCode, "GET "+path, truncateBody(body))
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			fe = fe.WithRetryAfter(time.Duration(secs) * time.Second)
		}
	}
	return fe
}

// classifyTransportError maps failures below the HTTP layer: deadline
// expiry is a timeout, everything else is a network failure.
func classifyTransportError(err error) error {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return forgeerr.Wrap(forgeerr.CategoryTimeout, "request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return forgeerr.Wrap(forgeerr.CategoryTimeout, "request timed out", err)
	}
	return forgeerr.Wrap(forgeerr.CategoryNetwork, "request failed", err)
}

func truncateBody(body []byte) string {
	const max = 500
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// getJSON decodes a single-object response.
func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var out T
	body, _, err := c.get(ctx, path, query)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, forgeerr.Wrap(forgeerr.CategoryUnknown, "decoding response for "+path, err)
	}
	return out, nil
}

// Seq is a lazy sequence of items; iteration stops at the first error,
// which the consumer receives as the final element's err.
type Seq[T any] func(yield func(T, error) bool)

// paginate walks the source forge's X-Next-Page cursor, yielding one item at
// a time. A nil transform yields decoded items directly.
func paginate[T any](ctx context.Context, c *Client, path string, query url.Values) Seq[T] {
	return func(yield func(T, error) bool) {
		page := "1"
		for page != "" {
			q := url.Values{}
			for k, v := range query {
				q[k] = v
			}
			q.Set("per_page", strconv.Itoa(c.pageSize))
			q.Set("page", page)

			body, header, err := c.get(ctx, path, q)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}

			var items []T
			if err := json.Unmarshal(body, &items); err != nil {
				var zero T
				yield(zero, forgeerr.Wrap(forgeerr.CategoryUnknown, "decoding page for "+path, err))
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			page = header.Get("X-Next-Page")
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq Seq[T]) ([]T, error) {
	var items []T
	var firstErr error
	seq(func(item T, err error) bool {
		if err != nil {
			firstErr = err
			return false
		}
		items = append(items, item)
		return true
	})
	return items, firstErr
}

// projectPath is the URL-encoded path segment for a project id.
func projectPath(projectID int) string {
	return "/projects/" + strconv.Itoa(projectID)
}

// GetProject fetches a single project by numeric id.
func (c *Client) GetProject(ctx context.Context, projectID int) (Project, error) {
	return getJSON[Project](ctx, c, projectPath(projectID), nil)
}

// GetProjectByPath fetches a single project by its full path.
func (c *Client) GetProjectByPath(ctx context.Context, path string) (Project, error) {
	return getJSON[Project](ctx, c, "/projects/"+url.PathEscape(path), nil)
}

// Projects streams every project in a group (including subgroups), or every
// accessible project when groupPath is empty.
func (c *Client) Projects(ctx context.Context, groupPath string) Seq[Project] {
	if groupPath == "" {
		return paginate[Project](ctx, c, "/projects", url.Values{"membership": {"true"}})
	}
	return paginate[Project](ctx, c, "/groups/"+url.PathEscape(groupPath)+"/projects",
		url.Values{"include_subgroups": {"true"}})
}

// Branches streams a project's branches.
func (c *Client) Branches(ctx context.Context, projectID int) Seq[Branch] {
	return paginate[Branch](ctx, c, projectPath(projectID)+"/repository/branches", nil)
}

// Tags streams a project's tags.
func (c *Client) Tags(ctx context.Context, projectID int) Seq[Tag] {
	return paginate[Tag](ctx, c, projectPath(projectID)+"/repository/tags", nil)
}

// Commits streams a project's commits on the default branch.
func (c *Client) Commits(ctx context.Context, projectID int) Seq[Commit] {
	return paginate[Commit](ctx, c, projectPath(projectID)+"/repository/commits", nil)
}

// Issues streams a project's issues, oldest first so checkpoint resume can
// skip by iid.
func (c *Client) Issues(ctx context.Context, projectID int) Seq[Issue] {
	return paginate[Issue](ctx, c, projectPath(projectID)+"/issues",
		url.Values{"sort": {"asc"}, "order_by": {"created_at"}, "scope": {"all"}})
}

// IssueNotes streams the comments on one issue.
func (c *Client) IssueNotes(ctx context.Context, projectID, issueIID int) Seq[Note] {
	return paginate[Note](ctx, c,
		fmt.Sprintf("%s/issues/%d/notes", projectPath(projectID), issueIID),
		url.Values{"sort": {"asc"}})
}

// MergeRequests streams a project's merge requests, oldest first.
func (c *Client) MergeRequests(ctx context.Context, projectID int) Seq[MergeRequest] {
	return paginate[MergeRequest](ctx, c, projectPath(projectID)+"/merge_requests",
		url.Values{"sort": {"asc"}, "order_by": {"created_at"}, "scope": {"all"}})
}

// MergeRequestDiscussions streams the discussions on one merge request.
func (c *Client) MergeRequestDiscussions(ctx context.Context, projectID, mrIID int) Seq[Discussion] {
	return paginate[Discussion](ctx, c,
		fmt.Sprintf("%s/merge_requests/%d/discussions", projectPath(projectID), mrIID), nil)
}

// MergeRequestApprovals fetches the approval state of one merge request.
func (c *Client) MergeRequestApprovals(ctx context.Context, projectID, mrIID int) (Approvals, error) {
	return getJSON[Approvals](ctx, c,
		fmt.Sprintf("%s/merge_requests/%d/approvals", projectPath(projectID), mrIID), nil)
}

// ApprovalRules fetches the project-level approval rules.
func (c *Client) ApprovalRules(ctx context.Context, projectID int) ([]ApprovalRule, error) {
	return getJSON[[]ApprovalRule](ctx, c, projectPath(projectID)+"/approval_rules", nil)
}

// Labels streams a project's labels.
func (c *Client) Labels(ctx context.Context, projectID int) Seq[Label] {
	return paginate[Label](ctx, c, projectPath(projectID)+"/labels", nil)
}

// Milestones streams a project's milestones.
func (c *Client) Milestones(ctx context.Context, projectID int) Seq[Milestone] {
	return paginate[Milestone](ctx, c, projectPath(projectID)+"/milestones", nil)
}

// Releases streams a project's releases with asset links.
func (c *Client) Releases(ctx context.Context, projectID int) Seq[Release] {
	return paginate[Release](ctx, c, projectPath(projectID)+"/releases", nil)
}

// Packages streams a project's package-registry entries.
func (c *Client) Packages(ctx context.Context, projectID int) Seq[Package] {
	return paginate[Package](ctx, c, projectPath(projectID)+"/packages", nil)
}

// Webhooks streams a project's webhooks.
func (c *Client) Webhooks(ctx context.Context, projectID int) Seq[Webhook] {
	return paginate[Webhook](ctx, c, projectPath(projectID)+"/hooks", nil)
}

// Schedules streams a project's pipeline schedules.
func (c *Client) Schedules(ctx context.Context, projectID int) Seq[Schedule] {
	return paginate[Schedule](ctx, c, projectPath(projectID)+"/pipeline_schedules", nil)
}

// Environments streams a project's CI environments.
func (c *Client) Environments(ctx context.Context, projectID int) Seq[Environment] {
	return paginate[Environment](ctx, c, projectPath(projectID)+"/environments", nil)
}

// Variables streams a project's CI variables. Masked variables carry no value.
func (c *Client) Variables(ctx context.Context, projectID int) Seq[Variable] {
	return paginate[Variable](ctx, c, projectPath(projectID)+"/variables", nil)
}

// Pipelines streams a project's CI pipeline history, newest first.
func (c *Client) Pipelines(ctx context.Context, projectID int) Seq[Pipeline] {
	return paginate[Pipeline](ctx, c, projectPath(projectID)+"/pipelines",
		url.Values{"order_by": {"id"}, "sort": {"desc"}})
}

// ProtectedBranches streams a project's branch protection rules.
func (c *Client) ProtectedBranches(ctx context.Context, projectID int) Seq[ProtectedBranch] {
	return paginate[ProtectedBranch](ctx, c, projectPath(projectID)+"/protected_branches", nil)
}

// ProtectedTags streams a project's tag protection rules.
func (c *Client) ProtectedTags(ctx context.Context, projectID int) Seq[ProtectedTag] {
	return paginate[ProtectedTag](ctx, c, projectPath(projectID)+"/protected_tags", nil)
}

// DeployKeys streams a project's deploy keys.
func (c *Client) DeployKeys(ctx context.Context, projectID int) Seq[DeployKey] {
	return paginate[DeployKey](ctx, c, projectPath(projectID)+"/deploy_keys", nil)
}

// Members streams a project's members, including inherited ones.
func (c *Client) Members(ctx context.Context, projectID int) Seq[Member] {
	return paginate[Member](ctx, c, projectPath(projectID)+"/members/all", nil)
}

// FileContent fetches the raw content of a file at the given ref. A 404
// yields a not_found error the caller can treat as "file absent".
func (c *Client) FileContent(ctx context.Context, projectID int, filePath, ref string) ([]byte, error) {
	path := projectPath(projectID) + "/repository/files/" + url.PathEscape(filePath) + "/raw"
	body, _, err := c.get(ctx, path, url.Values{"ref": {ref}})
	return body, err
}
