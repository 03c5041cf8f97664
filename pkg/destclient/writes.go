package destclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/gitutil"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
)

// Repo is a destination repository.
type Repo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
	Description   string `json:"description"`
	HasWiki       bool   `json:"has_wiki"`
}

// CreateRepoParams configures repository creation.
type CreateRepoParams struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	HasIssues   bool   `json:"has_issues"`
	HasWiki     bool   `json:"has_wiki"`
}

// CreateRepo creates a repository inside the organization.
func (c *Client) CreateRepo(ctx context.Context, org string, params CreateRepoParams) (Repo, error) {
	var repo Repo
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("orgs/%s/repos", org), params, &repo)
	return repo, err
}

// GetRepo fetches a repository, used by idempotency probes and verify.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (Repo, error) {
	var repo Repo
	_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("repos/%s/%s", owner, name), nil, &repo)
	return repo, err
}

// ConfigureRepo updates default branch and topics after the initial push.
func (c *Client) ConfigureRepo(ctx context.Context, owner, repo, defaultBranch string, topics []string) error {
	if defaultBranch != "" {
		if _, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("repos/%s/%s", owner, repo),
			map[string]string{"default_branch": defaultBranch}, nil); err != nil {
			return err
		}
	}
	if len(topics) > 0 {
		if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("repos/%s/%s/topics", owner, repo),
			map[string]any{"names": topics}, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRepo removes a repository. Used only by rollback.
func (c *Client) DeleteRepo(ctx context.Context, owner, name string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("repos/%s/%s", owner, name), nil, nil)
	return err
}

// PushBundle clones the exported bundle into a scratch mirror and pushes
// every ref to the destination repository.
func (c *Client) PushBundle(ctx context.Context, bundlePath, owner, name string) error {
	scratch, err := os.MkdirTemp("", "ghmigrate-push-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	mirror := scratch + "/mirror.git"
	if err := gitutil.CloneFromBundle(ctx, bundlePath, mirror, constants.CloneTimeout); err != nil {
		return err
	}

	remote := fmt.Sprintf("https://%s/%s/%s.git", c.host, owner, name)
	authURL, err := gitutil.AuthenticatedURL(remote, "x-access-token", c.token)
	if err != nil {
		return err
	}
	return gitutil.PushMirror(ctx, mirror, authURL, constants.CloneTimeout, c.token)
}

// PushWiki pushes a wiki mirror to the destination's wiki repository.
func (c *Client) PushWiki(ctx context.Context, wikiDir, owner, name string) error {
	remote := fmt.Sprintf("https://%s/%s/%s.wiki.git", c.host, owner, name)
	authURL, err := gitutil.AuthenticatedURL(remote, "x-access-token", c.token)
	if err != nil {
		return err
	}
	return gitutil.PushMirror(ctx, wikiDir, authURL, constants.WikiCloneTimeout, c.token)
}

// Label is a destination label.
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// CreateLabel creates a label. Color carries no leading '#'.
func (c *Client) CreateLabel(ctx context.Context, owner, repo, name, color, description string) (Label, error) {
	var label Label
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/labels", owner, repo),
		map[string]string{"name": name, "color": color, "description": description}, &label)
	return label, err
}

// DeleteLabel removes a label. Used only by rollback.
func (c *Client) DeleteLabel(ctx context.Context, owner, repo, name string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/labels/%s", owner, repo, url.PathEscape(name)), nil, nil)
	return err
}

// Milestone is a destination milestone.
type Milestone struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// CreateMilestoneParams configures milestone creation.
type CreateMilestoneParams struct {
	Title       string `json:"title"`
	State       string `json:"state,omitempty"`
	Description string `json:"description,omitempty"`
	DueOn       string `json:"due_on,omitempty"`
}

// CreateMilestone creates a milestone.
func (c *Client) CreateMilestone(ctx context.Context, owner, repo string, params CreateMilestoneParams) (Milestone, error) {
	var m Milestone
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/milestones", owner, repo), params, &m)
	return m, err
}

// DeleteMilestone removes a milestone. Used only by rollback.
func (c *Client) DeleteMilestone(ctx context.Context, owner, repo string, number int) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/milestones/%d", owner, repo, number), nil, nil)
	return err
}

// Issue is a destination issue.
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// CreateIssueParams configures issue creation.
type CreateIssueParams struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Milestone int      `json:"milestone,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, params CreateIssueParams) (Issue, error) {
	var issue Issue
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/issues", owner, repo), params, &issue)
	return issue, err
}

// CloseIssue closes an issue, used when the source issue was closed and by
// rollback tombstones.
func (c *Client) CloseIssue(ctx context.Context, owner, repo string, number int) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("repos/%s/%s/issues/%d", owner, repo, number),
		map[string]string{"state": "closed"}, nil)
	return err
}

// CreateIssueComment adds a comment to an issue or pull request.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, repo, number),
		map[string]string{"body": body}, nil)
	return err
}

// PullRequest is a destination pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// CreatePullRequestParams configures pull request creation.
type CreatePullRequestParams struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft,omitempty"`
}

// CreatePullRequest opens a pull request. Both branches must already exist
// on the destination, which is why pr_create depends on repo_push.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, params CreatePullRequestParams) (PullRequest, error) {
	var pr PullRequest
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/pulls", owner, repo), params, &pr)
	return pr, err
}

// ClosePullRequest closes a pull request.
func (c *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("repos/%s/%s/pulls/%d", owner, repo, number),
		map[string]string{"state": "closed"}, nil)
	return err
}

// Release is a destination release.
type Release struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// CreateReleaseParams configures release creation.
type CreateReleaseParams struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name,omitempty"`
	Body    string `json:"body,omitempty"`
	Draft   bool   `json:"draft,omitempty"`
}

// CreateRelease creates a release for an existing tag.
func (c *Client) CreateRelease(ctx context.Context, owner, repo string, params CreateReleaseParams) (Release, error) {
	var rel Release
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/releases", owner, repo), params, &rel)
	return rel, err
}

// DeleteRelease removes a release. Used only by rollback.
func (c *Client) DeleteRelease(ctx context.Context, owner, repo string, releaseID int64) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/releases/%d", owner, repo, releaseID), nil, nil)
	return err
}

// UploadReleaseAsset uploads one asset file to a release. The payload is the
// raw file body, not JSON, so this bypasses the JSON request helper.
func (c *Client) UploadReleaseAsset(ctx context.Context, owner, repo string, releaseID int64, assetName, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return forgeerr.Wrap(forgeerr.CategoryValidation, "reading release asset", err)
	}
	uploadHost := "uploads." + c.host
	if c.host != "github.com" {
		uploadHost = c.host
	}
	uploadURL := fmt.Sprintf("https://%s/repos/%s/%s/releases/%d/assets?name=%s",
		uploadHost, owner, repo, releaseID, url.QueryEscape(assetName))

	_, err = ratelimit.WithRetry(ctx, c.limiter, func() (struct{}, error) {
		resp, reqErr := c.rest.RequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
		if reqErr != nil {
			return struct{}{}, classifyError(reqErr, "upload release asset")
		}
		defer resp.Body.Close()
		c.limiter.UpdateFromHeaders(resp.Header)
		io.Copy(io.Discard, resp.Body)
		return struct{}{}, nil
	})
	return err
}

// Environment operations.

// CreateEnvironment creates (or updates) a deployment environment.
func (c *Client) CreateEnvironment(ctx context.Context, owner, repo, name string) error {
	_, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/environments/%s", owner, repo, url.PathEscape(name)),
		map[string]any{}, nil)
	return err
}

// DeleteEnvironment removes an environment. Used only by rollback.
func (c *Client) DeleteEnvironment(ctx context.Context, owner, repo, name string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/environments/%s", owner, repo, url.PathEscape(name)), nil, nil)
	return err
}

// SetVariable creates a repository-level Actions variable.
func (c *Client) SetVariable(ctx context.Context, owner, repo, name, value string) error {
	_, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("repos/%s/%s/actions/variables", owner, repo),
		map[string]string{"name": name, "value": value}, nil)
	return err
}

// Webhook is a destination webhook.
type Webhook struct {
	ID     int64    `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

// CreateWebhookParams configures webhook creation.
type CreateWebhookParams struct {
	URL         string
	ContentType string
	Secret      string
	Events      []string
	Active      bool
	InsecureSSL bool
}

// CreateWebhook creates a repository webhook.
func (c *Client) CreateWebhook(ctx context.Context, owner, repo string, params CreateWebhookParams) (Webhook, error) {
	contentType := params.ContentType
	if contentType == "" {
		contentType = "json"
	}
	insecure := "0"
	if params.InsecureSSL {
		insecure = "1"
	}
	config := map[string]string{
		"url":          params.URL,
		"content_type": contentType,
		"insecure_ssl": insecure,
	}
	if params.Secret != "" {
		config["secret"] = params.Secret
	}
	var hook Webhook
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("repos/%s/%s/hooks", owner, repo),
		map[string]any{"config": config, "events": params.Events, "active": params.Active}, &hook)
	return hook, err
}

// UpdateWebhookConfig patches a webhook's delivery configuration.
func (c *Client) UpdateWebhookConfig(ctx context.Context, owner, repo string, hookID int64, url string, insecureSSL bool) error {
	insecure := "0"
	if insecureSSL {
		insecure = "1"
	}
	_, err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("repos/%s/%s/hooks/%d/config", owner, repo, hookID),
		map[string]string{"url": url, "insecure_ssl": insecure}, nil)
	return err
}

// DeleteWebhook removes a webhook. Used only by rollback.
func (c *Client) DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/hooks/%d", owner, repo, hookID), nil, nil)
	return err
}

// BranchProtectionParams is the destination branch-protection payload.
type BranchProtectionParams struct {
	RequiredStatusChecks       *RequiredStatusChecks       `json:"required_status_checks"`
	EnforceAdmins              bool                        `json:"enforce_admins"`
	RequiredPullRequestReviews *RequiredPullRequestReviews `json:"required_pull_request_reviews"`
	Restrictions               *Restrictions               `json:"restrictions"`
	AllowForcePushes           bool                        `json:"allow_force_pushes"`
	AllowDeletions             bool                        `json:"allow_deletions"`
}

// RequiredStatusChecks names the CI contexts that must pass before merge.
type RequiredStatusChecks struct {
	Strict   bool     `json:"strict"`
	Contexts []string `json:"contexts"`
}

// RequiredPullRequestReviews configures review requirements.
type RequiredPullRequestReviews struct {
	RequiredApprovingReviewCount int  `json:"required_approving_review_count"`
	RequireCodeOwnerReviews      bool `json:"require_code_owner_reviews"`
}

// Restrictions limits who can push to the branch.
type Restrictions struct {
	Users []string `json:"users"`
	Teams []string `json:"teams"`
}

// SetBranchProtection applies protection to one branch.
func (c *Client) SetBranchProtection(ctx context.Context, owner, repo, branch string, params BranchProtectionParams) error {
	_, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/branches/%s/protection", owner, repo, url.PathEscape(branch)),
		params, nil)
	return err
}

// RemoveBranchProtection deletes protection from a branch. Used only by rollback.
func (c *Client) RemoveBranchProtection(ctx context.Context, owner, repo, branch string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/branches/%s/protection", owner, repo, url.PathEscape(branch)), nil, nil)
	return err
}

// AddCollaborator invites a user with the given permission
// (pull, triage, push, maintain, admin).
func (c *Client) AddCollaborator(ctx context.Context, owner, repo, username, permission string) error {
	_, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/collaborators/%s", owner, repo, username),
		map[string]string{"permission": permission}, nil)
	return err
}

// RemoveCollaborator removes a collaborator. Used only by rollback.
func (c *Client) RemoveCollaborator(ctx context.Context, owner, repo, username string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("repos/%s/%s/collaborators/%s", owner, repo, username), nil, nil)
	return err
}

// CreateTeamParams configures organization team creation.
type CreateTeamParams struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Privacy     string `json:"privacy,omitempty"`
}

// Team is a destination organization team.
type Team struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// CreateTeam creates an organization team, used when approval rules map to
// CODEOWNERS team entries.
func (c *Client) CreateTeam(ctx context.Context, org string, params CreateTeamParams) (Team, error) {
	var team Team
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("orgs/%s/teams", org), params, &team)
	return team, err
}

// CreateOrUpdateFile commits one file through the contents API. Content is
// base64-encoded as the API requires.
func (c *Client) CreateOrUpdateFile(ctx context.Context, owner, repo, path, message string, content []byte, branch string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if branch != "" {
		body["branch"] = branch
	}
	_, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, url.PathEscape(path)), body, nil)
	return err
}
