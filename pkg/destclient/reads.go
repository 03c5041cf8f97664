package destclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
)

// decodeContent decodes a contents-API body; base64 bodies arrive with
// embedded newlines.
func decodeContent(content, encoding string) ([]byte, error) {
	if encoding != "base64" {
		return []byte(content), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.CategoryUnknown, "decoding file content", err)
	}
	return decoded, nil
}

// The read surface exists for the verify stage: counts come from Link-header
// page math instead of fetching every item.

// countViaLink returns the total item count for a paginated collection by
// requesting one item per page and reading the rel="last" page number.
func (c *Client) countViaLink(ctx context.Context, path string) (int, error) {
	sep := "?"
	if containsQuery(path) {
		sep = "&"
	}
	var items []struct{}
	header, err := c.do(ctx, http.MethodGet, path+sep+"per_page=1", nil, &items)
	if err != nil {
		return 0, err
	}
	if link := header.Get("Link"); link != "" {
		return lastPageFromLink(link), nil
	}
	return len(items), nil
}

func containsQuery(path string) bool {
	for _, ch := range path {
		if ch == '?' {
			return true
		}
	}
	return false
}

// CountBranches returns the number of branches.
func (c *Client) CountBranches(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/branches", owner, repo))
}

// CountTags returns the number of tags.
func (c *Client) CountTags(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/tags", owner, repo))
}

// CountCommits returns the number of commits on the default branch.
func (c *Client) CountCommits(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/commits", owner, repo))
}

// CountIssues returns the number of issues (excluding pull requests is left
// to the caller's tolerance; the issues list includes PRs on this forge).
func (c *Client) CountIssues(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/issues?state=all", owner, repo))
}

// CountPulls returns the number of pull requests in any state.
func (c *Client) CountPulls(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/pulls?state=all", owner, repo))
}

// CountReleases returns the number of releases.
func (c *Client) CountReleases(ctx context.Context, owner, repo string) (int, error) {
	return c.countViaLink(ctx, fmt.Sprintf("repos/%s/%s/releases", owner, repo))
}

// ListBranches returns all branch names.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	var names []string
	page := 1
	for {
		var batch []struct {
			Name string `json:"name"`
		}
		header, err := c.do(ctx, http.MethodGet,
			fmt.Sprintf("repos/%s/%s/branches?per_page=100&page=%d", owner, repo, page), nil, &batch)
		if err != nil {
			return nil, err
		}
		for _, b := range batch {
			names = append(names, b.Name)
		}
		if len(batch) < 100 || page >= lastPageFromLink(header.Get("Link")) {
			return names, nil
		}
		page++
	}
}

// Workflow is an Actions workflow with its on-disk path.
type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

// ListWorkflows returns the repository's Actions workflows.
func (c *Client) ListWorkflows(ctx context.Context, owner, repo string) ([]Workflow, error) {
	var out struct {
		Workflows []Workflow `json:"workflows"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/actions/workflows", owner, repo), nil, &out)
	return out.Workflows, err
}

// GetFileContent fetches a file body through the contents API.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path string) ([]byte, error) {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, url.PathEscape(path)), nil, &out)
	if err != nil {
		return nil, err
	}
	return decodeContent(out.Content, out.Encoding)
}

// ListEnvironments returns environment names.
func (c *Client) ListEnvironments(ctx context.Context, owner, repo string) ([]string, error) {
	var out struct {
		Environments []struct {
			Name string `json:"name"`
		} `json:"environments"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/environments", owner, repo), nil, &out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Environments))
	for _, e := range out.Environments {
		names = append(names, e.Name)
	}
	return names, nil
}

// ListSecretNames returns repository secret names. Values are never
// readable through the API.
func (c *Client) ListSecretNames(ctx context.Context, owner, repo string) ([]string, error) {
	var out struct {
		Secrets []struct {
			Name string `json:"name"`
		} `json:"secrets"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/actions/secrets?per_page=100", owner, repo), nil, &out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Secrets))
	for _, s := range out.Secrets {
		names = append(names, s.Name)
	}
	return names, nil
}

// ListEnvironmentSecretNames returns environment-scoped secret names.
func (c *Client) ListEnvironmentSecretNames(ctx context.Context, owner, repo, environment string) ([]string, error) {
	var out struct {
		Secrets []struct {
			Name string `json:"name"`
		} `json:"secrets"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/environments/%s/secrets?per_page=100",
			owner, repo, url.PathEscape(environment)), nil, &out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Secrets))
	for _, s := range out.Secrets {
		names = append(names, s.Name)
	}
	return names, nil
}

// ListVariableNames returns repository Actions variable names.
func (c *Client) ListVariableNames(ctx context.Context, owner, repo string) ([]string, error) {
	var out struct {
		Variables []struct {
			Name string `json:"name"`
		} `json:"variables"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/actions/variables?per_page=100", owner, repo), nil, &out)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Variables))
	for _, v := range out.Variables {
		names = append(names, v.Name)
	}
	return names, nil
}

// ListCollaborators returns collaborator logins.
func (c *Client) ListCollaborators(ctx context.Context, owner, repo string) ([]string, error) {
	var collaborators []struct {
		Login string `json:"login"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/collaborators?per_page=100", owner, repo), nil, &collaborators)
	if err != nil {
		return nil, err
	}
	logins := make([]string, 0, len(collaborators))
	for _, collab := range collaborators {
		logins = append(logins, collab.Login)
	}
	return logins, nil
}

// ListWebhooks returns the repository's webhooks.
func (c *Client) ListWebhooks(ctx context.Context, owner, repo string) ([]Webhook, error) {
	var hooks []Webhook
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/hooks?per_page=100", owner, repo), nil, &hooks)
	return hooks, err
}

// GetBranchProtection fetches the protection settings for a branch.
func (c *Client) GetBranchProtection(ctx context.Context, owner, repo, branch string) (BranchProtectionParams, error) {
	var out struct {
		RequiredStatusChecks       *RequiredStatusChecks       `json:"required_status_checks"`
		RequiredPullRequestReviews *RequiredPullRequestReviews `json:"required_pull_request_reviews"`
		EnforceAdmins              struct {
			Enabled bool `json:"enabled"`
		} `json:"enforce_admins"`
		AllowForcePushes struct {
			Enabled bool `json:"enabled"`
		} `json:"allow_force_pushes"`
		AllowDeletions struct {
			Enabled bool `json:"enabled"`
		} `json:"allow_deletions"`
	}
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/branches/%s/protection", owner, repo, url.PathEscape(branch)), nil, &out)
	if err != nil {
		return BranchProtectionParams{}, err
	}
	return BranchProtectionParams{
		RequiredStatusChecks:       out.RequiredStatusChecks,
		RequiredPullRequestReviews: out.RequiredPullRequestReviews,
		EnforceAdmins:              out.EnforceAdmins.Enabled,
		AllowForcePushes:           out.AllowForcePushes.Enabled,
		AllowDeletions:             out.AllowDeletions.Enabled,
	}, nil
}

// ListMilestones returns milestones in any state.
func (c *Client) ListMilestones(ctx context.Context, owner, repo string) ([]Milestone, error) {
	var milestones []Milestone
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/milestones?state=all&per_page=100", owner, repo), nil, &milestones)
	return milestones, err
}

// ListLabels returns the repository's labels.
func (c *Client) ListLabels(ctx context.Context, owner, repo string) ([]Label, error) {
	var labels []Label
	_, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("repos/%s/%s/labels?per_page=100", owner, repo), nil, &labels)
	return labels, err
}

// ListOrgMembers returns the organization's members for user mapping.
type OrgMember struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ListOrgMembers returns every member of the destination organization,
// enriched with profile name and public email where available.
func (c *Client) ListOrgMembers(ctx context.Context, org string) ([]OrgMember, error) {
	var members []OrgMember
	page := 1
	for {
		var batch []OrgMember
		header, err := c.do(ctx, http.MethodGet,
			fmt.Sprintf("orgs/%s/members?per_page=100&page=%d", org, page), nil, &batch)
		if err != nil {
			return nil, err
		}
		members = append(members, batch...)
		if len(batch) < 100 || page >= lastPageFromLink(header.Get("Link")) {
			break
		}
		page++
	}
	return members, nil
}

// GetUserProfile fetches one user's public profile.
func (c *Client) GetUserProfile(ctx context.Context, login string) (OrgMember, error) {
	var member OrgMember
	_, err := c.do(ctx, http.MethodGet, "users/"+url.PathEscape(login), nil, &member)
	return member, err
}
