package sourceclient

import (
	"context"
	"errors"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
)

// Feature probes. Each answers a yes/no question about a project without
// pulling the full data set; not_found means "feature absent", any other
// error propagates.

// HasCI reports whether the project has a CI configuration file on its
// default branch.
func (c *Client) HasCI(ctx context.Context, projectID int, defaultBranch string) (bool, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	_, err := c.FileContent(ctx, projectID, ".gitlab-ci.yml", defaultBranch)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HasWiki reports whether the project's wiki holds any pages. The wiki
// feature being enabled does not imply content exists.
func (c *Client) HasWiki(ctx context.Context, projectID int) (bool, error) {
	pages, err := getJSON[[]struct {
		Slug string `json:"slug"`
	}](ctx, c, projectPath(projectID)+"/wikis", nil)
	if err != nil {
		if isNotFound(err) || forgeerr.CategoryOf(err) == forgeerr.CategoryPermission {
			return false, nil
		}
		return false, err
	}
	return len(pages) > 0, nil
}

// HasLFS reports whether the repository tracks files with git-lfs, detected
// by a .gitattributes entry on the default branch.
func (c *Client) HasLFS(ctx context.Context, projectID int, defaultBranch string) (bool, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	content, err := c.FileContent(ctx, projectID, ".gitattributes", defaultBranch)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return containsLFSFilter(string(content)), nil
}

// HasPackages reports whether the project publishes to the package registry.
func (c *Client) HasPackages(ctx context.Context, projectID int) (bool, error) {
	var found bool
	var probeErr error
	c.Packages(ctx, projectID)(func(_ Package, err error) bool {
		if err != nil {
			probeErr = err
			return false
		}
		found = true
		return false
	})
	if probeErr != nil {
		if isNotFound(probeErr) || forgeerr.CategoryOf(probeErr) == forgeerr.CategoryPermission {
			return false, nil
		}
		return false, probeErr
	}
	return found, nil
}

// HasSubmodules reports whether the repository declares git submodules.
func (c *Client) HasSubmodules(ctx context.Context, projectID int, defaultBranch string) (bool, string, error) {
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	content, err := c.FileContent(ctx, projectID, ".gitmodules", defaultBranch)
	if err != nil {
		if isNotFound(err) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, string(content), nil
}

func isNotFound(err error) bool {
	var fe *forgeerr.Error
	return errors.As(err, &fe) && fe.Category == forgeerr.CategoryNotFound
}

func containsLFSFilter(gitattributes string) bool {
	// A tracked pattern looks like "*.bin filter=lfs diff=lfs merge=lfs"
	for _, line := range strings.Split(gitattributes, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") && strings.Contains(line, "filter=lfs") {
			return true
		}
	}
	return false
}
