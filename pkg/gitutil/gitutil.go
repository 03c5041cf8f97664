// Package gitutil wraps the git subprocess operations the migration needs:
// mirror clones of the source repository, bundle creation, and mirror pushes
// to the destination. Authentication works by injecting the forge token into
// a temporary remote URL; tokens are stripped from any output that is logged
// or returned.
package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/stringutil"
)

var log = logger.New("gitutil:git")

// AuthenticatedURL injects a token into an https clone URL as userinfo.
// GitLab accepts oauth2:<token>; GitHub accepts x-access-token:<token>.
func AuthenticatedURL(rawURL, user, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("token injection requires an http(s) URL, got %q", u.Scheme)
	}
	u.User = url.UserPassword(user, token)
	return u.String(), nil
}

// run executes a git command with the given timeout. stdout and stderr are
// captured; on failure the combined output is scrubbed of the given tokens
// before being wrapped into the returned error.
func run(ctx context.Context, timeout time.Duration, dir string, tokens []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("Running git %s", strings.Join(scrubArgs(args, tokens), " "))
	err := cmd.Run()
	if err != nil {
		detail := stringutil.ScrubTokens(strings.TrimSpace(stderr.String()), tokens...)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", forgeerr.New(forgeerr.CategoryTimeout,
				fmt.Sprintf("git %s timed out after %s", args[0], timeout)).WithTechnical(detail)
		}
		return "", forgeerr.Wrap(forgeerr.CategoryUnknown,
			fmt.Sprintf("git %s failed", args[0]), errors.New(detail))
	}
	return stdout.String(), nil
}

func scrubArgs(args, tokens []string) []string {
	scrubbed := make([]string, len(args))
	for i, a := range args {
		scrubbed[i] = stringutil.ScrubTokens(a, tokens...)
	}
	return scrubbed
}

// CloneMirror performs `git clone --mirror` of the authenticated URL into
// destDir. The token inside authURL never appears in errors or logs.
func CloneMirror(ctx context.Context, authURL, destDir string, timeout time.Duration, tokens ...string) error {
	_, err := run(ctx, timeout, "", tokens, "clone", "--mirror", authURL, destDir)
	return err
}

// BundleAll writes a bundle containing every ref of the mirror at repoDir.
func BundleAll(ctx context.Context, repoDir, bundlePath string, timeout time.Duration) error {
	_, err := run(ctx, timeout, repoDir, nil, "bundle", "create", bundlePath, "--all")
	return err
}

// PushMirror pushes every ref of the repository at repoDir to the
// authenticated destination URL.
func PushMirror(ctx context.Context, repoDir, authURL string, timeout time.Duration, tokens ...string) error {
	_, err := run(ctx, timeout, repoDir, tokens, "push", "--mirror", authURL)
	return err
}

// CloneFromBundle materializes a working clone from a bundle file, used when
// pushing exported code to the destination.
func CloneFromBundle(ctx context.Context, bundlePath, destDir string, timeout time.Duration) error {
	_, err := run(ctx, timeout, "", nil, "clone", "--mirror", bundlePath, destDir)
	return err
}

// ListBundleRefs returns the ref names recorded in a bundle file.
func ListBundleRefs(ctx context.Context, bundlePath string, timeout time.Duration) ([]string, error) {
	out, err := run(ctx, timeout, "", nil, "bundle", "list-heads", bundlePath)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			refs = append(refs, fields[1])
		}
	}
	return refs, nil
}

// IsAuthError checks if an error message indicates an authentication issue
// with either forge's git endpoint.
func IsAuthError(errMsg string) bool {
	lowerMsg := strings.ToLower(errMsg)
	return strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "could not read username") ||
		strings.Contains(lowerMsg, "invalid credentials") ||
		strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "forbidden") ||
		strings.Contains(lowerMsg, "permission denied")
}

// IsEmptyRepoError checks if a clone failure indicates an empty repository,
// which the wiki export treats as a sentinel rather than a failure.
func IsEmptyRepoError(errMsg string) bool {
	lowerMsg := strings.ToLower(errMsg)
	return strings.Contains(lowerMsg, "appears to be empty") ||
		strings.Contains(lowerMsg, "you appear to have cloned an empty repository")
}

// IsHexString checks if a string contains only hexadecimal characters
// This is used to validate Git commit SHAs and upload hash prefixes
func IsHexString(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
