package sourceclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/gitutil"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
	"github.com/forgemove/ghmigrate/pkg/stringutil"
)

// DownloadResult describes one completed file download.
type DownloadResult struct {
	LocalPath string
	Size      int64
	// Oversized is set when the file exceeded the warn threshold but stayed
	// under the hard cap.
	Oversized bool
}

// DownloadFile streams a URL to destPath, enforcing the attachment size
// discipline: anything over the hard cap is rejected, anything over the warn
// threshold is flagged. The destination directory is created as needed.
func (c *Client) DownloadFile(ctx context.Context, rawURL, destPath string) (DownloadResult, error) {
	return ratelimit.WithRetry(ctx, c.limiter, func() (DownloadResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return DownloadResult{}, forgeerr.Wrap(forgeerr.CategoryValidation, "building download request", err)
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return DownloadResult{}, classifyTransportError(err)
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.Header)
		if resp.StatusCode >= 400 {
			return DownloadResult{}, classifyStatus(resp, rawURL, nil)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return DownloadResult{}, fmt.Errorf("creating download directory: %w", err)
		}

		tmp := destPath + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return DownloadResult{}, fmt.Errorf("creating download file: %w", err)
		}

		// Reading one byte past the cap distinguishes "exactly at the limit"
		// from "over it" without buffering the payload.
		limited := io.LimitReader(resp.Body, constants.MaxAttachmentSize+1)
		size, err := io.Copy(f, limited)
		closeErr := f.Close()
		if err != nil {
			os.Remove(tmp)
			return DownloadResult{}, forgeerr.Wrap(forgeerr.CategoryNetwork, "streaming download", err)
		}
		if closeErr != nil {
			os.Remove(tmp)
			return DownloadResult{}, fmt.Errorf("closing download file: %w", closeErr)
		}
		if size > constants.MaxAttachmentSize {
			os.Remove(tmp)
			return DownloadResult{}, forgeerr.New(forgeerr.CategoryValidation,
				fmt.Sprintf("attachment exceeds %s limit", humanize.Bytes(constants.MaxAttachmentSize))).
				WithSuggestion("Download the file manually and attach it to the destination issue")
		}
		if err := os.Rename(tmp, destPath); err != nil {
			os.Remove(tmp)
			return DownloadResult{}, fmt.Errorf("finalizing download: %w", err)
		}

		result := DownloadResult{LocalPath: destPath, Size: size}
		if size > constants.WarnAttachmentSize {
			result.Oversized = true
			log.Printf("Large attachment: %s is %s", destPath, humanize.Bytes(uint64(size)))
		}
		return result, nil
	})
}

// AttachmentDestPath derives the safe local filename for an upload path:
// the filename is sanitized to the safe character set and prefixed with the
// upload hash for uniqueness. Path traversal is rejected outright.
func AttachmentDestPath(uploadPath, destDir string) (string, error) {
	if strings.Contains(uploadPath, "..") {
		return "", forgeerr.New(forgeerr.CategoryValidation,
			fmt.Sprintf("attachment path %q rejected: path traversal", uploadPath))
	}
	trimmed := strings.TrimPrefix(uploadPath, "/")
	parts := strings.Split(trimmed, "/")
	// Expected shape: uploads/<hash>/<name>
	if len(parts) < 3 || parts[0] != "uploads" {
		return "", forgeerr.New(forgeerr.CategoryValidation,
			fmt.Sprintf("attachment path %q rejected: unexpected shape", uploadPath))
	}
	hash := parts[1]
	name := stringutil.SanitizeAttachmentFilename(parts[len(parts)-1])
	return filepath.Join(destDir, hash+"_"+name), nil
}

// CloneMirror mirror-clones the project repository using the client's token
// for authentication. Auth failures from git are reclassified so they carry
// the same remediation text as API auth failures.
func (c *Client) CloneMirror(ctx context.Context, repoURL, destDir string) error {
	authURL, err := gitutil.AuthenticatedURL(repoURL, "oauth2", c.token)
	if err != nil {
		return err
	}
	err = gitutil.CloneMirror(ctx, authURL, destDir, constants.CloneTimeout, c.token)
	if err != nil && gitutil.IsAuthError(err.Error()) {
		return forgeerr.Wrap(forgeerr.CategoryAuth, "git clone authentication failed", err)
	}
	return err
}

// CloneWiki clones the project's wiki repository. The bool result reports
// whether the wiki existed and had content.
func (c *Client) CloneWiki(ctx context.Context, repoURL, destDir string) (bool, error) {
	wikiURL := strings.TrimSuffix(repoURL, ".git") + ".wiki.git"
	authURL, err := gitutil.AuthenticatedURL(wikiURL, "oauth2", c.token)
	if err != nil {
		return false, err
	}
	err = gitutil.CloneMirror(ctx, authURL, destDir, constants.WikiCloneTimeout, c.token)
	if err != nil {
		msg := err.Error()
		if gitutil.IsEmptyRepoError(msg) || isNotFound(err) || strings.Contains(msg, "not found") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BundleAll writes a bundle of every ref in the mirror at repoDir.
func (c *Client) BundleAll(ctx context.Context, repoDir, bundlePath string) error {
	return gitutil.BundleAll(ctx, repoDir, bundlePath, constants.BundleTimeout)
}
