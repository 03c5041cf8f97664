package export

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/dustin/go-humanize"

	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// Attachment patterns are kept as separate expressions, one per markdown
// construct, so each can evolve independently:
//   - image embeds:  ![alt](/uploads/<hash>/<name>)
//   - file links:    [name](/uploads/<hash>/<name>)
//   - bare links:    (/uploads/<hex>/<name>)
var attachmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`!\[[^\]]*\]\((/uploads/[^)]+)\)`),
	regexp.MustCompile(`\[[^\]]*\]\((/uploads/[^)]+)\)`),
	regexp.MustCompile(`(/uploads/[a-fA-F0-9]+/[^\s)]+)`),
}

// ScanAttachmentPaths extracts every unique upload path referenced in a
// markdown body, in first-seen order.
func ScanAttachmentPaths(bodies ...string) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, body := range bodies {
		for _, pattern := range attachmentPatterns {
			for _, match := range pattern.FindAllStringSubmatch(body, -1) {
				path := match[1]
				if !seen[path] {
					seen[path] = true
					paths = append(paths, path)
				}
			}
		}
	}
	return paths
}

// attachmentDownloader accumulates downloads for one component (issues or
// merge requests), deduplicating across items.
type attachmentDownloader struct {
	source  *sourceclient.Client
	baseURL string // project web URL, the base for relative upload paths
	destDir string // absolute directory for downloaded files
	relDir  string // directory recorded in metadata, relative to export root
	meta    AttachmentMetadata
}

func newAttachmentDownloader(source *sourceclient.Client, projectWebURL, destDir, relDir string) *attachmentDownloader {
	return &attachmentDownloader{
		source:  source,
		baseURL: projectWebURL,
		destDir: destDir,
		relDir:  relDir,
		meta: AttachmentMetadata{
			Files:  make(map[string]string),
			Failed: make(map[string]string),
		},
	}
}

// Download fetches every attachment referenced in the given bodies. Failures
// are recorded, never fatal: a missing attachment must not sink the export.
func (d *attachmentDownloader) Download(ctx context.Context, bodies ...string) {
	for _, uploadPath := range ScanAttachmentPaths(bodies...) {
		if _, done := d.meta.Files[uploadPath]; done {
			continue
		}
		if _, failed := d.meta.Failed[uploadPath]; failed {
			continue
		}

		destPath, err := sourceclient.AttachmentDestPath(uploadPath, d.destDir)
		if err != nil {
			d.meta.Failed[uploadPath] = err.Error()
			d.meta.Warnings = append(d.meta.Warnings,
				fmt.Sprintf("rejected attachment %s: %v", uploadPath, err))
			continue
		}

		result, err := d.source.DownloadFile(ctx, d.baseURL+uploadPath, destPath)
		if err != nil {
			d.meta.Failed[uploadPath] = err.Error()
			d.meta.Warnings = append(d.meta.Warnings,
				fmt.Sprintf("failed to download %s: %v", uploadPath, err))
			continue
		}
		if result.Oversized {
			d.meta.Warnings = append(d.meta.Warnings,
				fmt.Sprintf("attachment %s is %s", uploadPath, humanize.Bytes(uint64(result.Size))))
		}
		d.meta.Files[uploadPath] = filepath.Join(d.relDir, filepath.Base(destPath))
	}
}
