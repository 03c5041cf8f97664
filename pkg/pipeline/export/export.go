// Package export extracts every component of a source project into the
// typed artifact tree. Each component writes its files, records a terminal
// status in the manifest, and checkpoints progress so an interrupted run
// resumes without reprocessing.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/exportcheckpoint"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
	"github.com/forgemove/ghmigrate/pkg/stringutil"
)

var log = logger.New("export:export")

// Stage extracts one project into the artifact tree.
type Stage struct {
	Source *sourceclient.Client
	// Dir is the export root, usually <artifact-root>/export.
	Dir string
	// Resume skips components the checkpoint records as completed.
	Resume bool
}

// New creates an export stage writing under artifactRoot.
func New(source *sourceclient.Client, artifactRoot string, resume bool) *Stage {
	return &Stage{
		Source: source,
		Dir:    filepath.Join(artifactRoot, constants.ExportDir),
		Resume: resume,
	}
}

type componentFunc func(ctx context.Context, p sourceclient.Project, cp *exportcheckpoint.Checkpoint, result *Result) (int, []string, error)

// Run exports every component in sequence. Per-component failures are
// recorded in the manifest and do not stop later components; the overall
// status reflects how many completed.
func (s *Stage) Run(ctx context.Context, p sourceclient.Project) (*Result, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	cp, err := exportcheckpoint.Load(filepath.Join(s.Dir, constants.ExportCheckpointPath))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Dir: s.Dir,
		Manifest: Manifest{
			ProjectID:   p.ID,
			ProjectPath: p.PathWithNamespace,
			StartedAt:   time.Now().UTC(),
			Components:  make(map[string]ComponentStatus, len(Components)),
		},
	}

	exporters := map[string]componentFunc{
		"repository":     s.exportRepository,
		"ci_cd":          s.exportCICD,
		"issues":         s.exportIssues,
		"merge_requests": s.exportMergeRequests,
		"wiki":           s.exportWiki,
		"releases":       s.exportReleases,
		"packages":       s.exportPackages,
		"settings":       s.exportSettings,
	}

	for _, name := range Components {
		if ctx.Err() != nil {
			break
		}
		if s.Resume && cp.IsCompleted(name) {
			log.Printf("Skipping completed component: %s", name)
			result.Manifest.Components[name] = ComponentStatus{Status: "skipped"}
			continue
		}

		spin := newComponentSpinner(name)
		started := time.Now()
		if err := cp.MarkStarted(name); err != nil {
			return nil, err
		}

		items, warnings, err := exporters[name](ctx, p, cp, result)
		duration := time.Since(started)
		status := ComponentStatus{Items: items, Warnings: warnings, Duration: duration}
		if err != nil {
			scrubbed := stringutil.ScrubTokens(err.Error(), s.Source.Token())
			status.Status = "failed"
			status.Error = scrubbed
			log.Printf("Component %s failed: %s", name, scrubbed)
			if cpErr := cp.MarkCompleted(name, false, scrubbed); cpErr != nil {
				return nil, cpErr
			}
		} else {
			status.Status = "completed"
			if cpErr := cp.MarkCompleted(name, true, ""); cpErr != nil {
				return nil, cpErr
			}
		}
		result.Manifest.Components[name] = status
		stopComponentSpinner(spin, name, status)
	}

	result.Manifest.FinishedAt = time.Now().UTC()
	result.Manifest.Status = overallStatus(result.Manifest.Components)

	if err := s.writeJSON(constants.ExportManifestPath, result.Manifest); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// overallStatus: success if every component completed (or was skipped after
// completing earlier), partial if some did, failed if none did.
func overallStatus(components map[string]ComponentStatus) string {
	completed, failed := 0, 0
	for _, c := range components {
		switch c.Status {
		case "completed", "skipped":
			completed++
		case "failed":
			failed++
		}
	}
	switch {
	case failed == 0:
		return "success"
	case completed > 0:
		return "partial"
	default:
		return "failed"
	}
}

// writeJSON writes a JSON artifact at a path relative to the export root.
func (s *Stage) writeJSON(relPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", relPath, err)
	}
	full := filepath.Join(s.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}

// newComponentSpinner starts a terminal spinner for interactive runs.
// Suppressed when stderr is not a TTY so piped output stays clean.
func newComponentSpinner(component string) *spinner.Spinner {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	sp := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " exporting " + component
	sp.Start()
	return sp
}

func stopComponentSpinner(sp *spinner.Spinner, component string, status ComponentStatus) {
	if sp == nil {
		return
	}
	if status.Status == "failed" {
		sp.FinalMSG = fmt.Sprintf("✗ %s failed\n", component)
	} else {
		sp.FinalMSG = fmt.Sprintf("✓ %s (%d items)\n", component, status.Items)
	}
	sp.Stop()
}
