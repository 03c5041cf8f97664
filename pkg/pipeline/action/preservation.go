package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerPreservationActions() {
	r.Register(plan.ActionArtifactCommit, func(a plan.Action) (Action, error) {
		params, err := decodeParams[pathParams](a)
		if err != nil {
			return nil, err
		}
		return &artifactCommit{base{a}, params}, nil
	})
	r.Register(plan.ActionAttachmentsCommit, func(a plan.Action) (Action, error) {
		params, err := decodeParams[pathParams](a)
		if err != nil {
			return nil, err
		}
		return &attachmentsCommit{base{a}, params}, nil
	})
}

type pathParams struct {
	Path string `json:"path"`
}

// provenanceArtifacts are the transform artifacts preserved in the
// destination repository for future reference.
var provenanceArtifacts = []string{
	constants.ConversionGapsMD,
	constants.ConversionGapsJSON,
	constants.UserMappingsPath,
}

type artifactCommit struct {
	base
	params pathParams
}

func (a *artifactCommit) Execute(ctx context.Context, ec *ExecContext) *Result {
	transformDir := filepath.Join(ec.ArtifactRoot, constants.TransformDir)
	committed := 0
	for _, name := range provenanceArtifacts {
		local := filepath.Join(transformDir, name)
		content, err := os.ReadFile(local)
		if err != nil {
			continue // optional artifacts may be absent
		}
		destPath := a.params.Path + "/" + name
		message := fmt.Sprintf("docs: preserve migration artifact %s", name)
		if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, destPath, message, content, ""); err != nil {
			return a.fail(err)
		}
		committed++
	}
	return a.succeed(map[string]any{"committed": committed, "path": a.params.Path}, nil)
}

func (a *artifactCommit) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"path": a.params.Path})
}

func (a *artifactCommit) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("artifact_commit is not reversible")
}

type attachmentsCommit struct {
	base
	params pathParams
}

// attachmentDirs are the export subtrees whose files are preserved in the
// destination repository, since the destination offers no upload API for
// issue attachments.
var attachmentDirs = []string{
	constants.IssueAttachmentsDir,
	constants.MRAttachmentsDir,
}

func (a *attachmentsCommit) Execute(ctx context.Context, ec *ExecContext) *Result {
	exportDir := filepath.Join(ec.ArtifactRoot, constants.ExportDir)
	committed := 0
	for _, dir := range attachmentDirs {
		localDir := filepath.Join(exportDir, dir)
		entries, err := os.ReadDir(localDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
				continue
			}
			content, err := os.ReadFile(filepath.Join(localDir, entry.Name()))
			if err != nil {
				return a.fail(forgeerr.Wrap(forgeerr.CategoryValidation, "reading attachment", err))
			}
			destPath := a.params.Path + "/" + strings.ReplaceAll(dir, "/", "_") + "/" + entry.Name()
			message := fmt.Sprintf("docs: preserve migrated attachment %s", entry.Name())
			if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, destPath, message, content, ""); err != nil {
				return a.fail(err)
			}
			committed++
		}
	}
	return a.succeed(map[string]any{"committed": committed}, nil)
}

func (a *attachmentsCommit) Simulate(ctx context.Context, ec *ExecContext) *Result {
	exportDir := filepath.Join(ec.ArtifactRoot, constants.ExportDir)
	total := 0
	for _, dir := range attachmentDirs {
		if entries, err := os.ReadDir(filepath.Join(exportDir, dir)); err == nil {
			total += len(entries)
		}
	}
	if total == 0 {
		return a.simulated(WouldSkip, map[string]any{"reason": "no attachments exported"})
	}
	return a.simulated(WouldCreate, map[string]any{"files": total})
}

func (a *attachmentsCommit) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("attachments_commit is not reversible")
}
