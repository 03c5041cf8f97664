package action

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerWikiActions() {
	r.Register(plan.ActionWikiPush, func(a plan.Action) (Action, error) {
		return &wikiPush{base{a}}, nil
	})
	r.Register(plan.ActionWikiCommit, func(a plan.Action) (Action, error) {
		return &wikiCommit{base{a}}, nil
	})
}

type wikiPush struct {
	base
}

func (a *wikiPush) wikiDir(ec *ExecContext) string {
	return filepath.Join(ec.ArtifactRoot, constants.ExportDir, constants.WikiRepoPath)
}

func (a *wikiPush) Execute(ctx context.Context, ec *ExecContext) *Result {
	dir := a.wikiDir(ec)
	if !dirExists(dir) {
		return a.fail(forgeerr.New(forgeerr.CategoryValidation, "exported wiki repository missing: "+dir))
	}
	if err := ec.Dest.PushWiki(ctx, dir, ec.Owner, ec.Repo); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"pushed": true}, nil)
}

func (a *wikiPush) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if !dirExists(a.wikiDir(ec)) {
		return a.simulated(WouldFail, map[string]any{"reason": "exported wiki repository missing"})
	}
	return a.simulated(WouldExecute, nil)
}

func (a *wikiPush) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("wiki_push is not reversible")
}

type wikiCommit struct {
	base
}

func (a *wikiCommit) Execute(ctx context.Context, ec *ExecContext) *Result {
	// A provenance page in the main repository records where the wiki came
	// from; the wiki itself has no contents API on the destination.
	content := fmt.Sprintf("# Wiki migration\n\nThe wiki was migrated on %s.\n",
		time.Now().UTC().Format("2006-01-02"))
	path := ".migration/wiki.md"
	if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, path,
		"docs: record wiki migration provenance", []byte(content), ""); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"path": path}, nil)
}

func (a *wikiCommit) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"path": ".migration/wiki.md"})
}

func (a *wikiCommit) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("wiki_commit is not reversible")
}
