package action

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerRepoActions() {
	r.Register(plan.ActionRepoCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[repoCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &repoCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionRepoPush, func(a plan.Action) (Action, error) {
		params, err := decodeParams[repoPushParams](a)
		if err != nil {
			return nil, err
		}
		return &repoPush{base{a}, params}, nil
	})
	r.Register(plan.ActionRepoConfigure, func(a plan.Action) (Action, error) {
		params, err := decodeParams[repoConfigureParams](a)
		if err != nil {
			return nil, err
		}
		return &repoConfigure{base{a}, params}, nil
	})
	r.Register(plan.ActionLFSConfigure, func(a plan.Action) (Action, error) {
		return &lfsConfigure{base{a}}, nil
	})
}

type repoCreateParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	HasWiki     bool   `json:"has_wiki"`
}

type repoCreate struct {
	base
	params repoCreateParams
}

func (a *repoCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	repo, err := ec.Dest.CreateRepo(ctx, ec.Org, destclient.CreateRepoParams{
		Name:        a.params.Name,
		Description: a.params.Description,
		Private:     a.params.Private,
		HasIssues:   true,
		HasWiki:     a.params.HasWiki,
	})
	if err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("repository", a.params.Name, repo.FullName)
	return a.succeed(
		map[string]any{"full_name": repo.FullName, "html_url": repo.HTMLURL},
		map[string]any{"owner": ec.Org, "repo": repo.Name},
	)
}

func (a *repoCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if _, err := ec.Dest.GetRepo(ctx, ec.Org, a.params.Name); err == nil {
		return a.simulated(WouldSkip, map[string]any{"reason": "repository already exists"})
	}
	return a.simulated(WouldCreate, map[string]any{"full_name": ec.Org + "/" + a.params.Name})
}

func (a *repoCreate) CheckExisting(ctx context.Context, ec *ExecContext) (*Result, bool) {
	repo, err := ec.Dest.GetRepo(ctx, ec.Org, a.params.Name)
	if err != nil {
		return nil, false
	}
	ec.IDMappings.Set("repository", a.params.Name, repo.FullName)
	return a.succeed(
		map[string]any{"full_name": repo.FullName, "already_existed": true},
		map[string]any{"owner": ec.Org, "repo": repo.Name},
	), true
}

func (a *repoCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	owner, repo := stringField(rollbackData, "owner"), stringField(rollbackData, "repo")
	if owner == "" || repo == "" {
		return fmt.Errorf("rollback data missing owner/repo")
	}
	return ec.Dest.DeleteRepo(ctx, owner, repo)
}

type repoPushParams struct {
	BundlePath    string `json:"bundle_path"`
	DefaultBranch string `json:"default_branch"`
}

type repoPush struct {
	base
	params repoPushParams
}

func (a *repoPush) Execute(ctx context.Context, ec *ExecContext) *Result {
	bundle := a.params.BundlePath
	if !filepath.IsAbs(bundle) {
		bundle = filepath.Join(ec.ArtifactRoot, bundle)
	}
	if err := ec.Dest.PushBundle(ctx, bundle, ec.Owner, ec.Repo); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"pushed": true, "default_branch": a.params.DefaultBranch}, nil)
}

func (a *repoPush) Simulate(ctx context.Context, ec *ExecContext) *Result {
	bundle := a.params.BundlePath
	if !filepath.IsAbs(bundle) {
		bundle = filepath.Join(ec.ArtifactRoot, bundle)
	}
	if !fileExists(bundle) {
		return a.simulated(WouldFail, map[string]any{"reason": "bundle file missing: " + bundle})
	}
	return a.simulated(WouldExecute, map[string]any{"bundle": bundle})
}

func (a *repoPush) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("repo_push is not reversible")
}

type repoConfigureParams struct {
	Topics        []string `json:"topics"`
	DefaultBranch string   `json:"default_branch"`
}

type repoConfigure struct {
	base
	params repoConfigureParams
}

func (a *repoConfigure) Execute(ctx context.Context, ec *ExecContext) *Result {
	// Topic and default-branch updates ride the repos PATCH endpoint via
	// the typed client helpers; both are additive settings.
	if err := ec.Dest.ConfigureRepo(ctx, ec.Owner, ec.Repo, a.params.DefaultBranch, a.params.Topics); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"configured": true}, nil)
}

func (a *repoConfigure) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldUpdate, map[string]any{
		"default_branch": a.params.DefaultBranch,
		"topics":         a.params.Topics,
	})
}

func (a *repoConfigure) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("repo_configure is not reversible")
}

type lfsConfigure struct {
	base
}

func (a *lfsConfigure) Execute(ctx context.Context, ec *ExecContext) *Result {
	// LFS objects cannot ride the bundle; the mirror push carries the
	// pointers and the objects follow with git-lfs tooling. The action
	// records what remains for the operator.
	return a.succeed(map[string]any{
		"note": "LFS pointers pushed with the mirror; run 'git lfs fetch --all' on the source mirror and 'git lfs push --all' to the destination",
	}, nil)
}

func (a *lfsConfigure) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldExecute, map[string]any{"note": "records LFS follow-up for the operator"})
}

func (a *lfsConfigure) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("lfs_configure is not reversible")
}
