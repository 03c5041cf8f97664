package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerGovernanceActions() {
	r.Register(plan.ActionProtectionSet, func(a plan.Action) (Action, error) {
		params, err := decodeParams[protectionSetParams](a)
		if err != nil {
			return nil, err
		}
		return &protectionSet{base{a}, params}, nil
	})
	r.Register(plan.ActionCollaboratorAdd, func(a plan.Action) (Action, error) {
		params, err := decodeParams[collaboratorParams](a)
		if err != nil {
			return nil, err
		}
		return &collaboratorAdd{base{a}, params}, nil
	})
	r.Register(plan.ActionTeamCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[namedParams](a)
		if err != nil {
			return nil, err
		}
		return &teamCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionCodeownersCommit, func(a plan.Action) (Action, error) {
		params, err := decodeParams[codeownersParams](a)
		if err != nil {
			return nil, err
		}
		return &codeownersCommit{base{a}, params}, nil
	})
}

type protectionSetParams struct {
	Branch                 string   `json:"branch"`
	RequiredReviews        int      `json:"required_reviews"`
	RequireCodeOwners      bool     `json:"require_code_owners"`
	RequiredStatusContexts []string `json:"required_status_contexts"`
	AllowForcePushes       bool     `json:"allow_force_pushes"`
}

type protectionSet struct {
	base
	params protectionSetParams
}

func (a *protectionSet) Execute(ctx context.Context, ec *ExecContext) *Result {
	contexts := a.params.RequiredStatusContexts
	if contexts == nil {
		contexts = []string{}
	}
	params := destclient.BranchProtectionParams{
		RequiredStatusChecks: &destclient.RequiredStatusChecks{Strict: true, Contexts: contexts},
		EnforceAdmins:        true,
		RequiredPullRequestReviews: &destclient.RequiredPullRequestReviews{
			RequiredApprovingReviewCount: a.params.RequiredReviews,
			RequireCodeOwnerReviews:      a.params.RequireCodeOwners,
		},
		AllowForcePushes: a.params.AllowForcePushes,
		AllowDeletions:   false,
	}
	if err := ec.Dest.SetBranchProtection(ctx, ec.Owner, ec.Repo, a.params.Branch, params); err != nil {
		return a.fail(err)
	}
	return a.succeed(
		map[string]any{"branch": a.params.Branch},
		map[string]any{"branch": a.params.Branch},
	)
}

func (a *protectionSet) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if _, err := ec.Dest.GetBranchProtection(ctx, ec.Owner, ec.Repo, a.params.Branch); err == nil {
		return a.simulated(WouldUpdate, map[string]any{"branch": a.params.Branch})
	}
	return a.simulated(WouldCreate, map[string]any{"branch": a.params.Branch})
}

func (a *protectionSet) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	branch := stringField(rollbackData, "branch")
	if branch == "" {
		return fmt.Errorf("rollback data missing branch")
	}
	return ec.Dest.RemoveBranchProtection(ctx, ec.Owner, ec.Repo, branch)
}

type collaboratorParams struct {
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

type collaboratorAdd struct {
	base
	params collaboratorParams
}

func (a *collaboratorAdd) Execute(ctx context.Context, ec *ExecContext) *Result {
	permission := a.params.Permission
	if permission == "" {
		permission = "push"
	}
	if err := ec.Dest.AddCollaborator(ctx, ec.Owner, ec.Repo, a.params.Name, permission); err != nil {
		return a.fail(err)
	}
	return a.succeed(
		map[string]any{"username": a.params.Name, "permission": permission},
		map[string]any{"username": a.params.Name},
	)
}

func (a *collaboratorAdd) Simulate(ctx context.Context, ec *ExecContext) *Result {
	logins, err := ec.Dest.ListCollaborators(ctx, ec.Owner, ec.Repo)
	if err == nil {
		for _, login := range logins {
			if login == a.params.Name {
				return a.simulated(WouldSkip, map[string]any{"reason": "already a collaborator"})
			}
		}
	}
	return a.simulated(WouldCreate, map[string]any{"username": a.params.Name})
}

func (a *collaboratorAdd) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	username := stringField(rollbackData, "username")
	if username == "" {
		return fmt.Errorf("rollback data missing username")
	}
	return ec.Dest.RemoveCollaborator(ctx, ec.Owner, ec.Repo, username)
}

type teamCreate struct {
	base
	params namedParams
}

func (a *teamCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	team, err := ec.Dest.CreateTeam(ctx, ec.Org, destclient.CreateTeamParams{
		Name:    a.params.Name,
		Privacy: "closed",
	})
	if err != nil {
		// An existing team with the same slug satisfies the intent.
		if forgeerr.CategoryOf(err) == forgeerr.CategoryValidation {
			ec.IDMappings.Set("team", a.params.Name, a.params.Name)
			return a.succeed(map[string]any{"slug": a.params.Name, "already_existed": true}, nil)
		}
		return a.fail(err)
	}
	ec.IDMappings.Set("team", a.params.Name, team.Slug)
	return a.succeed(map[string]any{"slug": team.Slug, "id": team.ID}, nil)
}

func (a *teamCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name})
}

func (a *teamCreate) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("team_create is not reversible")
}

type codeownersParams struct {
	Path string `json:"path"`
}

type codeownersCommit struct {
	base
	params codeownersParams
}

func (a *codeownersCommit) codeownersFile(ec *ExecContext) string {
	return filepath.Join(ec.ArtifactRoot, constants.TransformDir, constants.CodeownersPath)
}

func (a *codeownersCommit) Execute(ctx context.Context, ec *ExecContext) *Result {
	content, err := os.ReadFile(a.codeownersFile(ec))
	if err != nil {
		return a.fail(forgeerr.Wrap(forgeerr.CategoryValidation, "reading generated CODEOWNERS", err))
	}
	if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, a.params.Path,
		"chore: add CODEOWNERS from migrated approval rules", content, ""); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"path": a.params.Path}, nil)
}

func (a *codeownersCommit) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if !fileExists(a.codeownersFile(ec)) {
		return a.simulated(WouldFail, map[string]any{"reason": "generated CODEOWNERS missing"})
	}
	return a.simulated(WouldCreate, map[string]any{"path": a.params.Path})
}

func (a *codeownersCommit) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("codeowners_commit is not reversible")
}
