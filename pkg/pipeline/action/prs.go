package action

import (
	"context"
	"fmt"
	"strconv"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerPRActions() {
	r.Register(plan.ActionPRCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[prCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &prCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionPRCommentAdd, func(a plan.Action) (Action, error) {
		params, err := decodeParams[prCommentParams](a)
		if err != nil {
			return nil, err
		}
		return &prCommentAdd{base{a}, params}, nil
	})
}

type prCreateParams struct {
	GitlabMRIID int      `json:"gitlab_mr_iid"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Head        string   `json:"head"`
	Base        string   `json:"base"`
	Labels      []string `json:"labels"`
	Draft       bool     `json:"draft"`
	State       string   `json:"state"`
}

type prCreate struct {
	base
	params prCreateParams
}

func (a *prCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	pr, err := ec.Dest.CreatePullRequest(ctx, ec.Owner, ec.Repo, destclient.CreatePullRequestParams{
		Title: a.params.Title,
		Body:  a.params.Body,
		Head:  a.params.Head,
		Base:  a.params.Base,
		Draft: a.params.Draft,
	})
	if err != nil {
		// Merged and closed MRs often reference branches deleted at merge
		// time; the destination refuses such PRs. Record as an annotated
		// failure the report can distinguish from hard errors.
		if forgeerr.CategoryOf(err) == forgeerr.CategoryValidation && a.params.State == "closed" {
			return a.fail(fmt.Errorf(
				"source merge request !%d is closed and its branch %q no longer exists: %w",
				a.params.GitlabMRIID, a.params.Head, err))
		}
		return a.fail(err)
	}
	if a.params.State == "closed" {
		if err := ec.Dest.ClosePullRequest(ctx, ec.Owner, ec.Repo, pr.Number); err != nil {
			log.Printf("Created PR #%d but could not close it: %v", pr.Number, err)
		}
	}

	ec.IDMappings.Set("merge_request", strconv.Itoa(a.params.GitlabMRIID), strconv.Itoa(pr.Number))
	return a.succeed(
		map[string]any{"number": pr.Number, "html_url": pr.HTMLURL},
		map[string]any{"number": pr.Number},
	)
}

func (a *prCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if _, ok := ec.IDMappings.Get("merge_request", strconv.Itoa(a.params.GitlabMRIID)); ok {
		return a.simulated(WouldSkip, map[string]any{"reason": "merge request already mapped"})
	}
	return a.simulated(WouldCreate, map[string]any{
		"title": a.params.Title,
		"head":  a.params.Head,
		"base":  a.params.Base,
	})
}

// Rollback closes the pull request with a tombstone comment; the kind
// itself stays non-reversible.
func (a *prCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	number := intField(rollbackData, "number")
	if number == 0 {
		return fmt.Errorf("rollback data missing pull request number")
	}
	tombstone := "This pull request was created by a migration that has been rolled back."
	if err := ec.Dest.CreateIssueComment(ctx, ec.Owner, ec.Repo, number, tombstone); err != nil {
		return err
	}
	return ec.Dest.ClosePullRequest(ctx, ec.Owner, ec.Repo, number)
}

type prCommentParams struct {
	GitlabMRIID int    `json:"gitlab_mr_iid"`
	Body        string `json:"body"`
}

type prCommentAdd struct {
	base
	params prCommentParams
}

func (a *prCommentAdd) Execute(ctx context.Context, ec *ExecContext) *Result {
	dest, ok := ec.IDMappings.Get("merge_request", strconv.Itoa(a.params.GitlabMRIID))
	if !ok {
		return a.fail(fmt.Errorf("no destination mapping for merge request %d", a.params.GitlabMRIID))
	}
	number, err := strconv.Atoi(dest)
	if err != nil {
		return a.fail(fmt.Errorf("invalid merge request mapping %q", dest))
	}
	// PR comments ride the issues comment endpoint.
	if err := ec.Dest.CreateIssueComment(ctx, ec.Owner, ec.Repo, number, a.params.Body); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"pr_number": number}, nil)
}

func (a *prCommentAdd) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"mr_iid": a.params.GitlabMRIID})
}

func (a *prCommentAdd) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("pr_comment_add is not reversible")
}
