package action

import (
	"context"
	"fmt"
	"strconv"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerIssueActions() {
	r.Register(plan.ActionLabelCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[labelCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &labelCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionMilestoneCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[milestoneCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &milestoneCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionIssueCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[issueCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &issueCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionIssueCommentAdd, func(a plan.Action) (Action, error) {
		params, err := decodeParams[issueCommentParams](a)
		if err != nil {
			return nil, err
		}
		return &issueCommentAdd{base{a}, params}, nil
	})
}

type labelCreateParams struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type labelCreate struct {
	base
	params labelCreateParams
}

func (a *labelCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	label, err := ec.Dest.CreateLabel(ctx, ec.Owner, ec.Repo, a.params.Name, a.params.Color, a.params.Description)
	if err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("label", a.params.Name, label.Name)
	return a.succeed(
		map[string]any{"name": label.Name},
		map[string]any{"name": label.Name},
	)
}

func (a *labelCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	labels, err := ec.Dest.ListLabels(ctx, ec.Owner, ec.Repo)
	if err == nil {
		for _, label := range labels {
			if label.Name == a.params.Name {
				return a.simulated(WouldSkip, map[string]any{"reason": "label already exists"})
			}
		}
	}
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name})
}

func (a *labelCreate) CheckExisting(ctx context.Context, ec *ExecContext) (*Result, bool) {
	labels, err := ec.Dest.ListLabels(ctx, ec.Owner, ec.Repo)
	if err != nil {
		return nil, false
	}
	for _, label := range labels {
		if label.Name == a.params.Name {
			ec.IDMappings.Set("label", a.params.Name, label.Name)
			return a.succeed(
				map[string]any{"name": label.Name, "already_existed": true},
				map[string]any{"name": label.Name},
			), true
		}
	}
	return nil, false
}

func (a *labelCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	name := stringField(rollbackData, "name")
	if name == "" {
		return fmt.Errorf("rollback data missing label name")
	}
	return ec.Dest.DeleteLabel(ctx, ec.Owner, ec.Repo, name)
}

type milestoneCreateParams struct {
	Title       string `json:"title"`
	State       string `json:"state"`
	Description string `json:"description"`
	DueOn       string `json:"due_on"`
}

type milestoneCreate struct {
	base
	params milestoneCreateParams
}

func (a *milestoneCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	milestone, err := ec.Dest.CreateMilestone(ctx, ec.Owner, ec.Repo, destclient.CreateMilestoneParams{
		Title:       a.params.Title,
		State:       a.params.State,
		Description: a.params.Description,
		DueOn:       a.params.DueOn,
	})
	if err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("milestone", a.params.Title, strconv.Itoa(milestone.Number))
	return a.succeed(
		map[string]any{"number": milestone.Number},
		map[string]any{"number": milestone.Number},
	)
}

func (a *milestoneCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	milestones, err := ec.Dest.ListMilestones(ctx, ec.Owner, ec.Repo)
	if err == nil {
		for _, m := range milestones {
			if m.Title == a.params.Title {
				return a.simulated(WouldSkip, map[string]any{"reason": "milestone already exists"})
			}
		}
	}
	return a.simulated(WouldCreate, map[string]any{"title": a.params.Title})
}

func (a *milestoneCreate) CheckExisting(ctx context.Context, ec *ExecContext) (*Result, bool) {
	milestones, err := ec.Dest.ListMilestones(ctx, ec.Owner, ec.Repo)
	if err != nil {
		return nil, false
	}
	for _, m := range milestones {
		if m.Title == a.params.Title {
			ec.IDMappings.Set("milestone", a.params.Title, strconv.Itoa(m.Number))
			return a.succeed(
				map[string]any{"number": m.Number, "already_existed": true},
				map[string]any{"number": m.Number},
			), true
		}
	}
	return nil, false
}

func (a *milestoneCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	number := intField(rollbackData, "number")
	if number == 0 {
		return fmt.Errorf("rollback data missing milestone number")
	}
	return ec.Dest.DeleteMilestone(ctx, ec.Owner, ec.Repo, number)
}

type issueCreateParams struct {
	GitlabIssueIID int      `json:"gitlab_issue_iid"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Labels         []string `json:"labels"`
	Milestone      string   `json:"milestone"`
	Assignees      []string `json:"assignees"`
	State          string   `json:"state"`
}

type issueCreate struct {
	base
	params issueCreateParams
}

func (a *issueCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	create := destclient.CreateIssueParams{
		Title:     a.params.Title,
		Body:      a.params.Body,
		Labels:    a.params.Labels,
		Assignees: a.params.Assignees,
	}
	if a.params.Milestone != "" {
		if dest, ok := ec.IDMappings.Get("milestone", a.params.Milestone); ok {
			if number, err := strconv.Atoi(dest); err == nil {
				create.Milestone = number
			}
		}
	}

	issue, err := ec.Dest.CreateIssue(ctx, ec.Owner, ec.Repo, create)
	if err != nil {
		return a.fail(err)
	}
	if a.params.State == "closed" {
		if err := ec.Dest.CloseIssue(ctx, ec.Owner, ec.Repo, issue.Number); err != nil {
			log.Printf("Created issue #%d but could not close it: %v", issue.Number, err)
		}
	}

	ec.IDMappings.Set("issue", strconv.Itoa(a.params.GitlabIssueIID), strconv.Itoa(issue.Number))
	return a.succeed(
		map[string]any{"number": issue.Number, "html_url": issue.HTMLURL},
		map[string]any{"number": issue.Number},
	)
}

func (a *issueCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	// Consulting the id-mapping table makes a chained simulation predict
	// created dependencies as present rather than failing on them.
	if _, ok := ec.IDMappings.Get("issue", strconv.Itoa(a.params.GitlabIssueIID)); ok {
		return a.simulated(WouldSkip, map[string]any{"reason": "issue already mapped"})
	}
	return a.simulated(WouldCreate, map[string]any{"title": a.params.Title})
}

// Rollback closes the issue with a tombstone comment. The kind stays
// non-reversible; the rollback operation counts it as skipped and this
// method exists for targeted manual rollback.
func (a *issueCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	number := intField(rollbackData, "number")
	if number == 0 {
		return fmt.Errorf("rollback data missing issue number")
	}
	tombstone := "This issue was created by a migration that has been rolled back."
	if err := ec.Dest.CreateIssueComment(ctx, ec.Owner, ec.Repo, number, tombstone); err != nil {
		return err
	}
	return ec.Dest.CloseIssue(ctx, ec.Owner, ec.Repo, number)
}

type issueCommentParams struct {
	GitlabIssueIID int    `json:"gitlab_issue_iid"`
	Body           string `json:"body"`
}

type issueCommentAdd struct {
	base
	params issueCommentParams
}

func (a *issueCommentAdd) Execute(ctx context.Context, ec *ExecContext) *Result {
	dest, ok := ec.IDMappings.Get("issue", strconv.Itoa(a.params.GitlabIssueIID))
	if !ok {
		return a.fail(fmt.Errorf("no destination mapping for issue %d", a.params.GitlabIssueIID))
	}
	number, err := strconv.Atoi(dest)
	if err != nil {
		return a.fail(fmt.Errorf("invalid issue mapping %q", dest))
	}
	if err := ec.Dest.CreateIssueComment(ctx, ec.Owner, ec.Repo, number, a.params.Body); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"issue_number": number}, nil)
}

func (a *issueCommentAdd) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"issue_iid": a.params.GitlabIssueIID})
}

func (a *issueCommentAdd) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("issue_comment_add is not reversible")
}
