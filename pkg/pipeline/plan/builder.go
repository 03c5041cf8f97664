package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// Inputs carries everything the builder reads: transform outputs plus the
// slices of export metadata that plan actions need directly.
type Inputs struct {
	Transform *transform.Result

	Variables    []sourceclient.Variable
	Environments []sourceclient.Environment
	Schedules    []sourceclient.Schedule
	Releases     []sourceclient.Release
	Packages     []sourceclient.Package
	Members      []sourceclient.Member

	BundlePath    string
	DefaultBranch string
	Visibility    string
	Description   string
	Topics        []string
	HasWiki       bool
	HasLFS        bool
}

// estimatedSeconds per action type, feeding the plan summary.
var estimatedSeconds = map[ActionType]int{
	ActionRepoCreate: 5, ActionRepoPush: 120, ActionRepoConfigure: 3,
	ActionLFSConfigure: 60, ActionWorkflowCommit: 4, ActionEnvironmentCreate: 3,
	ActionSecretSet: 3, ActionVariableSet: 2, ActionScheduleCreate: 3,
	ActionLabelCreate: 2, ActionMilestoneCreate: 2, ActionIssueCreate: 4,
	ActionPRCreate: 5, ActionPRCommentAdd: 2, ActionIssueCommentAdd: 2,
	ActionWikiPush: 30, ActionWikiCommit: 4, ActionReleaseCreate: 4,
	ActionReleaseAssetUpload: 20, ActionPackagePublish: 2, ActionProtectionSet: 4,
	ActionCollaboratorAdd: 2, ActionTeamCreate: 3, ActionCodeownersCommit: 4,
	ActionWebhookCreate: 3, ActionWebhookConfigure: 2, ActionArtifactCommit: 5,
	ActionAttachmentsCommit: 15,
}

// reversibleTypes is the reversibility table. Reversibility is a property
// of the kind, not of any one result.
var reversibleTypes = map[ActionType]bool{
	ActionRepoCreate: true, ActionLabelCreate: true, ActionMilestoneCreate: true,
	ActionReleaseCreate: true, ActionProtectionSet: true, ActionCollaboratorAdd: true,
	ActionWebhookCreate: true, ActionEnvironmentCreate: true,
	// issue_create and pr_create roll back by closing with a tombstone
	// comment, which the apply stage treats as non-reversible kinds with a
	// best-effort rollback; they stay out of this table.
}

// dryRunUnsafeTypes cannot even be simulated without side effects worth
// flagging (git pushes probe nothing remotely).
var dryRunUnsafeTypes = map[ActionType]bool{}

// Builder assembles a migration plan for one project.
type Builder struct {
	runID         string
	projectID     string
	gitlabProject string
	githubTarget  string

	nextID     int
	actions    []Action
	userInputs []UserInput
}

// NewBuilder creates a builder. projectID is the stable identifier salted
// into every idempotency key.
func NewBuilder(runID, projectID, gitlabProject, githubTarget string) *Builder {
	return &Builder{
		runID:         runID,
		projectID:     projectID,
		gitlabProject: gitlabProject,
		githubTarget:  githubTarget,
		nextID:        1,
	}
}

// add appends an action, assigning its id and idempotency key.
func (b *Builder) add(a Action) int {
	a.ID = b.nextID
	b.nextID++
	if a.Parameters == nil {
		a.Parameters = map[string]any{}
	}
	a.Reversible = reversibleTypes[a.Type]
	a.DryRunSafe = !dryRunUnsafeTypes[a.Type]
	a.EstimatedDuration = estimatedSeconds[a.Type]
	// The full parameter record is salted into the key hash so two actions
	// of one type on the same entity (e.g. two comments on one issue)
	// cannot collide. Map marshaling sorts keys, keeping the salt stable.
	extra, _ := json.Marshal(a.Parameters)
	a.IdempotencyKey = IdempotencyKey(b.projectID, a, string(extra))
	b.actions = append(b.actions, a)
	return a.ID
}

// Build wires every action with its dependencies, validates the DAG, and
// emits the plan in Kahn order.
func (b *Builder) Build(in Inputs) (*Plan, error) {
	t := in.Transform

	// Foundation: repository creation, push, configuration.
	repoCreate := b.add(Action{
		Type:      ActionRepoCreate,
		Component: "repository",
		Phase:     PhaseFoundation,
		Description: fmt.Sprintf("Create repository %s", b.githubTarget),
		Parameters: map[string]any{
			"name":        repoName(b.githubTarget),
			"description": in.Description,
			"private":     in.Visibility != "public",
			"has_wiki":    in.HasWiki,
		},
	})
	repoPush := b.add(Action{
		Type:        ActionRepoPush,
		Component:   "repository",
		Phase:       PhaseFoundation,
		Description: "Push git bundle with all refs",
		Parameters: map[string]any{
			"name":           "code",
			"bundle_path":    in.BundlePath,
			"default_branch": in.DefaultBranch,
		},
		Dependencies: []int{repoCreate},
	})
	if len(in.Topics) > 0 || in.DefaultBranch != "" {
		b.add(Action{
			Type:        ActionRepoConfigure,
			Component:   "repository",
			Phase:       PhaseFoundation,
			Description: "Apply repository settings",
			Parameters: map[string]any{
				"name":           "settings",
				"topics":         in.Topics,
				"default_branch": in.DefaultBranch,
			},
			Dependencies: []int{repoPush},
		})
	}
	if in.HasLFS {
		b.add(Action{
			Type:        ActionLFSConfigure,
			Component:   "repository",
			Phase:       PhaseFoundation,
			Description: "Configure git-lfs and push LFS objects",
			Parameters:  map[string]any{"name": "lfs"},
			Dependencies: []int{repoPush},
		})
	}

	// CI setup: workflows, environments, secrets, variables, schedules.
	var workflowCommits []int
	if t != nil && t.CI != nil {
		var names []string
		for name := range t.CI.Workflows {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			id := b.add(Action{
				Type:        ActionWorkflowCommit,
				Component:   "ci_cd",
				Phase:       PhaseCISetup,
				Description: fmt.Sprintf("Commit workflow %s", name),
				Parameters: map[string]any{
					"name": name,
					"path": ".github/workflows/" + name,
				},
				Dependencies: []int{repoPush},
			})
			workflowCommits = append(workflowCommits, id)
		}
	}

	envActions := map[string]int{}
	for _, env := range in.Environments {
		envActions[env.Name] = b.add(Action{
			Type:        ActionEnvironmentCreate,
			Component:   "ci_cd",
			Phase:       PhaseCISetup,
			Description: fmt.Sprintf("Create environment %s", env.Name),
			Parameters:  map[string]any{"name": env.Name},
			Dependencies: []int{repoCreate},
		})
	}

	for _, variable := range in.Variables {
		b.addVariable(variable, repoCreate, envActions)
	}

	for _, schedule := range in.Schedules {
		deps := []int{repoPush}
		deps = append(deps, workflowCommits...)
		b.add(Action{
			Type:        ActionScheduleCreate,
			Component:   "ci_cd",
			Phase:       PhaseCISetup,
			Description: fmt.Sprintf("Recreate pipeline schedule %q as a workflow cron", schedule.Description),
			Parameters: map[string]any{
				"name": schedule.Description,
				"cron": schedule.Cron,
				"ref":  schedule.Ref,
			},
			Dependencies: deps,
		})
	}

	// Issue setup: labels and milestones.
	labelActions := map[string]int{}
	milestoneActions := map[string]int{}
	if t != nil {
		for _, label := range t.Labels {
			labelActions[label.Name] = b.add(Action{
				Type:        ActionLabelCreate,
				Component:   "issues",
				Phase:       PhaseIssueSetup,
				Description: fmt.Sprintf("Create label %s", label.Name),
				Parameters: map[string]any{
					"name":        label.Name,
					"color":       label.Color,
					"description": label.Description,
				},
				Dependencies: []int{repoCreate},
			})
		}
		for _, milestone := range t.Milestones {
			milestoneActions[milestone.Title] = b.add(Action{
				Type:        ActionMilestoneCreate,
				Component:   "issues",
				Phase:       PhaseIssueSetup,
				Description: fmt.Sprintf("Create milestone %s", milestone.Title),
				Parameters: map[string]any{
					"title":       milestone.Title,
					"state":       milestone.State,
					"description": milestone.Description,
					"due_on":      milestone.DueOn,
				},
				Dependencies: []int{repoCreate},
			})
		}

		// Issue import.
		for _, issue := range t.Issues {
			deps := []int{repoCreate}
			for _, label := range issue.Labels {
				if id, ok := labelActions[label]; ok {
					deps = append(deps, id)
				}
			}
			if issue.Milestone != "" {
				if id, ok := milestoneActions[issue.Milestone]; ok {
					deps = append(deps, id)
				}
			}
			issueID := b.add(Action{
				Type:        ActionIssueCreate,
				Component:   "issues",
				Phase:       PhaseIssueImport,
				Description: fmt.Sprintf("Create issue #%d: %s", issue.SourceIID, issue.Title),
				Parameters: map[string]any{
					"gitlab_issue_iid": issue.SourceIID,
					"title":            issue.Title,
					"body":             issue.Body,
					"labels":           issue.Labels,
					"milestone":        issue.Milestone,
					"assignees":        issue.Assignees,
					"state":            issue.State,
				},
				Dependencies: deps,
			})
			for i, comment := range issue.Comments {
				b.add(Action{
					Type:        ActionIssueCommentAdd,
					Component:   "issues",
					Phase:       PhaseIssueImport,
					Description: fmt.Sprintf("Add comment %d to issue #%d", i+1, issue.SourceIID),
					Parameters: map[string]any{
						"gitlab_issue_iid": issue.SourceIID,
						"name":             fmt.Sprintf("issue_%d_comment_%d", issue.SourceIID, i+1),
						"body":             comment.Body,
					},
					Dependencies: []int{issueID},
				})
			}
		}

		// PR import.
		for _, mr := range t.MRs {
			deps := []int{repoPush}
			for _, label := range mr.Labels {
				if id, ok := labelActions[label]; ok {
					deps = append(deps, id)
				}
			}
			prID := b.add(Action{
				Type:        ActionPRCreate,
				Component:   "merge_requests",
				Phase:       PhasePRImport,
				Description: fmt.Sprintf("Create pull request !%d: %s", mr.SourceIID, mr.Title),
				Parameters: map[string]any{
					"gitlab_mr_iid": mr.SourceIID,
					"title":         mr.Title,
					"body":          mr.Body,
					"head":          mr.SourceBranch,
					"base":          mr.TargetBranch,
					"labels":        mr.Labels,
					"draft":         mr.Draft,
					"state":         mr.State,
				},
				Dependencies: deps,
			})
			for i, comment := range mr.Comments {
				b.add(Action{
					Type:        ActionPRCommentAdd,
					Component:   "merge_requests",
					Phase:       PhasePRImport,
					Description: fmt.Sprintf("Add comment %d to pull request !%d", i+1, mr.SourceIID),
					Parameters: map[string]any{
						"gitlab_mr_iid": mr.SourceIID,
						"name":          fmt.Sprintf("mr_%d_comment_%d", mr.SourceIID, i+1),
						"body":          comment.Body,
					},
					Dependencies: []int{prID},
				})
			}
		}
	}

	// Wiki import.
	if in.HasWiki {
		wikiPush := b.add(Action{
			Type:        ActionWikiPush,
			Component:   "wiki",
			Phase:       PhaseWikiImport,
			Description: "Push wiki repository",
			Parameters:  map[string]any{"name": "wiki"},
			Dependencies: []int{repoCreate},
		})
		b.add(Action{
			Type:        ActionWikiCommit,
			Component:   "wiki",
			Phase:       PhaseWikiImport,
			Description: "Commit migration provenance page to the wiki",
			Parameters:  map[string]any{"name": "wiki_provenance"},
			Dependencies: []int{wikiPush},
		})
	}

	// Release import.
	for _, release := range in.Releases {
		releaseID := b.add(Action{
			Type:        ActionReleaseCreate,
			Component:   "releases",
			Phase:       PhaseReleaseImport,
			Description: fmt.Sprintf("Create release %s", release.TagName),
			Parameters: map[string]any{
				"tag_name":    release.TagName,
				"title":       release.Name,
				"description": release.Description,
			},
			Dependencies: []int{repoPush},
		})
		for _, asset := range release.Assets.Links {
			if asset.LocalPath == "" {
				continue
			}
			b.add(Action{
				Type:        ActionReleaseAssetUpload,
				Component:   "releases",
				Phase:       PhaseReleaseImport,
				Description: fmt.Sprintf("Upload asset %s to release %s", asset.Name, release.TagName),
				Parameters: map[string]any{
					"tag_name":   release.TagName,
					"name":       asset.Name,
					"local_path": asset.LocalPath,
				},
				Dependencies: []int{releaseID},
			})
		}
	}

	// Package import: metadata only, the registry bits stay behind.
	for _, pkg := range in.Packages {
		b.add(Action{
			Type:        ActionPackagePublish,
			Component:   "packages",
			Phase:       PhasePackageImport,
			Description: fmt.Sprintf("Record %s package %s@%s for manual republication", pkg.PackageType, pkg.Name, pkg.Version),
			Parameters: map[string]any{
				"name":         pkg.Name,
				"version":      pkg.Version,
				"package_type": pkg.PackageType,
			},
			Dependencies: []int{repoCreate},
		})
	}

	// Governance: teams, CODEOWNERS, protections, collaborators.
	if t != nil {
		var teamIDs []int
		for _, team := range codeownersTeams(t.Codeowners) {
			teamIDs = append(teamIDs, b.add(Action{
				Type:        ActionTeamCreate,
				Component:   "settings",
				Phase:       PhaseGovernance,
				Description: fmt.Sprintf("Create team %s referenced by CODEOWNERS", team),
				Parameters:  map[string]any{"name": team},
			}))
		}
		if t.Codeowners != "" {
			deps := []int{repoPush}
			deps = append(deps, teamIDs...)
			b.add(Action{
				Type:        ActionCodeownersCommit,
				Component:   "settings",
				Phase:       PhaseGovernance,
				Description: "Commit CODEOWNERS generated from approval rules",
				Parameters:  map[string]any{"name": "CODEOWNERS", "path": ".github/CODEOWNERS"},
				Dependencies: deps,
			})
		}
		for _, protection := range t.Protections {
			deps := []int{repoPush}
			deps = append(deps, workflowCommits...)
			b.add(Action{
				Type:        ActionProtectionSet,
				Component:   "settings",
				Phase:       PhaseGovernance,
				Description: fmt.Sprintf("Protect branch %s", protection.Branch),
				Parameters: map[string]any{
					"branch":                   protection.Branch,
					"required_reviews":         protection.RequiredPullRequestReviews.RequiredApprovingReviewCount,
					"require_code_owners":      protection.RequiredPullRequestReviews.RequireCodeOwnerReviews,
					"required_status_contexts": protection.RequiredStatusChecks.Contexts,
					"allow_force_pushes":       protection.AllowForcePushes,
				},
				Dependencies: deps,
			})
		}
		for _, mapping := range t.Users.Mappings {
			if mapping.DestinationLogin == "" || mapping.Confidence == transform.ConfidenceLow {
				continue
			}
			b.add(Action{
				Type:        ActionCollaboratorAdd,
				Component:   "settings",
				Phase:       PhaseGovernance,
				Description: fmt.Sprintf("Add collaborator %s", mapping.DestinationLogin),
				Parameters: map[string]any{
					"name":       mapping.DestinationLogin,
					"permission": "push",
				},
				Dependencies: []int{repoCreate},
			})
		}

		// Integrations: webhooks.
		for i, hook := range t.Webhooks {
			hookID := b.add(Action{
				Type:        ActionWebhookCreate,
				Component:   "webhooks",
				Phase:       PhaseIntegrations,
				Description: fmt.Sprintf("Create webhook %s", hook.URL),
				Parameters: map[string]any{
					"name":         fmt.Sprintf("webhook_%d", i+1),
					"url":          hook.URL,
					"events":       hook.Events,
					"secret":       constants.UserInputPlaceholder,
					"insecure_ssl": hook.InsecureSSL,
				},
				Dependencies: []int{repoCreate},
			})
			b.userInputs = append(b.userInputs, UserInput{
				Type:     "webhook_secret",
				Key:      hook.URL,
				Scope:    "repository",
				Reason:   "the source forge does not return webhook secrets",
				Required: false,
				Fallback: "generate_random",
			})
			if hook.InsecureSSL {
				b.add(Action{
					Type:        ActionWebhookConfigure,
					Component:   "webhooks",
					Phase:       PhaseIntegrations,
					Description: fmt.Sprintf("Disable SSL verification on webhook %s", hook.URL),
					Parameters: map[string]any{
						"name":         fmt.Sprintf("webhook_%d_config", i+1),
						"url":          hook.URL,
						"insecure_ssl": true,
					},
					Dependencies: []int{hookID},
				})
			}
		}
	}

	// Preservation: provenance artifacts and attachments.
	b.add(Action{
		Type:        ActionArtifactCommit,
		Component:   "preservation",
		Phase:       PhasePreservation,
		Description: "Commit migration provenance artifacts",
		Parameters:  map[string]any{"name": "provenance", "path": ".migration"},
		Dependencies: []int{repoPush},
	})
	if t != nil && hasAttachments(t) {
		b.add(Action{
			Type:        ActionAttachmentsCommit,
			Component:   "preservation",
			Phase:       PhasePreservation,
			Description: "Commit migrated attachments",
			Parameters:  map[string]any{"name": "attachments", "path": ".migration/attachments"},
			Dependencies: []int{repoPush},
		})
	}

	return b.finish()
}

// addVariable plans one CI variable: masked or protected values become
// secrets, plain values become repository variables. A masked value is
// unknown to the export, so the operator must supply it.
func (b *Builder) addVariable(variable sourceclient.Variable, repoCreate int, envActions map[string]int) {
	scoped := variable.EnvironmentScope != "" && variable.EnvironmentScope != "*"
	deps := []int{repoCreate}
	scope := "repository"
	environment := ""
	if scoped {
		if envID, ok := envActions[variable.EnvironmentScope]; ok {
			deps = []int{envID}
		}
		scope = "environment"
		environment = variable.EnvironmentScope
	}

	if variable.Masked || variable.Protected {
		params := map[string]any{
			"name":        variable.Key,
			"scope":       scope,
			"environment": environment,
			"value":       constants.UserInputPlaceholder,
		}
		b.add(Action{
			Type:              ActionSecretSet,
			Component:         "ci_cd",
			Phase:             PhaseCISetup,
			Description:       fmt.Sprintf("Set secret %s", variable.Key),
			Parameters:        params,
			Dependencies:      deps,
			RequiresUserInput: true,
		})
		b.userInputs = append(b.userInputs, UserInput{
			Type:        "secret_value",
			Key:         variable.Key,
			Scope:       scope,
			Environment: environment,
			Reason:      "masked variables cannot be read from the source forge",
			Required:    true,
		})
		return
	}

	b.add(Action{
		Type:        ActionVariableSet,
		Component:   "ci_cd",
		Phase:       PhaseCISetup,
		Description: fmt.Sprintf("Set variable %s", variable.Key),
		Parameters: map[string]any{
			"name":  variable.Key,
			"scope": scope,
			// Plain values are re-read from the export at apply time; the
			// plan itself carries no variable values.
		},
		Dependencies: deps,
	})
}

// finish validates the DAG, orders the actions, and assembles the plan.
func (b *Builder) finish() (*Plan, error) {
	g := buildGraph(b.actions)
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	byID := make(map[int]Action, len(b.actions))
	for _, a := range b.actions {
		byID[a.ID] = a
	}
	ordered := make([]Action, 0, len(b.actions))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}

	summary := Summary{ByType: map[ActionType]int{}}
	totalSeconds := 0
	for _, a := range ordered {
		summary.Total++
		summary.ByType[a.Type]++
		totalSeconds += a.EstimatedDuration
		if a.RequiresUserInput {
			summary.RequiresUserInput++
		}
	}
	summary.EstimatedMinutes = (totalSeconds + 59) / 60

	var phases []PhaseGroup
	for i, phase := range PhaseOrder {
		group := PhaseGroup{
			Name:         phase,
			Description:  phaseDescriptions[phase],
			Order:        i,
			ParallelSafe: ParallelSafePhases[phase],
		}
		for _, a := range ordered {
			if a.Phase == phase {
				group.Actions = append(group.Actions, a.ID)
			}
		}
		if len(group.Actions) > 0 {
			phases = append(phases, group)
		}
	}

	return &Plan{
		Version:       constants.PlanVersion,
		RunID:         b.runID,
		GitlabProject: b.gitlabProject,
		GithubTarget:  b.githubTarget,
		GeneratedAt:   time.Now().UTC(),
		Summary:       summary,
		Actions:       ordered,
		Phases:        phases,
		Validation: Validation{
			AllDepsResolvable:        true,
			NoCycles:                 true,
			RequiredInputsIdentified: true,
		},
		UserInputsRequired: b.userInputs,
	}, nil
}

func repoName(githubTarget string) string {
	if idx := strings.LastIndex(githubTarget, "/"); idx >= 0 {
		return githubTarget[idx+1:]
	}
	return githubTarget
}

// codeownersTeams extracts the org team slugs referenced by a CODEOWNERS
// body, e.g. "@acme/platform" yields "platform".
func codeownersTeams(codeowners string) []string {
	var teams []string
	seen := map[string]bool{}
	for _, field := range strings.Fields(codeowners) {
		if !strings.HasPrefix(field, "@") {
			continue
		}
		if _, team, ok := strings.Cut(field[1:], "/"); ok && team != "" && !seen[team] {
			seen[team] = true
			teams = append(teams, team)
		}
	}
	sort.Strings(teams)
	return teams
}

func hasAttachments(t *transform.Result) bool {
	for _, issue := range t.Issues {
		if len(issue.Attachments) > 0 {
			return true
		}
	}
	for _, mr := range t.MRs {
		if len(mr.Attachments) > 0 {
			return true
		}
	}
	return false
}
