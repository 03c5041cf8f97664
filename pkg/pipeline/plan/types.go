package plan

import "time"

// ActionType enumerates every kind of work the apply stage can perform.
type ActionType string

const (
	ActionRepoCreate         ActionType = "repo_create"
	ActionRepoPush           ActionType = "repo_push"
	ActionRepoConfigure      ActionType = "repo_configure"
	ActionLFSConfigure       ActionType = "lfs_configure"
	ActionWorkflowCommit     ActionType = "workflow_commit"
	ActionEnvironmentCreate  ActionType = "environment_create"
	ActionSecretSet          ActionType = "secret_set"
	ActionVariableSet        ActionType = "variable_set"
	ActionScheduleCreate     ActionType = "schedule_create"
	ActionLabelCreate        ActionType = "label_create"
	ActionMilestoneCreate    ActionType = "milestone_create"
	ActionIssueCreate        ActionType = "issue_create"
	ActionPRCreate           ActionType = "pr_create"
	ActionPRCommentAdd       ActionType = "pr_comment_add"
	ActionIssueCommentAdd    ActionType = "issue_comment_add"
	ActionWikiPush           ActionType = "wiki_push"
	ActionWikiCommit         ActionType = "wiki_commit"
	ActionReleaseCreate      ActionType = "release_create"
	ActionReleaseAssetUpload ActionType = "release_asset_upload"
	ActionPackagePublish     ActionType = "package_publish"
	ActionProtectionSet      ActionType = "protection_set"
	ActionCollaboratorAdd    ActionType = "collaborator_add"
	ActionTeamCreate         ActionType = "team_create"
	ActionCodeownersCommit   ActionType = "codeowners_commit"
	ActionWebhookCreate      ActionType = "webhook_create"
	ActionWebhookConfigure   ActionType = "webhook_configure"
	ActionArtifactCommit     ActionType = "artifact_commit"
	ActionAttachmentsCommit  ActionType = "attachments_commit"
)

// Phase names, in fixed execution order.
type Phase string

const (
	PhaseFoundation    Phase = "foundation"
	PhaseCISetup       Phase = "ci_setup"
	PhaseIssueSetup    Phase = "issue_setup"
	PhaseIssueImport   Phase = "issue_import"
	PhasePRImport      Phase = "pr_import"
	PhaseWikiImport    Phase = "wiki_import"
	PhaseReleaseImport Phase = "release_import"
	PhasePackageImport Phase = "package_import"
	PhaseGovernance    Phase = "governance"
	PhaseIntegrations  Phase = "integrations"
	PhasePreservation  Phase = "preservation"
)

// PhaseOrder is the fixed phase sequence. Only issue_import and pr_import
// tolerate inter-action concurrency.
var PhaseOrder = []Phase{
	PhaseFoundation, PhaseCISetup, PhaseIssueSetup, PhaseIssueImport,
	PhasePRImport, PhaseWikiImport, PhaseReleaseImport, PhasePackageImport,
	PhaseGovernance, PhaseIntegrations, PhasePreservation,
}

// ParallelSafePhases marks the phases whose actions may fan out, provided
// each action's cross-phase dependencies are already satisfied.
var ParallelSafePhases = map[Phase]bool{
	PhaseIssueImport: true,
	PhasePRImport:    true,
}

// phaseDescriptions annotate the plan's phase listing.
var phaseDescriptions = map[Phase]string{
	PhaseFoundation:    "Create the repository and push code",
	PhaseCISetup:       "Commit workflows, environments, secrets, and variables",
	PhaseIssueSetup:    "Create labels and milestones",
	PhaseIssueImport:   "Create issues with comments",
	PhasePRImport:      "Create pull requests with comments",
	PhaseWikiImport:    "Push wiki content",
	PhaseReleaseImport: "Create releases and upload assets",
	PhasePackageImport: "Record package migration artifacts",
	PhaseGovernance:    "Apply branch protections, CODEOWNERS, and collaborators",
	PhaseIntegrations:  "Create webhooks",
	PhasePreservation:  "Commit migration provenance artifacts",
}

// Action is the atomic unit of apply.
type Action struct {
	ID                int            `json:"id"`
	Type              ActionType     `json:"type"`
	Component         string         `json:"component"`
	Phase             Phase          `json:"phase"`
	Description       string         `json:"description"`
	Parameters        map[string]any `json:"parameters"`
	Dependencies      []int          `json:"dependencies"`
	IdempotencyKey    string         `json:"idempotency_key"`
	DryRunSafe        bool           `json:"dry_run_safe"`
	Reversible        bool           `json:"reversible"`
	EstimatedDuration int            `json:"estimated_duration_seconds"`
	RequiresUserInput bool           `json:"requires_user_input,omitempty"`
	SkipIf            string         `json:"skip_if,omitempty"`
}

// PhaseGroup lists the actions of one phase in execution order.
type PhaseGroup struct {
	Name         Phase  `json:"name"`
	Description  string `json:"description"`
	Actions      []int  `json:"actions"`
	Order        int    `json:"order"`
	ParallelSafe bool   `json:"parallel_safe,omitempty"`
}

// Summary aggregates a plan.
type Summary struct {
	Total             int                `json:"total"`
	ByType            map[ActionType]int `json:"by_type"`
	EstimatedMinutes  int                `json:"est_minutes"`
	RequiresUserInput int                `json:"requires_user_input"`
}

// Validation records the checks run before a plan is emitted.
type Validation struct {
	AllDepsResolvable        bool `json:"all_deps_resolvable"`
	NoCycles                 bool `json:"no_cycles"`
	RequiredInputsIdentified bool `json:"required_inputs_identified"`
}

// UserInput is one value the operator must supply before apply.
type UserInput struct {
	Type        string `json:"type"` // secret_value | webhook_secret
	Key         string `json:"key"`
	Scope       string `json:"scope"` // repository | environment
	Environment string `json:"environment,omitempty"`
	Reason      string `json:"reason"`
	Required    bool   `json:"required"`
	Fallback    string `json:"fallback,omitempty"`
}

// Plan is the complete migration plan, the contract between the plan and
// apply stages. Its JSON schema is versioned.
type Plan struct {
	Version            string       `json:"version"`
	RunID              string       `json:"run_id"`
	GitlabProject      string       `json:"gitlab_project"`
	GithubTarget       string       `json:"github_target"`
	GeneratedAt        time.Time    `json:"generated_at"`
	Summary            Summary      `json:"summary"`
	Actions            []Action     `json:"actions"`
	Phases             []PhaseGroup `json:"phases"`
	Validation         Validation   `json:"validation"`
	UserInputsRequired []UserInput  `json:"user_inputs_required"`
}

// ActionByID returns the action with the given id, or nil.
func (p *Plan) ActionByID(id int) *Action {
	for i := range p.Actions {
		if p.Actions[i].ID == id {
			return &p.Actions[i]
		}
	}
	return nil
}
