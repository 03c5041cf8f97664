package plan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

func minimalInputs() Inputs {
	return Inputs{
		Transform:     &transform.Result{},
		BundlePath:    "export/repository/bundle.git",
		DefaultBranch: "main",
		Visibility:    "private",
	}
}

func fullInputs() Inputs {
	in := minimalInputs()
	in.Transform = &transform.Result{
		CI: &transform.CIConversion{
			Workflows: map[string]string{"ci.yml": "name: ci\n"},
			JobNames:  []string{"build"},
		},
		Labels: []transform.TransformedLabel{
			{Name: "bug", Color: "ff0000"},
		},
		Milestones: []transform.TransformedMilestone{
			{Title: "v1.0", State: "open"},
		},
		Issues: []transform.TransformedIssue{
			{SourceIID: 7, Title: "Crash", Labels: []string{"bug"}, Milestone: "v1.0",
				Comments: []transform.TransformedComment{{Body: "me too"}}},
		},
		MRs: []transform.TransformedMR{
			{SourceIID: 3, Title: "Fix crash", SourceBranch: "fix", TargetBranch: "main", Labels: []string{"bug"}},
		},
		Protections: []transform.BranchProtection{
			{Branch: "main", RequiredStatusChecks: transform.StatusChecks{Strict: true, Contexts: []string{"build"}}},
		},
		Webhooks: []transform.TransformedWebhook{
			{URL: "https://hooks.example.com/ci", Events: []string{"push"}},
		},
		Users: transform.UserMappingResult{Mappings: []transform.UserMapping{
			{SourceUsername: "alice", DestinationLogin: "adamsa", Confidence: transform.ConfidenceHigh},
		}},
	}
	in.Variables = []sourceclient.Variable{
		{Key: "DATABASE_URL", Masked: true, EnvironmentScope: "production"},
		{Key: "LOG_LEVEL", EnvironmentScope: "*"},
	}
	in.Environments = []sourceclient.Environment{{Name: "production"}}
	in.Releases = []sourceclient.Release{{
		TagName: "v1.0.0",
		Name:    "First release",
	}}
	in.HasWiki = true
	in.HasLFS = true
	return in
}

func buildPlan(t *testing.T, in Inputs) *Plan {
	t.Helper()
	p, err := NewBuilder("run-1", "1234", "group/proj", "acme/proj").Build(in)
	require.NoError(t, err)
	return p
}

func TestMinimalProjectPlan(t *testing.T) {
	p := buildPlan(t, minimalInputs())

	types := make([]ActionType, 0, len(p.Actions))
	for _, a := range p.Actions {
		types = append(types, a.Type)
	}
	require.Contains(t, types, ActionRepoCreate)
	require.Contains(t, types, ActionRepoPush)

	// repo_push depends on repo_create and follows it in the order.
	var createIdx, pushIdx int
	for i, a := range p.Actions {
		switch a.Type {
		case ActionRepoCreate:
			createIdx = i
		case ActionRepoPush:
			pushIdx = i
			require.Len(t, a.Dependencies, 1)
		}
	}
	require.Less(t, createIdx, pushIdx)
	require.True(t, p.Validation.NoCycles)
	require.True(t, p.Validation.AllDepsResolvable)
}

func TestIdempotencyKeysDeterministic(t *testing.T) {
	a := buildPlan(t, fullInputs())
	b := buildPlan(t, fullInputs())

	require.Equal(t, len(a.Actions), len(b.Actions))
	for i := range a.Actions {
		require.Equal(t, a.Actions[i].IdempotencyKey, b.Actions[i].IdempotencyKey,
			"action %d (%s) key must be stable across runs", a.Actions[i].ID, a.Actions[i].Type)
	}
}

func TestIdempotencyKeysUnique(t *testing.T) {
	p := buildPlan(t, fullInputs())
	seen := map[string]int{}
	for _, a := range p.Actions {
		if prev, dup := seen[a.IdempotencyKey]; dup {
			t.Fatalf("duplicate idempotency key %q on actions %d and %d", a.IdempotencyKey, prev, a.ID)
		}
		seen[a.IdempotencyKey] = a.ID
	}
}

func TestIdempotencyKeyShape(t *testing.T) {
	a := Action{ID: 9, Type: ActionIssueCreate, Parameters: map[string]any{"gitlab_issue_iid": 7}}
	key := IdempotencyKey("1234", a, "")
	require.Regexp(t, `^issue_create-7-[0-9a-f]{8}$`, key)

	// Missing entity identifiers fall back to the action id.
	b := Action{ID: 9, Type: ActionArtifactCommit, Parameters: map[string]any{}}
	keyB := IdempotencyKey("1234", b, "")
	require.Regexp(t, `^artifact_commit-action_9-[0-9a-f]{8}$`, keyB)
}

func TestEntityPriorityOrder(t *testing.T) {
	a := Action{Parameters: map[string]any{
		"gitlab_issue_iid": 7,
		"tag_name":         "v1",
		"name":             "x",
	}}
	require.Equal(t, "7", entityIdentifier(a))

	a.Parameters = map[string]any{"tag_name": "v1", "name": "x"}
	require.Equal(t, "v1", entityIdentifier(a))

	a.Parameters = map[string]any{"branch": "main"}
	require.Equal(t, "main", entityIdentifier(a))
}

func TestMaskedVariableBecomesUserInput(t *testing.T) {
	p := buildPlan(t, fullInputs())

	var secret *Action
	for i, a := range p.Actions {
		if a.Type == ActionSecretSet {
			secret = &p.Actions[i]
		}
	}
	require.NotNil(t, secret)
	require.True(t, secret.RequiresUserInput)
	require.Equal(t, constants.UserInputPlaceholder, secret.Parameters["value"])
	require.Equal(t, "environment", secret.Parameters["scope"])

	var input *UserInput
	for i, u := range p.UserInputsRequired {
		if u.Type == "secret_value" {
			input = &p.UserInputsRequired[i]
		}
	}
	require.NotNil(t, input)
	require.Equal(t, "DATABASE_URL", input.Key)
	require.Equal(t, "environment", input.Scope)
	require.Equal(t, "production", input.Environment)
	require.True(t, input.Required)
}

func TestSecretDependsOnEnvironment(t *testing.T) {
	p := buildPlan(t, fullInputs())

	var envID int
	for _, a := range p.Actions {
		if a.Type == ActionEnvironmentCreate {
			envID = a.ID
		}
	}
	require.NotZero(t, envID)
	for _, a := range p.Actions {
		if a.Type == ActionSecretSet {
			require.Contains(t, a.Dependencies, envID)
		}
	}
}

func TestWebhookSecretIsOptionalInput(t *testing.T) {
	p := buildPlan(t, fullInputs())
	var hookInput *UserInput
	for i, u := range p.UserInputsRequired {
		if u.Type == "webhook_secret" {
			hookInput = &p.UserInputsRequired[i]
		}
	}
	require.NotNil(t, hookInput)
	require.False(t, hookInput.Required)
	require.Equal(t, "generate_random", hookInput.Fallback)
}

func TestDependencyWiring(t *testing.T) {
	p := buildPlan(t, fullInputs())

	ids := map[ActionType]int{}
	actions := map[int]Action{}
	for _, a := range p.Actions {
		actions[a.ID] = a
		if _, ok := ids[a.Type]; !ok {
			ids[a.Type] = a.ID
		}
	}

	// workflow_commit depends on repo_push
	wf := actions[ids[ActionWorkflowCommit]]
	require.Contains(t, wf.Dependencies, ids[ActionRepoPush])

	// lfs_configure depends on repo_push
	lfs := actions[ids[ActionLFSConfigure]]
	require.Contains(t, lfs.Dependencies, ids[ActionRepoPush])

	// issue_create depends on repo_create, its label, and its milestone
	issue := actions[ids[ActionIssueCreate]]
	require.Contains(t, issue.Dependencies, ids[ActionRepoCreate])
	require.Contains(t, issue.Dependencies, ids[ActionLabelCreate])
	require.Contains(t, issue.Dependencies, ids[ActionMilestoneCreate])

	// pr_create depends on repo_push and the label
	pr := actions[ids[ActionPRCreate]]
	require.Contains(t, pr.Dependencies, ids[ActionRepoPush])
	require.Contains(t, pr.Dependencies, ids[ActionLabelCreate])

	// release_asset_upload is absent (no local assets); release_create
	// depends on repo_push
	release := actions[ids[ActionReleaseCreate]]
	require.Contains(t, release.Dependencies, ids[ActionRepoPush])

	// comment actions depend on their parent issue/PR
	comment := actions[ids[ActionIssueCommentAdd]]
	require.Contains(t, comment.Dependencies, ids[ActionIssueCreate])
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	p := buildPlan(t, fullInputs())

	position := map[int]int{}
	for i, a := range p.Actions {
		position[a.ID] = i
	}
	for _, a := range p.Actions {
		for _, dep := range a.Dependencies {
			require.Less(t, position[dep], position[a.ID],
				"action %d must come after its dependency %d", a.ID, dep)
		}
	}
}

func TestPhasesAreOrderedAndParallelSafeMarked(t *testing.T) {
	p := buildPlan(t, fullInputs())

	lastOrder := -1
	for _, phase := range p.Phases {
		require.Greater(t, phase.Order, lastOrder)
		lastOrder = phase.Order
		if phase.Name == PhaseIssueImport || phase.Name == PhasePRImport {
			require.True(t, phase.ParallelSafe)
		} else {
			require.False(t, phase.ParallelSafe)
		}
	}
}

func TestCycleDetection(t *testing.T) {
	actions := []Action{
		{ID: 1, Type: ActionRepoCreate, Dependencies: []int{2}},
		{ID: 2, Type: ActionRepoPush, Dependencies: []int{1}},
	}
	g := buildGraph(actions)
	err := g.validate()
	require.Error(t, err)

	var cycle *ErrCycle
	require.ErrorAs(t, err, &cycle)
	require.ElementsMatch(t, []int{1, 2}, []int{cycle.A, cycle.B}, "error names both actions")
}

func TestUnknownDependencyRejected(t *testing.T) {
	actions := []Action{{ID: 1, Dependencies: []int{99}}}
	err := buildGraph(actions).validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "99")
}

func TestKahnOrderDeterministic(t *testing.T) {
	actions := []Action{
		{ID: 3, Dependencies: []int{1}},
		{ID: 1},
		{ID: 2, Dependencies: []int{1}},
		{ID: 4, Dependencies: []int{2, 3}},
	}
	g := buildGraph(actions)
	order, err := g.topoOrder()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4}, order, "ties break by ascending id")
}

func TestReversibilityTable(t *testing.T) {
	p := buildPlan(t, fullInputs())
	for _, a := range p.Actions {
		switch a.Type {
		case ActionRepoCreate, ActionLabelCreate, ActionMilestoneCreate,
			ActionReleaseCreate, ActionProtectionSet, ActionCollaboratorAdd,
			ActionWebhookCreate, ActionEnvironmentCreate:
			require.True(t, a.Reversible, "%s must be reversible", a.Type)
		default:
			require.False(t, a.Reversible, "%s must not be reversible", a.Type)
		}
	}
}

func TestPlanJSONRoundTrip(t *testing.T) {
	p := buildPlan(t, fullInputs())
	data, err := json.MarshalIndent(p, "", "  ")
	require.NoError(t, err)

	require.NoError(t, ValidatePlanJSON(data))

	var decoded Plan
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, p.Version, decoded.Version)
	require.Equal(t, len(p.Actions), len(decoded.Actions))
}

func TestValidatePlanJSONRejectsWrongVersion(t *testing.T) {
	p := buildPlan(t, minimalInputs())
	p.Version = "2.0"
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.Error(t, ValidatePlanJSON(data), "schema pins version 1.0")
}

func TestValidatePlanJSONRejectsMalformedAction(t *testing.T) {
	raw := `{"version":"1.0","run_id":"r","gitlab_project":"g/p","github_target":"a/b",
		"summary":{"total":1,"by_type":{}},
		"actions":[{"id":"not-an-int","type":"repo_create","phase":"foundation","idempotency_key":"k"}],
		"validation":{"all_deps_resolvable":true,"no_cycles":true,"required_inputs_identified":true}}`
	require.Error(t, ValidatePlanJSON([]byte(raw)))
}

func TestGeneratedSchemaJSON(t *testing.T) {
	doc, err := GeneratedSchemaJSON()
	require.NoError(t, err)
	require.Contains(t, string(doc), "properties")
}

func TestSummaryCounts(t *testing.T) {
	p := buildPlan(t, fullInputs())
	require.Equal(t, len(p.Actions), p.Summary.Total)
	require.Equal(t, 1, p.Summary.RequiresUserInput)
	require.Positive(t, p.Summary.EstimatedMinutes)
	require.Equal(t, 1, p.Summary.ByType[ActionIssueCreate])
}
