package apply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/pipeline/action"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

// fakeKind is a registrable action whose behavior tests script per id.
type fakeKind struct {
	planned  plan.Action
	behavior *fakeBehavior
}

type fakeBehavior struct {
	failIDs  map[int]bool
	executed []int
}

func (f *fakeKind) Execute(_ context.Context, _ *action.ExecContext) *action.Result {
	f.behavior.executed = append(f.behavior.executed, f.planned.ID)
	if f.behavior.failIDs[f.planned.ID] {
		return &action.Result{
			Success: false, ActionID: f.planned.ID, ActionType: f.planned.Type,
			IdempotencyKey: f.planned.IdempotencyKey, Error: "scripted failure",
		}
	}
	return &action.Result{
		Success: true, ActionID: f.planned.ID, ActionType: f.planned.Type,
		IdempotencyKey: f.planned.IdempotencyKey,
		Reversible:     f.planned.Reversible,
	}
}

func (f *fakeKind) Simulate(_ context.Context, _ *action.ExecContext) *action.Result {
	return &action.Result{
		Success: true, ActionID: f.planned.ID, ActionType: f.planned.Type,
		IdempotencyKey: f.planned.IdempotencyKey,
		Simulated:      true, SimulationOutcome: action.WouldCreate,
	}
}

func (f *fakeKind) Rollback(context.Context, *action.ExecContext, map[string]any) error {
	return nil
}

func (f *fakeKind) IsReversible() bool { return f.planned.Reversible }

func newTestStage(t *testing.T, behavior *fakeBehavior) *Stage {
	t.Helper()
	registry := action.NewRegistry()
	fakeFactory := func(a plan.Action) (action.Action, error) {
		return &fakeKind{planned: a, behavior: behavior}, nil
	}
	registry.Register(plan.ActionRepoCreate, fakeFactory)
	registry.Register(plan.ActionRepoPush, fakeFactory)
	registry.Register(plan.ActionLabelCreate, fakeFactory)
	registry.Register(plan.ActionIssueCreate, fakeFactory)

	return &Stage{
		Registry:     registry,
		ArtifactRoot: t.TempDir(),
		Dir:          t.TempDir(),
	}
}

func testPlan() *plan.Plan {
	actions := []plan.Action{
		{ID: 1, Type: plan.ActionRepoCreate, Phase: plan.PhaseFoundation, IdempotencyKey: "repo_create-x-aaaa0001"},
		{ID: 2, Type: plan.ActionRepoPush, Phase: plan.PhaseFoundation, Dependencies: []int{1}, IdempotencyKey: "repo_push-x-aaaa0002"},
		{ID: 3, Type: plan.ActionLabelCreate, Phase: plan.PhaseIssueSetup, Dependencies: []int{1}, IdempotencyKey: "label_create-bug-aaaa0003"},
		{ID: 4, Type: plan.ActionIssueCreate, Phase: plan.PhaseIssueImport, Dependencies: []int{1, 3}, IdempotencyKey: "issue_create-7-aaaa0004"},
	}
	return &plan.Plan{
		Version:      "1.0",
		RunID:        "run-1",
		GithubTarget: "acme/widget",
		Actions:      actions,
		Phases: []plan.PhaseGroup{
			{Name: plan.PhaseFoundation, Actions: []int{1, 2}, Order: 0},
			{Name: plan.PhaseIssueSetup, Actions: []int{3}, Order: 2},
			{Name: plan.PhaseIssueImport, Actions: []int{4}, Order: 3, ParallelSafe: true},
		},
	}
}

func TestApplyAllSucceed(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{}}
	stage := newTestStage(t, behavior)

	report, err := stage.Run(context.Background(), Inputs{Plan: testPlan()})
	require.NoError(t, err)
	require.Equal(t, "success", report.Status)
	require.Equal(t, 4, report.Successful)
	require.Zero(t, report.Failed)
	require.InDelta(t, 1.0, report.SuccessRate, 1e-9)
}

func TestApplyDependencyFailurePropagates(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{1: true}}
	stage := newTestStage(t, behavior)

	report, err := stage.Run(context.Background(), Inputs{Plan: testPlan()})
	require.NoError(t, err)
	require.Equal(t, "failed", report.Status)
	require.Equal(t, 4, report.Failed)

	// Dependent actions fail with the dependency message, not execution.
	var depFailures int
	for _, result := range report.Results {
		if result.Error == "Dependencies not met" {
			depFailures++
		}
	}
	require.Equal(t, 3, depFailures)
	require.Equal(t, []int{1}, behavior.executed, "only the root action actually executes")
}

func TestApplyPartialStatus(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{3: true}}
	stage := newTestStage(t, behavior)

	report, err := stage.Run(context.Background(), Inputs{Plan: testPlan()})
	require.NoError(t, err)
	require.Equal(t, "partial", report.Status)
	require.Equal(t, 2, report.Failed, "label fails and the issue depending on it")
	require.Equal(t, 2, report.Successful)
}

func TestApplyUnknownActionType(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{}}
	stage := newTestStage(t, behavior)

	p := testPlan()
	p.Actions = append(p.Actions, plan.Action{
		ID: 5, Type: "teleport_repo", Phase: plan.PhaseIssueImport, IdempotencyKey: "teleport-x-ffff0005",
	})
	p.Phases[2].Actions = append(p.Phases[2].Actions, 5)

	report, err := stage.Run(context.Background(), Inputs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "partial", report.Status)

	var unknown *action.Result
	for _, result := range report.Results {
		if result.ActionID == 5 {
			unknown = result
		}
	}
	require.NotNil(t, unknown)
	require.False(t, unknown.Success)
	require.Contains(t, unknown.Error, "Unknown action type")
	require.Equal(t, 4, report.Successful, "the loop continues past the unknown type")
}

func TestApplyIdempotencyShortCircuit(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{}}
	stage := newTestStage(t, behavior)

	p := testPlan()
	// A duplicate action with the same idempotency key as action 3.
	p.Actions = append(p.Actions, plan.Action{
		ID: 5, Type: plan.ActionLabelCreate, Phase: plan.PhaseIssueImport,
		Dependencies: []int{1}, IdempotencyKey: "label_create-bug-aaaa0003",
	})
	p.Phases[2].Actions = append(p.Phases[2].Actions, 5)

	report, err := stage.Run(context.Background(), Inputs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "success", report.Status)
	require.NotContains(t, behavior.executed, 5, "duplicate key must not re-execute")
	require.Equal(t, 1, report.Skipped)
}

func TestApplyResumeSkipsPriorActions(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{}}
	stage := newTestStage(t, behavior)

	report, err := stage.Run(context.Background(), Inputs{
		Plan:               testPlan(),
		ResumeFromActionID: 3,
		ResumeResults: []*action.Result{
			{Success: true, ActionID: 1, ActionType: plan.ActionRepoCreate, IdempotencyKey: "repo_create-x-aaaa0001"},
			{Success: true, ActionID: 2, ActionType: plan.ActionRepoPush, IdempotencyKey: "repo_push-x-aaaa0002"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "success", report.Status)
	require.ElementsMatch(t, []int{3, 4}, behavior.executed, "resume executes only from the cursor")
}

func TestDryRunExecutesNothing(t *testing.T) {
	behavior := &fakeBehavior{failIDs: map[int]bool{}}
	stage := newTestStage(t, behavior)

	report, err := stage.Run(context.Background(), Inputs{Plan: testPlan(), DryRun: true})
	require.NoError(t, err)
	require.Empty(t, behavior.executed, "dry run must not execute actions")
	require.Equal(t, 4, report.BySimulation[string(action.WouldCreate)])
	require.Equal(t, "success", report.Status)
}

func TestEvaluateSkipIf(t *testing.T) {
	ec := &action.ExecContext{IDMappings: action.NewIDMappings()}
	require.False(t, evaluateSkipIf("mapping_exists:issue:7", ec))

	ec.IDMappings.Set("issue", "7", "3")
	require.True(t, evaluateSkipIf("mapping_exists:issue:7", ec))
	require.False(t, evaluateSkipIf("unknown_predicate", ec), "unknown predicates never skip")
}
