package action

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func TestRegistryCoversEveryPlannedType(t *testing.T) {
	registry := NewRegistry()
	all := []plan.ActionType{
		plan.ActionRepoCreate, plan.ActionRepoPush, plan.ActionRepoConfigure,
		plan.ActionLFSConfigure, plan.ActionWorkflowCommit, plan.ActionEnvironmentCreate,
		plan.ActionSecretSet, plan.ActionVariableSet, plan.ActionScheduleCreate,
		plan.ActionLabelCreate, plan.ActionMilestoneCreate, plan.ActionIssueCreate,
		plan.ActionPRCreate, plan.ActionPRCommentAdd, plan.ActionIssueCommentAdd,
		plan.ActionWikiPush, plan.ActionWikiCommit, plan.ActionReleaseCreate,
		plan.ActionReleaseAssetUpload, plan.ActionPackagePublish, plan.ActionProtectionSet,
		plan.ActionCollaboratorAdd, plan.ActionTeamCreate, plan.ActionCodeownersCommit,
		plan.ActionWebhookCreate, plan.ActionWebhookConfigure, plan.ActionArtifactCommit,
		plan.ActionAttachmentsCommit,
	}
	for _, typ := range all {
		_, err := registry.New(plan.Action{Type: typ, Parameters: map[string]any{}})
		require.NoError(t, err, "type %s must be registered and instantiable", typ)
	}
}

func TestRegistryUnknownType(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.New(plan.Action{Type: "teleport_repo"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown action type")
}

func TestDecodeParams(t *testing.T) {
	a := plan.Action{
		ID:   3,
		Type: plan.ActionIssueCreate,
		Parameters: map[string]any{
			"gitlab_issue_iid": 7,
			"title":            "Crash",
			"labels":           []string{"bug"},
		},
	}
	params, err := decodeParams[issueCreateParams](a)
	require.NoError(t, err)
	require.Equal(t, 7, params.GitlabIssueIID)
	require.Equal(t, "Crash", params.Title)
	require.Equal(t, []string{"bug"}, params.Labels)
}

// fakeAction counts executions and fails transiently n times.
type fakeAction struct {
	base
	failures  int
	calls     int
	permanent bool
}

func (f *fakeAction) Execute(context.Context, *ExecContext) *Result {
	f.calls++
	if f.permanent {
		return f.fail(forgeerr.New(forgeerr.CategoryValidation, "bad input"))
	}
	if f.calls <= f.failures {
		return f.fail(forgeerr.New(forgeerr.CategoryServer, "bad gateway"))
	}
	return f.succeed(map[string]any{"ok": true}, nil)
}

func (f *fakeAction) Simulate(context.Context, *ExecContext) *Result {
	return f.simulated(WouldExecute, nil)
}

func (f *fakeAction) Rollback(context.Context, *ExecContext, map[string]any) error {
	return nil
}

func TestExecuteWithRetryTransient(t *testing.T) {
	fake := &fakeAction{base: base{plan.Action{ID: 1, Type: plan.ActionRepoCreate}}, failures: 2}
	ec := &ExecContext{IDMappings: NewIDMappings()}

	result := ExecuteWithRetry(context.Background(), fake, ec, 3, time.Millisecond)
	require.True(t, result.Success)
	require.Equal(t, 3, fake.calls)
}

func TestExecuteWithRetryPermanentFailsFast(t *testing.T) {
	fake := &fakeAction{base: base{plan.Action{ID: 1, Type: plan.ActionRepoCreate}}, permanent: true}
	ec := &ExecContext{IDMappings: NewIDMappings()}

	result := ExecuteWithRetry(context.Background(), fake, ec, 3, time.Millisecond)
	require.False(t, result.Success)
	require.Equal(t, 1, fake.calls)
}

func TestExecuteWithRetryExhausted(t *testing.T) {
	fake := &fakeAction{base: base{plan.Action{ID: 1, Type: plan.ActionRepoCreate}}, failures: 10}
	ec := &ExecContext{IDMappings: NewIDMappings()}

	result := ExecuteWithRetry(context.Background(), fake, ec, 2, time.Millisecond)
	require.False(t, result.Success)
	require.Equal(t, 3, fake.calls, "initial attempt plus two retries")
}

func TestExecuteWithRetryDryRunSimulates(t *testing.T) {
	fake := &fakeAction{base: base{plan.Action{ID: 1, Type: plan.ActionRepoCreate}}}
	ec := &ExecContext{IDMappings: NewIDMappings(), DryRun: true}

	result := ExecuteWithRetry(context.Background(), fake, ec, 3, time.Millisecond)
	require.True(t, result.Simulated)
	require.Equal(t, WouldExecute, result.SimulationOutcome)
	require.Zero(t, fake.calls, "dry run must not execute")
}

func TestIDMappingsRoundTrip(t *testing.T) {
	m := NewIDMappings()
	m.Set("issue", "7", "3")
	m.Set("label", "bug", "bug")

	dest, ok := m.Get("issue", "7")
	require.True(t, ok)
	require.Equal(t, "3", dest)

	_, ok = m.Get("issue", "99")
	require.False(t, ok)

	path := filepath.Join(t.TempDir(), "id_mappings.json")
	require.NoError(t, m.Save(path))

	loaded, err := LoadIDMappings(path)
	require.NoError(t, err)
	dest, ok = loaded.Get("issue", "7")
	require.True(t, ok)
	require.Equal(t, "3", dest)
	require.ElementsMatch(t, []string{"issue", "label"}, loaded.Kinds())
}

func TestLoadIDMappingsMissingFile(t *testing.T) {
	m, err := LoadIDMappings(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Empty(t, m.Kinds())
}

func TestSimulatedResultShape(t *testing.T) {
	b := base{plan.Action{ID: 4, Type: plan.ActionLabelCreate, IdempotencyKey: "label_create-bug-aabbccdd", Reversible: true}}
	r := b.simulated(WouldSkip, map[string]any{"reason": "exists"})
	require.True(t, r.Success)
	require.True(t, r.Simulated)
	require.Equal(t, WouldSkip, r.SimulationOutcome)
	require.Equal(t, "label_create-bug-aabbccdd", r.IdempotencyKey)
	require.True(t, r.Reversible)

	failed := b.simulated(WouldFail, nil)
	require.False(t, failed.Success)
}

func TestIssueCreateSimulateConsultsIDMappings(t *testing.T) {
	registry := NewRegistry()
	a, err := registry.New(plan.Action{
		ID:   1,
		Type: plan.ActionIssueCreate,
		Parameters: map[string]any{
			"gitlab_issue_iid": 7,
			"title":            "Crash",
		},
	})
	require.NoError(t, err)

	ec := &ExecContext{IDMappings: NewIDMappings(), DryRun: true}
	result := a.Simulate(context.Background(), ec)
	require.Equal(t, WouldCreate, result.SimulationOutcome)

	ec.IDMappings.Set("issue", "7", "3")
	result = a.Simulate(context.Background(), ec)
	require.Equal(t, WouldSkip, result.SimulationOutcome)
}
