// Package pipeline sequences the migration stages per run mode, carrying
// selected outputs between them through an explicit shared context. A
// stage's terminal failure stops the pipeline; partial success does not.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/pipeline/apply"
	"github.com/forgemove/ghmigrate/pkg/pipeline/discovery"
	"github.com/forgemove/ghmigrate/pkg/pipeline/export"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/pipeline/verify"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

var log = logger.New("pipeline:orchestrator")

// stageRetries bounds per-stage retry at stage granularity. Stages are
// internally resumable, so one retry re-enters with checkpoints intact.
const stageRetries = 1

// Orchestrator runs one project through the staged pipeline.
type Orchestrator struct {
	Config    *config.RunConfig
	Source    *sourceclient.Client
	Dest      *destclient.Client
	Callbacks Callbacks

	// UserInputs resolves required plan inputs at apply time.
	UserInputs map[string]string
	// UserCache is shared across a batch.
	UserCache *transform.UserCache
	// ResumeFrom restarts the sequence at the named stage when present.
	ResumeFrom StageName
}

// Run executes the mode's stage sequence for one project.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	sequence, ok := modeSequences[o.Config.Mode]
	if !ok {
		return nil, fmt.Errorf("unknown run mode %q", o.Config.Mode)
	}
	if o.ResumeFrom != "" {
		sequence = sliceFrom(sequence, o.ResumeFrom)
	}

	result := &RunResult{
		RunID:       o.Config.RunID,
		Mode:        o.Config.Mode,
		ProjectPath: o.Config.Source.ProjectPath,
		StartedAt:   time.Now().UTC(),
		Context:     &SharedContext{},
	}

	for _, stage := range sequence {
		if o.Callbacks.StageStarted != nil {
			o.Callbacks.StageStarted(stage)
		}
		stageResult := o.runStageWithRetry(ctx, stage, result.Context)
		result.Stages = append(result.Stages, stageResult)
		if o.Callbacks.StageCompleted != nil {
			o.Callbacks.StageCompleted(stage, stageResult)
		}

		if stageResult.Status == "failed" {
			result.FailedAtStage = stage
			result.Status = "failed"
			result.FinishedAt = time.Now().UTC()
			log.Printf("Pipeline stopped: stage %s failed: %s", stage, stageResult.Error)
			return result, nil
		}
	}

	result.FinishedAt = time.Now().UTC()
	result.Status = runStatus(result.Stages)
	return result, nil
}

func sliceFrom(sequence []StageName, from StageName) []StageName {
	for i, stage := range sequence {
		if stage == from {
			return sequence[i:]
		}
	}
	return sequence
}

func runStatus(stages []StageResult) string {
	for _, s := range stages {
		if s.Status == "partial" {
			return "partial"
		}
	}
	return "success"
}

// runStageWithRetry invokes one stage with bounded retry at stage
// granularity; a cancelled context is never retried.
func (o *Orchestrator) runStageWithRetry(ctx context.Context, stage StageName, sc *SharedContext) StageResult {
	result := StageResult{Stage: stage, StartedAt: time.Now().UTC()}

	var status string
	var err error
	for attempt := 0; attempt <= stageRetries; attempt++ {
		status, err = o.runStage(ctx, stage, sc)
		if err == nil || ctx.Err() != nil {
			break
		}
		log.Printf("Stage %s attempt %d failed: %v", stage, attempt+1, err)
	}

	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
	} else {
		result.Status = status
	}
	return result
}

// runStage prepares one stage's inputs from the shared context, invokes it,
// and merges its outputs back in.
func (o *Orchestrator) runStage(ctx context.Context, stage StageName, sc *SharedContext) (string, error) {
	switch stage {
	case StageDiscovery:
		return o.runDiscovery(ctx, sc)
	case StageExport:
		return o.runExport(ctx, sc)
	case StageTransform:
		return o.runTransform(ctx, sc)
	case StagePlan:
		return o.runPlan(sc)
	case StageApply:
		return o.runApply(ctx, sc)
	case StageVerify:
		return o.runVerify(ctx, sc)
	default:
		return "", fmt.Errorf("unknown stage %q", stage)
	}
}

func (o *Orchestrator) runDiscovery(ctx context.Context, sc *SharedContext) (string, error) {
	stage := discovery.New(o.Source)
	result, err := stage.Run(ctx, o.Config.Source.GroupPath, o.Config.Source.ProjectPath, o.Config.Source.ProjectID)
	if err != nil {
		return "", err
	}
	if len(result.Projects) == 0 {
		return "", fmt.Errorf("discovery found no projects in scope")
	}
	sc.DiscoveredProjects = result.Projects
	sc.Inventory = result.Inventory
	return "success", nil
}

// project resolves the subject project: the first discovered one, or a
// direct fetch in modes that skip discovery.
func (o *Orchestrator) project(ctx context.Context, sc *SharedContext) (sourceclient.Project, error) {
	if len(sc.DiscoveredProjects) > 0 {
		return sc.DiscoveredProjects[0], nil
	}
	if o.Config.Source.ProjectID != 0 {
		return o.Source.GetProject(ctx, o.Config.Source.ProjectID)
	}
	if o.Config.Source.ProjectPath != "" {
		return o.Source.GetProjectByPath(ctx, o.Config.Source.ProjectPath)
	}
	return sourceclient.Project{}, fmt.Errorf("no project in scope")
}

func (o *Orchestrator) runExport(ctx context.Context, sc *SharedContext) (string, error) {
	project, err := o.project(ctx, sc)
	if err != nil {
		return "", err
	}
	stage := export.New(o.Source, o.Config.ArtifactRoot, o.Config.Resume)
	result, err := stage.Run(ctx, project)
	if err != nil {
		return "", err
	}
	sc.ExportData = result
	if result.Manifest.Status == "failed" {
		return "", fmt.Errorf("every export component failed")
	}
	if result.Manifest.Status == "partial" {
		return "partial", nil
	}
	return "success", nil
}

func (o *Orchestrator) runTransform(ctx context.Context, sc *SharedContext) (string, error) {
	project, err := o.project(ctx, sc)
	if err != nil {
		return "", err
	}
	if sc.ExportData == nil {
		return "", fmt.Errorf("transform requires export data in the shared context")
	}
	stage := transform.New(o.Dest, o.Config.Destination.Org,
		o.Config.GithubTarget(project.PathWithNamespace), o.Config.ArtifactRoot)
	stage.UserCache = o.UserCache
	result, err := stage.Run(ctx, sc.ExportData.Dir)
	if err != nil {
		return "", err
	}
	sc.TransformData = result
	sc.ConversionGaps = result.Gaps
	return "success", nil
}

func (o *Orchestrator) runPlan(sc *SharedContext) (string, error) {
	if sc.TransformData == nil || sc.ExportData == nil {
		return "", fmt.Errorf("plan requires transform and export data in the shared context")
	}
	project, err := export.LoadProject(sc.ExportData.Dir)
	if err != nil {
		return "", err
	}

	in, err := o.planInputs(sc, project)
	if err != nil {
		return "", err
	}
	stage := plan.New(o.Config.ArtifactRoot)
	p, err := stage.Run(o.Config.RunID, fmt.Sprint(project.ID),
		project.PathWithNamespace, o.Config.GithubTarget(project.PathWithNamespace), in)
	if err != nil {
		return "", err
	}
	sc.Plan = p
	sc.ExpectedState = o.expectedState(sc, p)
	if o.Callbacks.PlanReady != nil {
		o.Callbacks.PlanReady(p)
	}
	return "success", nil
}

func (o *Orchestrator) planInputs(sc *SharedContext, project sourceclient.Project) (plan.Inputs, error) {
	dir := sc.ExportData.Dir
	variables, err := export.LoadVariables(dir)
	if err != nil {
		return plan.Inputs{}, err
	}
	environments, err := export.LoadEnvironments(dir)
	if err != nil {
		return plan.Inputs{}, err
	}
	schedules, err := export.LoadSchedules(dir)
	if err != nil {
		return plan.Inputs{}, err
	}
	releases, err := export.LoadReleases(dir)
	if err != nil {
		return plan.Inputs{}, err
	}
	packages, err := export.LoadPackages(dir)
	if err != nil {
		return plan.Inputs{}, err
	}
	members, err := export.LoadMembers(dir)
	if err != nil {
		return plan.Inputs{}, err
	}

	return plan.Inputs{
		Transform:     sc.TransformData,
		Variables:     variables,
		Environments:  environments,
		Schedules:     schedules,
		Releases:      releases,
		Packages:      packages,
		Members:       members,
		BundlePath:    constants.ExportDir + "/" + constants.RepoBundlePath,
		DefaultBranch: project.DefaultBranch,
		Visibility:    project.Visibility,
		Description:   project.Description,
		Topics:        project.Topics,
		HasWiki:       sc.ExportData.HasWiki,
		HasLFS:        sc.ExportData.HasLFS,
	}, nil
}

func (o *Orchestrator) runApply(ctx context.Context, sc *SharedContext) (string, error) {
	if sc.Plan == nil {
		return "", fmt.Errorf("apply requires a plan in the shared context")
	}
	stage := apply.New(o.Dest, o.Config.ArtifactRoot)
	report, err := stage.Run(ctx, apply.Inputs{
		Plan:       sc.Plan,
		DryRun:     o.Config.Mode == config.ModeDryRun,
		UserInputs: o.UserInputs,
	})
	if err != nil {
		return "", err
	}
	sc.ApplyResults = report
	switch report.Status {
	case "failed":
		return "", fmt.Errorf("every apply action failed")
	case "partial":
		return "partial", nil
	}
	return "success", nil
}

func (o *Orchestrator) runVerify(ctx context.Context, sc *SharedContext) (string, error) {
	expected := sc.ExpectedState
	if expected == nil {
		// Verify-only runs rebuild the expected state from artifacts.
		rebuilt, err := o.rebuildExpectedState(ctx)
		if err != nil {
			return "", err
		}
		expected = rebuilt
	}

	stage := verify.New(o.Dest, o.Config.ArtifactRoot, o.Config.VerifyTolerance)
	result, err := stage.Run(ctx, *expected)
	if err != nil {
		return "", err
	}
	switch result.Status {
	case "FAILED":
		return "", fmt.Errorf("verification found errors; see %s", constants.DiscrepanciesPath)
	case "PARTIAL":
		return "partial", nil
	}
	return "success", nil
}

// expectedState derives the verify baseline from export counts, transform
// outputs, and the plan.
func (o *Orchestrator) expectedState(sc *SharedContext, p *plan.Plan) *verify.Expected {
	counts := sc.ExportData.Counts
	expected := &verify.Expected{
		GithubTarget: p.GithubTarget,
		Branches:     counts.Branches,
		Tags:         counts.Tags,
		Issues:       counts.Issues,
		PullRequests: counts.MergeRequests,
		Releases:     counts.Releases,
		Labels:       counts.Labels,
		Milestones:   counts.Milestones,
		Webhooks:     counts.Webhooks,
		HasWiki:      sc.ExportData.HasWiki,
	}
	if sc.TransformData != nil {
		if sc.TransformData.CI != nil {
			for name := range sc.TransformData.CI.Workflows {
				expected.Workflows = append(expected.Workflows, name)
			}
		}
		for _, protection := range sc.TransformData.Protections {
			expected.Protections = append(expected.Protections, protection.Branch)
		}
	}
	for _, a := range p.Actions {
		switch a.Type {
		case plan.ActionEnvironmentCreate:
			expected.Environments = append(expected.Environments, fmt.Sprint(a.Parameters["name"]))
		case plan.ActionSecretSet:
			if fmt.Sprint(a.Parameters["scope"]) == "repository" {
				expected.Secrets = append(expected.Secrets, fmt.Sprint(a.Parameters["name"]))
			}
		case plan.ActionCollaboratorAdd:
			expected.Collaborators = append(expected.Collaborators, fmt.Sprint(a.Parameters["name"]))
		case plan.ActionPackagePublish:
			expected.Packages++
		}
	}
	return expected
}

// rebuildExpectedState reconstructs the baseline for VERIFY-mode runs from
// the artifact tree written by earlier runs.
func (o *Orchestrator) rebuildExpectedState(ctx context.Context) (*verify.Expected, error) {
	exportDir := o.Config.ArtifactRoot + "/" + constants.ExportDir
	manifest, err := export.LoadManifest(exportDir)
	if err != nil {
		return nil, fmt.Errorf("verify-only runs need an export tree: %w", err)
	}
	if manifest.Status == "" {
		return nil, fmt.Errorf("export manifest missing under %s; run export first", exportDir)
	}
	project, err := export.LoadProject(exportDir)
	if err != nil {
		return nil, err
	}

	issues, _ := export.LoadIssues(exportDir)
	mrs, _ := export.LoadMergeRequests(exportDir)
	releases, _ := export.LoadReleases(exportDir)
	labels, _ := export.LoadLabels(exportDir)
	milestones, _ := export.LoadMilestones(exportDir)
	webhooks, _ := export.LoadWebhooks(exportDir)

	return &verify.Expected{
		GithubTarget: o.Config.GithubTarget(project.PathWithNamespace),
		Issues:       len(issues),
		PullRequests: len(mrs),
		Releases:     len(releases),
		Labels:       len(labels),
		Milestones:   len(milestones),
		Webhooks:     len(webhooks),
		HasWiki:      export.HasWikiExport(exportDir),
	}, nil
}
