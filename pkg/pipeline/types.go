package pipeline

import (
	"time"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/pipeline/apply"
	"github.com/forgemove/ghmigrate/pkg/pipeline/discovery"
	"github.com/forgemove/ghmigrate/pkg/pipeline/export"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/pipeline/verify"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageDiscovery StageName = "discovery"
	StageExport    StageName = "export"
	StageTransform StageName = "transform"
	StagePlan      StageName = "plan"
	StageApply     StageName = "apply"
	StageVerify    StageName = "verify"
)

// modeSequences maps every run mode to its stage sequence, exhaustively.
var modeSequences = map[config.Mode][]StageName{
	config.ModeDiscoverOnly:  {StageDiscovery},
	config.ModeExportOnly:    {StageDiscovery, StageExport},
	config.ModeTransformOnly: {StageDiscovery, StageExport, StageTransform},
	config.ModePlanOnly:      {StageDiscovery, StageExport, StageTransform, StagePlan},
	config.ModeDryRun:        {StageDiscovery, StageExport, StageTransform, StagePlan, StageApply},
	config.ModeApply:         {StageDiscovery, StageExport, StageTransform, StagePlan, StageApply},
	config.ModeVerify:        {StageVerify},
	config.ModeFull:          {StageDiscovery, StageExport, StageTransform, StagePlan, StageApply, StageVerify},
	config.ModeSingleProject: {StageExport, StageTransform, StagePlan},
}

// SharedContext carries selected stage outputs forward. Each field is
// written exactly once, by the orchestrator after its producing stage
// succeeds, and is read-only afterwards.
type SharedContext struct {
	DiscoveredProjects []sourceclient.Project
	Inventory          []discovery.Entry
	ExportData         *export.Result
	TransformData      *transform.Result
	ConversionGaps     []transform.Gap
	Plan               *plan.Plan
	ExpectedState      *verify.Expected
	ApplyResults       *apply.Report
}

// StageResult records one stage's outcome.
type StageResult struct {
	Stage      StageName     `json:"stage"`
	Status     string        `json:"status"` // success | partial | failed | skipped
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// RunResult is the terminal result of one pipeline run.
type RunResult struct {
	RunID         string        `json:"run_id"`
	Mode          config.Mode   `json:"mode"`
	ProjectPath   string        `json:"project_path,omitempty"`
	Status        string        `json:"status"` // success | partial | failed
	Stages        []StageResult `json:"stages"`
	FailedAtStage StageName     `json:"failed_at_agent,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`

	// Context exposes the final shared context to callers (batch
	// aggregation, CLI summaries).
	Context *SharedContext `json:"-"`
}

// Callbacks lets external collaborators observe stage transitions.
type Callbacks struct {
	// StageStarted fires before a stage runs.
	StageStarted func(stage StageName)
	// StageCompleted fires after a stage finishes, success or not.
	StageCompleted func(stage StageName, result StageResult)
	// PlanReady fires after the plan stage merges its output, before any
	// apply; the UI uses it to collect required user inputs.
	PlanReady func(p *plan.Plan)
}
