// Package constants centralizes the limits, timeouts, and artifact-tree paths
// shared across the migration pipeline. The artifact layout is contractual:
// downstream tools read these files by relative path.
package constants

import "time"

// CLIName is the binary name used in user-facing output
const CLIName = "ghmigrate"

// Timeouts for external operations
const (
	// DefaultHTTPTimeout is the per-request timeout for forge API calls
	DefaultHTTPTimeout = 30 * time.Second
	// VerifyHTTPTimeout is the per-request timeout during the verify stage
	VerifyHTTPTimeout = 60 * time.Second
	// CloneTimeout bounds a full mirror clone of the source repository
	CloneTimeout = 600 * time.Second
	// BundleTimeout bounds writing the git bundle from the mirror
	BundleTimeout = 300 * time.Second
	// WikiCloneTimeout bounds the wiki repository clone
	WikiCloneTimeout = 120 * time.Second
)

// Attachment download limits
const (
	// MaxAttachmentSize is the hard cap; larger downloads are rejected
	MaxAttachmentSize = 100 * 1024 * 1024
	// WarnAttachmentSize triggers a warning in the export log
	WarnAttachmentSize = 50 * 1024 * 1024
)

// Export behavior
const (
	// CheckpointInterval is how many items are processed between checkpoint writes
	CheckpointInterval = 25
	// PipelineHistoryLimit caps how many recent CI pipelines are exported
	PipelineHistoryLimit = 100
	// DefaultPageSize is the per-page item count for paginated source reads
	DefaultPageSize = 100
)

// Apply behavior
const (
	// ApplyRateLimitFloor pauses the apply loop when the destination budget
	// drops below this many remaining requests
	ApplyRateLimitFloor = 100
	// DefaultActionRetries is the per-action retry budget for transient failures
	DefaultActionRetries = 3
	// ParallelPhaseWorkers bounds inter-action concurrency in parallel-safe phases
	ParallelPhaseWorkers = 4
)

// Batch behavior
const (
	// DefaultParallelLimit bounds how many project pipelines run concurrently
	DefaultParallelLimit = 5
)

// Verify behavior
const (
	// DefaultVerifyTolerance is the relative slack allowed on numeric
	// comparisons before a discrepancy escalates from warning to error
	DefaultVerifyTolerance = 0.05
)

// PlanVersion is the plan.json schema version
const PlanVersion = "1.0"

// UserInputPlaceholder marks a parameter value the operator must supply
// before apply (masked CI variables, webhook secrets).
const UserInputPlaceholder = "${USER_INPUT_REQUIRED}"

// MaskedValue replaces secrets and private keys in on-disk artifacts.
const MaskedValue = "***MASKED***"

// Artifact tree directories relative to the artifact root
const (
	ExportDir    = "export"
	TransformDir = "transform"
	PlanDir      = "plan"
	ApplyDir     = "apply"
	VerifyDir    = "verify"
)

// Export artifact relative paths (under ExportDir)
const (
	RepoBundlePath        = "repository/bundle.git"
	RepoLFSDir            = "repository/lfs"
	SubmodulesPath        = "repository/submodules.txt"
	CIConfigPath          = "ci/gitlab-ci.yml"
	CIVariablesPath       = "ci/variables.json"
	CIEnvironmentsPath    = "ci/environments.json"
	CISchedulesPath       = "ci/schedules.json"
	CIPipelineHistoryPath = "ci/pipeline_history.json"
	IssuesPath            = "issues/issues.json"
	IssueAttachmentsDir   = "issues/attachments"
	IssueAttachmentMeta   = "issues/attachment_metadata.json"
	MergeRequestsPath     = "merge_requests/merge_requests.json"
	MRAttachmentsDir      = "merge_requests/attachments"
	MRAttachmentMeta      = "merge_requests/attachment_metadata.json"
	WikiRepoPath          = "wiki/wiki.git"
	WikiDisabledSentinel  = "wiki/wiki_disabled.txt"
	WikiEmptySentinel     = "wiki/wiki_empty.txt"
	ReleasesPath          = "releases/releases.json"
	PackagesPath          = "packages/packages.json"
	ProtectedBranchesPath = "settings/protected_branches.json"
	ProtectedTagsPath     = "settings/protected_tags.json"
	MembersPath           = "settings/members.json"
	WebhooksPath          = "settings/webhooks.json"
	DeployKeysPath        = "settings/deploy_keys.json"
	ProjectSettingsPath   = "settings/project_settings.json"
	ExportManifestPath    = "export_manifest.json"
	ExportCheckpointPath  = ".export_checkpoint.json"
)

// Transform artifact relative paths (under TransformDir)
const (
	WorkflowsDir         = "workflows"
	UserMappingsPath     = "user_mappings.json"
	TransformedIssues    = "issues.json"
	TransformedMRs       = "merge_requests.json"
	TransformedLabels    = "labels.json"
	TransformedMilestone = "milestones.json"
	BranchProtectionPath = "branch_protections.json"
	TagProtectionPath    = "tag_protections.json"
	CodeownersPath       = "CODEOWNERS"
	TransformedWebhooks  = "webhooks.json"
	ConversionGapsJSON   = "conversion_gaps.json"
	ConversionGapsMD     = "conversion_gaps.md"
)

// Plan artifact relative paths (under PlanDir)
const (
	PlanPath            = "plan.json"
	PlanStatsPath       = "plan_stats.json"
	DependencyGraphPath = "dependency_graph.json"
	UserInputsPath      = "user_inputs_required.json"
)

// Apply artifact relative paths (under ApplyDir)
const (
	ApplyReportPath  = "apply_report.json"
	DryRunReportPath = "dry_run_report.json"
	IDMappingsPath   = "id_mappings.json"
)

// Verify artifact relative paths (under VerifyDir)
const (
	VerifyReportPath    = "verify_report.json"
	VerifySummaryPath   = "verify_summary.md"
	ComponentStatusPath = "component_status.json"
	DiscrepanciesPath   = "discrepancies.json"
)
