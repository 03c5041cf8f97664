package apply

import (
	"time"

	"github.com/forgemove/ghmigrate/pkg/pipeline/action"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

// Inputs configures one apply run.
type Inputs struct {
	Plan *plan.Plan
	// DryRun simulates every action with read-only probes.
	DryRun bool
	// ResumeFromActionID skips every action with a lower id.
	ResumeFromActionID int
	// ResumeResults seeds the idempotency map from a previous run's
	// results so completed actions short-circuit.
	ResumeResults []*action.Result
	// UserInputs resolves required user-input placeholders.
	UserInputs map[string]string
}

// Report is the apply (or dry-run) report artifact.
type Report struct {
	RunID         string            `json:"run_id"`
	GithubTarget  string            `json:"github_target"`
	DryRun        bool              `json:"dry_run"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Status        string            `json:"status"` // success | partial | failed
	PlanSummary   plan.Summary      `json:"plan_summary"`
	Results       []*action.Result  `json:"results"`
	Successful    int               `json:"successful"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	SuccessRate   float64           `json:"success_rate"`
	BySimulation  map[string]int    `json:"by_simulation,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	IDMappings    *action.IDMappings `json:"id_mappings"`
}

// RollbackReport summarizes a rollback operation.
type RollbackReport struct {
	Status     string   `json:"status"` // success | partial | failed
	RolledBack int      `json:"rolled_back"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}
