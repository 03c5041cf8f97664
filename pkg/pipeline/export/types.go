package export

import "time"

// ComponentStatus is the terminal state of one export component in the
// manifest.
type ComponentStatus struct {
	Status    string        `json:"status"` // completed | partial | failed | skipped
	Items     int           `json:"items"`
	Error     string        `json:"error,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Manifest enumerates every component with its terminal status. It is the
// contract downstream stages read to know what the export tree contains.
type Manifest struct {
	ProjectID   int                        `json:"project_id"`
	ProjectPath string                     `json:"project_path"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
	Status      string                     `json:"status"` // success | partial | failed
	Components  map[string]ComponentStatus `json:"components"`
}

// Result is the export stage output: where the tree lives and what it holds.
type Result struct {
	Dir      string   `json:"dir"`
	Manifest Manifest `json:"manifest"`

	// Counts feed the verify stage's expected state.
	Counts Counts `json:"counts"`

	// HasWiki / HasLFS record repository-level findings for the plan stage.
	HasWiki bool `json:"has_wiki"`
	HasLFS  bool `json:"has_lfs"`
}

// Counts aggregates item totals per component.
type Counts struct {
	Branches      int `json:"branches"`
	Tags          int `json:"tags"`
	Issues        int `json:"issues"`
	MergeRequests int `json:"merge_requests"`
	Releases      int `json:"releases"`
	Labels        int `json:"labels"`
	Milestones    int `json:"milestones"`
	Webhooks      int `json:"webhooks"`
	Attachments   int `json:"attachments"`
}

// AttachmentMetadata maps original upload paths to their local files.
type AttachmentMetadata struct {
	Files    map[string]string `json:"files"` // original path -> relative local path
	Warnings []string          `json:"warnings,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"` // original path -> error
}

// Components are exported in this order. Repository first so a failed clone
// surfaces before hours of item streaming.
var Components = []string{
	"repository", "ci_cd", "issues", "merge_requests",
	"wiki", "releases", "packages", "settings",
}
