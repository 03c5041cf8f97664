package transform

// GapSeverity grades how much a conversion gap matters.
type GapSeverity string

const (
	SeverityInfo     GapSeverity = "info"
	SeverityWarning  GapSeverity = "warning"
	SeverityCritical GapSeverity = "critical"
)

// Gap is one source-forge construct with no or partial destination
// equivalent. Gaps are surfaced in a report, never silently dropped.
// Lint findings on generated workflows carry a file position.
type Gap struct {
	Component  string      `json:"component"`
	Feature    string      `json:"feature"`
	Severity   GapSeverity `json:"severity"`
	Detail     string      `json:"detail"`
	Workaround string      `json:"workaround,omitempty"`
	File       string      `json:"file,omitempty"`
	Line       int         `json:"line,omitempty"`
	Column     int         `json:"column,omitempty"`
}

// Confidence grades a user mapping.
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceLow      Confidence = "low"
	ConfidenceUnmapped Confidence = "unmapped"
)

// MappingMethod names how a user mapping was established.
type MappingMethod string

const (
	MethodEmail    MappingMethod = "email"
	MethodUsername MappingMethod = "username"
	MethodName     MappingMethod = "name"
	MethodFuzzy    MappingMethod = "fuzzy"
	MethodNone     MappingMethod = "none"
)

// UserMapping links one source user to a destination login.
type UserMapping struct {
	SourceUsername   string        `json:"source_username"`
	SourceEmail      string        `json:"source_email,omitempty"`
	SourceName       string        `json:"source_name,omitempty"`
	DestinationLogin string        `json:"destination_login,omitempty"`
	Confidence       Confidence    `json:"confidence"`
	Method           MappingMethod `json:"method"`
	IsManual         bool          `json:"is_manual"`
}

// UserMappingResult is the full user-mapping output.
type UserMappingResult struct {
	Mappings      []UserMapping `json:"mappings"`
	Stats         MappingStats  `json:"stats"`
	UnmappedUsers []string      `json:"unmapped_users"`
}

// MappingStats counts mappings by confidence.
type MappingStats struct {
	Total    int `json:"total"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unmapped int `json:"unmapped"`
}

// TransformedIssue is an issue rewritten for the destination.
type TransformedIssue struct {
	SourceIID   int                  `json:"source_iid"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	State       string               `json:"state"`
	Labels      []string             `json:"labels"`
	Milestone   string               `json:"milestone,omitempty"`
	Assignees   []string             `json:"assignees,omitempty"`
	Comments    []TransformedComment `json:"comments,omitempty"`
	Attachments []string             `json:"attachments,omitempty"`
}

// TransformedComment is a rewritten issue or MR comment.
type TransformedComment struct {
	Body string `json:"body"`
}

// TransformedMR is a merge request rewritten as a destination pull request.
type TransformedMR struct {
	SourceIID    int                  `json:"source_iid"`
	Title        string               `json:"title"`
	Body         string               `json:"body"`
	State        string               `json:"state"`
	SourceBranch string               `json:"source_branch"`
	TargetBranch string               `json:"target_branch"`
	Labels       []string             `json:"labels"`
	Draft        bool                 `json:"draft"`
	Comments     []TransformedComment `json:"comments,omitempty"`
	Attachments  []string             `json:"attachments,omitempty"`
}

// TransformedLabel is a destination-ready label.
type TransformedLabel struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// TransformedMilestone is a destination-ready milestone.
type TransformedMilestone struct {
	Title       string `json:"title"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	DueOn       string `json:"due_on,omitempty"`
}

// BranchProtection is the destination-shaped protection rule.
type BranchProtection struct {
	Branch                     string              `json:"branch"`
	RequiredPullRequestReviews PullRequestReviews  `json:"required_pull_request_reviews"`
	RequiredStatusChecks       StatusChecks        `json:"required_status_checks"`
	AllowForcePushes           bool                `json:"allow_force_pushes"`
	AllowDeletions             bool                `json:"allow_deletions"`
	EnforceAdmins              bool                `json:"enforce_admins"`
}

// PullRequestReviews configures review requirements on a protection rule.
type PullRequestReviews struct {
	RequiredApprovingReviewCount int  `json:"required_approving_review_count"`
	RequireCodeOwnerReviews      bool `json:"require_code_owner_reviews"`
}

// StatusChecks configures required CI contexts on a protection rule.
type StatusChecks struct {
	Strict   bool     `json:"strict"`
	Contexts []string `json:"contexts"`
}

// TagProtection is the destination-shaped tag rule.
type TagProtection struct {
	Pattern string `json:"pattern"`
}

// TransformedWebhook is a destination-ready webhook.
type TransformedWebhook struct {
	URL            string   `json:"url"`
	Events         []string `json:"events"`
	UnmappedEvents []string `json:"unmapped_events,omitempty"`
	Active         bool     `json:"active"`
	InsecureSSL    bool     `json:"insecure_ssl"`
	// Secret is always blank: the source never returns webhook tokens.
	Secret string `json:"secret"`
}

// CIConversion is the CI pipeline conversion output.
type CIConversion struct {
	// Workflows maps output filename to workflow YAML.
	Workflows map[string]string `json:"workflows"`
	// JobNames is the ordered list of CI job names, feeding required
	// status checks on branch protections.
	JobNames []string `json:"job_names"`
	Gaps     []Gap    `json:"gaps"`
}

// Result is the transform stage output.
type Result struct {
	Dir string `json:"dir"`

	CI          *CIConversion          `json:"ci,omitempty"`
	Users       UserMappingResult      `json:"users"`
	Issues      []TransformedIssue     `json:"issues"`
	MRs         []TransformedMR        `json:"merge_requests"`
	Labels      []TransformedLabel     `json:"labels"`
	Milestones  []TransformedMilestone `json:"milestones"`
	Protections []BranchProtection     `json:"branch_protections"`
	TagRules    []TagProtection        `json:"tag_protections"`
	Codeowners  string                 `json:"codeowners,omitempty"`
	Webhooks    []TransformedWebhook   `json:"webhooks"`
	Gaps        []Gap                  `json:"gaps"`
}
