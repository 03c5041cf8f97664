package sourceclient

import "time"

// Project is a source-forge project as returned by the projects API.
type Project struct {
	ID                int       `json:"id"`
	PathWithNamespace string    `json:"path_with_namespace"`
	Path              string    `json:"path"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	DefaultBranch     string    `json:"default_branch"`
	Visibility        string    `json:"visibility"`
	HTTPURLToRepo     string    `json:"http_url_to_repo"`
	WebURL            string    `json:"web_url"`
	StarCount         int       `json:"star_count"`
	ForksCount        int       `json:"forks_count"`
	OpenIssuesCount   int       `json:"open_issues_count"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ArchivedFlag      bool      `json:"archived"`
	EmptyRepo         bool      `json:"empty_repo"`
	WikiEnabled       bool      `json:"wiki_enabled"`
	IssuesEnabled     bool      `json:"issues_enabled"`
	MREnabled         bool      `json:"merge_requests_enabled"`
	JobsEnabled       bool      `json:"jobs_enabled"`
	LFSEnabled        bool      `json:"lfs_enabled"`
	PackagesEnabled   bool      `json:"packages_enabled"`
	Topics            []string  `json:"topics"`
}

// Branch is a repository branch.
type Branch struct {
	Name      string `json:"name"`
	Default   bool   `json:"default"`
	Protected bool   `json:"protected"`
}

// Tag is a repository tag.
type Tag struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Target  string `json:"target"`
}

// Commit is a repository commit (short form from the commits API).
type Commit struct {
	ID           string    `json:"id"`
	ShortID      string    `json:"short_id"`
	Title        string    `json:"title"`
	AuthorName   string    `json:"author_name"`
	AuthorEmail  string    `json:"author_email"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is a source-forge user reference.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	State    string `json:"state"`
}

// Issue is a source-forge issue with the fields the migration carries over.
type Issue struct {
	IID          int        `json:"iid"`
	ProjectID    int        `json:"project_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	Labels       []string   `json:"labels"`
	Milestone    *Milestone `json:"milestone"`
	Author       User       `json:"author"`
	Assignees    []User     `json:"assignees"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	DueDate      string     `json:"due_date"`
	Confidential bool       `json:"confidential"`
	UserNotesCount int      `json:"user_notes_count"`
	Notes        []Note     `json:"notes,omitempty"`
}

// Note is a comment on an issue or merge request.
type Note struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	Author    User      `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	System    bool      `json:"system"`
}

// Milestone is a project milestone.
type Milestone struct {
	ID          int    `json:"id"`
	IID         int    `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	DueDate     string `json:"due_date"`
}

// Label is a project label.
type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// MergeRequest is a source-forge merge request.
type MergeRequest struct {
	IID          int        `json:"iid"`
	ProjectID    int        `json:"project_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	Labels       []string   `json:"labels"`
	Milestone    *Milestone `json:"milestone"`
	Author       User       `json:"author"`
	Assignees    []User     `json:"assignees"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	SHA          string     `json:"sha"`
	Draft        bool       `json:"draft"`
	Discussions  []Discussion `json:"discussions,omitempty"`
	Approvals    *Approvals   `json:"approvals,omitempty"`
}

// Discussion is a threaded conversation on a merge request.
type Discussion struct {
	ID    string `json:"id"`
	Notes []Note `json:"notes"`
}

// Approvals is the approval state of a merge request.
type Approvals struct {
	ApprovalsRequired int    `json:"approvals_required"`
	ApprovalsLeft     int    `json:"approvals_left"`
	ApprovedBy        []struct {
		User User `json:"user"`
	} `json:"approved_by"`
}

// Release is a tagged release with its asset links.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ReleasedAt  time.Time `json:"released_at"`
	Assets      struct {
		Count int `json:"count"`
		Links []AssetLink `json:"links"`
	} `json:"assets"`
}

// AssetLink is one downloadable release asset.
type AssetLink struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	LinkType  string `json:"link_type"`
	LocalPath string `json:"local_path,omitempty"`
}

// Package is a package-registry entry (metadata only).
type Package struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PackageType string `json:"package_type"`
}

// Webhook is a project webhook. The source API never returns the secret
// token, so Token is only ever a mask written by the export stage.
type Webhook struct {
	ID                       int    `json:"id"`
	URL                      string `json:"url"`
	Token                    string `json:"token,omitempty"`
	PushEvents               bool   `json:"push_events"`
	TagPushEvents            bool   `json:"tag_push_events"`
	IssuesEvents             bool   `json:"issues_events"`
	MergeRequestsEvents      bool   `json:"merge_requests_events"`
	NoteEvents               bool   `json:"note_events"`
	PipelineEvents           bool   `json:"pipeline_events"`
	WikiPageEvents           bool   `json:"wiki_page_events"`
	ReleasesEvents           bool   `json:"releases_events"`
	DeploymentEvents         bool   `json:"deployment_events"`
	EnableSSLVerification    bool   `json:"enable_ssl_verification"`
}

// Schedule is a pipeline schedule.
type Schedule struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Ref         string `json:"ref"`
	Cron        string `json:"cron"`
	Active      bool   `json:"active"`
}

// Environment is a CI/CD environment.
type Environment struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ExternalURL string `json:"external_url"`
	State       string `json:"state"`
	Tier        string `json:"tier"`
}

// Variable is a CI/CD variable. Masked variables come back with an empty
// value and are surfaced as required user inputs downstream.
type Variable struct {
	Key              string `json:"key"`
	Value            string `json:"value,omitempty"`
	VariableType     string `json:"variable_type"`
	Protected        bool   `json:"protected"`
	Masked           bool   `json:"masked"`
	EnvironmentScope string `json:"environment_scope"`
}

// Pipeline is one historical CI pipeline run.
type Pipeline struct {
	ID        int       `json:"id"`
	Status    string    `json:"status"`
	Ref       string    `json:"ref"`
	SHA       string    `json:"sha"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// ProtectedBranch is a branch protection rule.
type ProtectedBranch struct {
	Name              string        `json:"name"`
	PushAccessLevels  []AccessLevel `json:"push_access_levels"`
	MergeAccessLevels []AccessLevel `json:"merge_access_levels"`
	AllowForcePush    bool          `json:"allow_force_push"`
	CodeOwnerApprovalRequired bool  `json:"code_owner_approval_required"`
}

// AccessLevel is one access grant on a protected resource.
type AccessLevel struct {
	AccessLevel            int    `json:"access_level"`
	AccessLevelDescription string `json:"access_level_description"`
	UserID                 int    `json:"user_id,omitempty"`
	GroupID                int    `json:"group_id,omitempty"`
}

// ProtectedTag is a tag protection rule.
type ProtectedTag struct {
	Name               string        `json:"name"`
	CreateAccessLevels []AccessLevel `json:"create_access_levels"`
}

// DeployKey is a repository deploy key. The private half never leaves the
// forge; Key is the public key material.
type DeployKey struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Key     string `json:"key"`
	CanPush bool   `json:"can_push"`
}

// Member is a project or group member with an access level.
type Member struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	AccessLevel int    `json:"access_level"`
}

// ApprovalRule is a merge-request approval rule.
type ApprovalRule struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	RuleType          string `json:"rule_type"`
	ApprovalsRequired int    `json:"approvals_required"`
	EligibleApprovers []User `json:"eligible_approvers"`
	Groups            []struct {
		FullPath string `json:"full_path"`
	} `json:"groups"`
}
