package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// Typed readers over the export tree. Downstream stages consume artifacts
// only through these, never by reaching into the exporter's internals.

// Issue is the exported issue shape downstream stages read.
type Issue = exportedIssue

// MergeRequest is the exported merge request shape downstream stages read.
type MergeRequest = exportedMR

func readJSON[T any](dir, relPath string) (T, error) {
	var out T
	data, err := os.ReadFile(filepath.Join(dir, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("reading %s: %w", relPath, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parsing %s: %w", relPath, err)
	}
	return out, nil
}

// LoadManifest reads the export manifest.
func LoadManifest(dir string) (Manifest, error) {
	return readJSON[Manifest](dir, constants.ExportManifestPath)
}

// LoadProject reads the exported project settings snapshot.
func LoadProject(dir string) (sourceclient.Project, error) {
	return readJSON[sourceclient.Project](dir, constants.ProjectSettingsPath)
}

// LoadIssues reads the exported issues with notes and attachment paths.
func LoadIssues(dir string) ([]Issue, error) {
	return readJSON[[]Issue](dir, constants.IssuesPath)
}

// LoadMergeRequests reads the exported merge requests.
func LoadMergeRequests(dir string) ([]MergeRequest, error) {
	return readJSON[[]MergeRequest](dir, constants.MergeRequestsPath)
}

// LoadIssueAttachments reads the issue attachment metadata.
func LoadIssueAttachments(dir string) (AttachmentMetadata, error) {
	return readJSON[AttachmentMetadata](dir, constants.IssueAttachmentMeta)
}

// LoadMRAttachments reads the merge request attachment metadata.
func LoadMRAttachments(dir string) (AttachmentMetadata, error) {
	return readJSON[AttachmentMetadata](dir, constants.MRAttachmentMeta)
}

// LoadLabels reads the exported labels.
func LoadLabels(dir string) ([]sourceclient.Label, error) {
	return readJSON[[]sourceclient.Label](dir, "settings/labels.json")
}

// LoadMilestones reads the exported milestones.
func LoadMilestones(dir string) ([]sourceclient.Milestone, error) {
	return readJSON[[]sourceclient.Milestone](dir, "settings/milestones.json")
}

// LoadVariables reads the exported CI variables (metadata only).
func LoadVariables(dir string) ([]sourceclient.Variable, error) {
	return readJSON[[]sourceclient.Variable](dir, constants.CIVariablesPath)
}

// LoadEnvironments reads the exported environments.
func LoadEnvironments(dir string) ([]sourceclient.Environment, error) {
	return readJSON[[]sourceclient.Environment](dir, constants.CIEnvironmentsPath)
}

// LoadSchedules reads the exported pipeline schedules.
func LoadSchedules(dir string) ([]sourceclient.Schedule, error) {
	return readJSON[[]sourceclient.Schedule](dir, constants.CISchedulesPath)
}

// LoadWebhooks reads the exported webhooks (tokens masked).
func LoadWebhooks(dir string) ([]sourceclient.Webhook, error) {
	return readJSON[[]sourceclient.Webhook](dir, constants.WebhooksPath)
}

// LoadProtectedBranches reads the exported branch protection rules.
func LoadProtectedBranches(dir string) ([]sourceclient.ProtectedBranch, error) {
	return readJSON[[]sourceclient.ProtectedBranch](dir, constants.ProtectedBranchesPath)
}

// LoadProtectedTags reads the exported tag protection rules.
func LoadProtectedTags(dir string) ([]sourceclient.ProtectedTag, error) {
	return readJSON[[]sourceclient.ProtectedTag](dir, constants.ProtectedTagsPath)
}

// LoadMembers reads the exported project members.
func LoadMembers(dir string) ([]sourceclient.Member, error) {
	return readJSON[[]sourceclient.Member](dir, constants.MembersPath)
}

// LoadDeployKeys reads the exported deploy keys.
func LoadDeployKeys(dir string) ([]sourceclient.DeployKey, error) {
	return readJSON[[]sourceclient.DeployKey](dir, constants.DeployKeysPath)
}

// LoadApprovalRules reads the exported approval rules.
func LoadApprovalRules(dir string) ([]sourceclient.ApprovalRule, error) {
	return readJSON[[]sourceclient.ApprovalRule](dir, "settings/approval_rules.json")
}

// LoadReleases reads the exported releases with local asset paths.
func LoadReleases(dir string) ([]sourceclient.Release, error) {
	return readJSON[[]sourceclient.Release](dir, constants.ReleasesPath)
}

// LoadPackages reads the exported package metadata.
func LoadPackages(dir string) ([]sourceclient.Package, error) {
	return readJSON[[]sourceclient.Package](dir, constants.PackagesPath)
}

// LoadCIConfig reads the raw source CI YAML, or nil when the project has none.
func LoadCIConfig(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.CIConfigPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// HasWikiExport reports whether the export tree contains wiki content.
func HasWikiExport(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, constants.WikiRepoPath))
	return err == nil && info.IsDir()
}
