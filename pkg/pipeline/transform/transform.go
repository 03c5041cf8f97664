// Package transform converts export artifacts into destination-ready data:
// CI workflows, user mappings, rewritten content, labels, milestones,
// protection rules, webhooks, and the conversion gap report.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/pipeline/export"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

var log = logger.New("transform:transform")

// Stage converts one project's export tree.
type Stage struct {
	// Dest reads destination org members for user mapping. May be nil in
	// offline modes; mapping then reports every user unmapped.
	Dest *destclient.Client
	// DestOrg is the destination organization login.
	DestOrg string
	// DestRepo is the destination owner/name slug.
	DestRepo string
	// Dir is the transform output root, usually <artifact-root>/transform.
	Dir string
	// SourceRegistry is the source container registry host.
	SourceRegistry string
	// UserCache shares resolved destination members across a batch.
	UserCache *UserCache
}

// New creates a transform stage writing under artifactRoot.
func New(dest *destclient.Client, destOrg, destRepo, artifactRoot string) *Stage {
	return &Stage{
		Dest:     dest,
		DestOrg:  destOrg,
		DestRepo: destRepo,
		Dir:      filepath.Join(artifactRoot, constants.TransformDir),
	}
}

// Run reads the export tree and produces every transform artifact.
func (s *Stage) Run(ctx context.Context, exportDir string) (*Result, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating transform directory: %w", err)
	}

	project, err := export.LoadProject(exportDir)
	if err != nil {
		return nil, err
	}

	result := &Result{Dir: s.Dir}
	var allGaps []Gap

	// CI conversion, when the project has a CI configuration.
	ciYAML, err := export.LoadCIConfig(exportDir)
	if err != nil {
		return nil, err
	}
	if len(ciYAML) > 0 {
		registry := NewRegistryRewrite(
			s.sourceRegistryHost(), project.PathWithNamespace, "ghcr.io", s.DestRepo)
		conversion, err := ConvertCI(ciYAML, project.Name+" CI", registry)
		if err != nil {
			allGaps = append(allGaps, Gap{
				Component: "ci_cd", Feature: "parse",
				Severity: SeverityCritical, Detail: err.Error(),
			})
		} else {
			result.CI = conversion
			allGaps = append(allGaps, conversion.Gaps...)
			for name, content := range conversion.Workflows {
				path := filepath.Join(s.Dir, constants.WorkflowsDir, name)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return nil, err
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return nil, err
				}
			}
		}
	}

	// User mapping against destination org members.
	members, err := export.LoadMembers(exportDir)
	if err != nil {
		return nil, err
	}
	issues, err := export.LoadIssues(exportDir)
	if err != nil {
		return nil, err
	}
	mrs, err := export.LoadMergeRequests(exportDir)
	if err != nil {
		return nil, err
	}
	sourceUsers := collectSourceUsers(members, issues, mrs)
	destMembers := s.destMembers(ctx)
	result.Users = MapUsers(sourceUsers, destMembers)
	if err := s.writeJSON(constants.UserMappingsPath, result.Users); err != nil {
		return nil, err
	}

	// Content rewrite for issues and merge requests.
	rewriter := &ContentRewriter{Users: &result.Users}
	issueAttachments, err := export.LoadIssueAttachments(exportDir)
	if err != nil {
		return nil, err
	}
	mrAttachments, err := export.LoadMRAttachments(exportDir)
	if err != nil {
		return nil, err
	}
	result.Issues = TransformIssues(issues, issueAttachments.Files, rewriter)
	if err := s.writeJSON(constants.TransformedIssues, result.Issues); err != nil {
		return nil, err
	}
	result.MRs = TransformMergeRequests(mrs, mrAttachments.Files, rewriter)
	if err := s.writeJSON(constants.TransformedMRs, result.MRs); err != nil {
		return nil, err
	}

	// Labels and milestones.
	labels, err := export.LoadLabels(exportDir)
	if err != nil {
		return nil, err
	}
	result.Labels = TransformLabels(labels)
	if err := s.writeJSON(constants.TransformedLabels, result.Labels); err != nil {
		return nil, err
	}
	milestones, err := export.LoadMilestones(exportDir)
	if err != nil {
		return nil, err
	}
	result.Milestones = TransformMilestones(milestones)
	if err := s.writeJSON(constants.TransformedMilestone, result.Milestones); err != nil {
		return nil, err
	}

	// Protection rules and CODEOWNERS.
	protectedBranches, err := export.LoadProtectedBranches(exportDir)
	if err != nil {
		return nil, err
	}
	protectedTags, err := export.LoadProtectedTags(exportDir)
	if err != nil {
		return nil, err
	}
	approvalRules, err := export.LoadApprovalRules(exportDir)
	if err != nil {
		return nil, err
	}
	var ciJobNames []string
	if result.CI != nil {
		ciJobNames = result.CI.JobNames
	}
	var protGaps []Gap
	result.Protections, result.TagRules, result.Codeowners, protGaps = TransformProtections(
		protectedBranches, protectedTags, approvalRules, ciJobNames, &result.Users, s.DestOrg)
	allGaps = append(allGaps, protGaps...)
	if err := s.writeJSON(constants.BranchProtectionPath, result.Protections); err != nil {
		return nil, err
	}
	if err := s.writeJSON(constants.TagProtectionPath, result.TagRules); err != nil {
		return nil, err
	}
	if result.Codeowners != "" {
		if err := os.WriteFile(filepath.Join(s.Dir, constants.CodeownersPath), []byte(result.Codeowners), 0o644); err != nil {
			return nil, err
		}
	}

	// Webhooks.
	webhooks, err := export.LoadWebhooks(exportDir)
	if err != nil {
		return nil, err
	}
	var hookGaps []Gap
	result.Webhooks, hookGaps = TransformWebhooks(webhooks)
	allGaps = append(allGaps, hookGaps...)
	if err := s.writeJSON(constants.TransformedWebhooks, result.Webhooks); err != nil {
		return nil, err
	}

	// Gap analysis: JSON plus the human-readable markdown report.
	result.Gaps = AnalyzeGaps(allGaps, len(issues) > 0)
	if err := s.writeJSON(constants.ConversionGapsJSON, result.Gaps); err != nil {
		return nil, err
	}
	report := RenderGapReport(result.Gaps, project.PathWithNamespace)
	if err := os.WriteFile(filepath.Join(s.Dir, constants.ConversionGapsMD), []byte(report), 0o644); err != nil {
		return nil, err
	}

	log.Printf("Transform complete: %d issues, %d MRs, %d labels, %d gaps",
		len(result.Issues), len(result.MRs), len(result.Labels), len(result.Gaps))
	return result, nil
}

func (s *Stage) sourceRegistryHost() string {
	if s.SourceRegistry != "" {
		return s.SourceRegistry
	}
	return "registry.gitlab.com"
}

// destMembers resolves destination org members, consulting the shared batch
// cache first so concurrent projects in one group resolve users only once.
func (s *Stage) destMembers(ctx context.Context) []destclient.OrgMember {
	if s.UserCache != nil {
		if members, ok := s.UserCache.Get(s.DestOrg); ok {
			return members
		}
	}
	if s.Dest == nil {
		return nil
	}
	members, err := s.Dest.ListOrgMembers(ctx, s.DestOrg)
	if err != nil {
		log.Printf("Could not list destination org members: %v", err)
		return nil
	}
	// Enrich with profile names for name-equality matching. Errors leave
	// the login-only record, which still supports username matching.
	for i, member := range members {
		if profile, err := s.Dest.GetUserProfile(ctx, member.Login); err == nil {
			members[i].Name = profile.Name
			members[i].Email = profile.Email
		}
	}
	if s.UserCache != nil {
		s.UserCache.Put(s.DestOrg, members)
	}
	return members
}

// collectSourceUsers unions project members with every issue and MR author,
// assignee, and commenter, so content rewriting can map all of them.
func collectSourceUsers(members []sourceclient.Member, issues []export.Issue, mrs []export.MergeRequest) []sourceclient.Member {
	seen := map[string]bool{}
	var users []sourceclient.Member
	add := func(username, name, email string) {
		if username == "" || seen[username] {
			return
		}
		seen[username] = true
		users = append(users, sourceclient.Member{Username: username, Name: name, Email: email})
	}

	for _, m := range members {
		add(m.Username, m.Name, m.Email)
	}
	for _, issue := range issues {
		add(issue.Author.Username, issue.Author.Name, issue.Author.Email)
		for _, a := range issue.Assignees {
			add(a.Username, a.Name, a.Email)
		}
		for _, note := range issue.Notes {
			add(note.Author.Username, note.Author.Name, note.Author.Email)
		}
	}
	for _, mr := range mrs {
		add(mr.Author.Username, mr.Author.Name, mr.Author.Email)
		for _, a := range mr.Assignees {
			add(a.Username, a.Name, a.Email)
		}
		for _, discussion := range mr.Discussions {
			for _, note := range discussion.Notes {
				add(note.Author.Username, note.Author.Name, note.Author.Email)
			}
		}
	}
	return users
}

func (s *Stage) writeJSON(relPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", relPath, err)
	}
	full := filepath.Join(s.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
