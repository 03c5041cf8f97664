package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/exportcheckpoint"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// exportRepository mirror-clones the repository, writes the bundle, and
// probes submodules and LFS.
func (s *Stage) exportRepository(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	var warnings []string

	repoDir := filepath.Join(s.Dir, "repository")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("creating repository directory: %w", err)
	}

	if p.EmptyRepo {
		warnings = append(warnings, "repository is empty; bundle contains no refs")
	}

	mirror, err := os.MkdirTemp("", "ghmigrate-mirror-*")
	if err != nil {
		return 0, nil, fmt.Errorf("creating mirror scratch: %w", err)
	}
	defer os.RemoveAll(mirror)
	mirrorDir := filepath.Join(mirror, "repo.git")

	if err := s.Source.CloneMirror(ctx, p.HTTPURLToRepo, mirrorDir); err != nil {
		return 0, warnings, err
	}
	bundlePath := filepath.Join(s.Dir, constants.RepoBundlePath)
	if err := s.Source.BundleAll(ctx, mirrorDir, bundlePath); err != nil {
		return 0, warnings, err
	}

	// Branch and tag counts feed the verify stage's expected state.
	branches, err := sourceclient.Collect(s.Source.Branches(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "could not count branches: "+err.Error())
	}
	tags, err := sourceclient.Collect(s.Source.Tags(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "could not count tags: "+err.Error())
	}
	result.Counts.Branches = len(branches)
	result.Counts.Tags = len(tags)

	hasSubmodules, gitmodules, err := s.Source.HasSubmodules(ctx, p.ID, p.DefaultBranch)
	if err != nil {
		warnings = append(warnings, "submodule probe failed: "+err.Error())
	} else if hasSubmodules {
		if err := os.WriteFile(filepath.Join(s.Dir, constants.SubmodulesPath), []byte(gitmodules), 0o644); err != nil {
			return 0, warnings, err
		}
		warnings = append(warnings, "submodule URLs must be updated after migration")
	}

	hasLFS, err := s.Source.HasLFS(ctx, p.ID, p.DefaultBranch)
	if err != nil {
		warnings = append(warnings, "LFS probe failed: "+err.Error())
	} else if hasLFS {
		result.HasLFS = true
		lfsDir := filepath.Join(s.Dir, constants.RepoLFSDir)
		if err := os.MkdirAll(lfsDir, 0o755); err != nil {
			return 0, warnings, err
		}
		sentinel := "This repository tracks files with git-lfs.\nRun `git lfs fetch --all` against the mirror and `git lfs push --all` to the destination.\n"
		if err := os.WriteFile(filepath.Join(lfsDir, "README.txt"), []byte(sentinel), 0o644); err != nil {
			return 0, warnings, err
		}
	}

	return len(branches) + len(tags), warnings, nil
}

// exportCICD writes the CI configuration and its surrounding metadata.
// Variable values never reach disk; masked ones have none anyway, and the
// rest become user inputs at plan time.
func (s *Stage) exportCICD(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, _ *Result) (int, []string, error) {
	var warnings []string
	items := 0

	ciYAML, err := s.Source.FileContent(ctx, p.ID, ".gitlab-ci.yml", p.DefaultBranch)
	switch {
	case err == nil:
		full := filepath.Join(s.Dir, constants.CIConfigPath)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return 0, nil, err
		}
		if err := os.WriteFile(full, ciYAML, 0o644); err != nil {
			return 0, nil, err
		}
		items++
	case isNotFoundErr(err):
		// No CI config is normal for many projects.
	default:
		return 0, nil, err
	}

	variables, err := sourceclient.Collect(s.Source.Variables(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "variables: "+err.Error())
	} else {
		for i := range variables {
			variables[i].Value = "" // metadata only
		}
		if err := s.writeJSON(constants.CIVariablesPath, variables); err != nil {
			return items, warnings, err
		}
		items += len(variables)
	}

	environments, err := sourceclient.Collect(s.Source.Environments(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "environments: "+err.Error())
	} else {
		if err := s.writeJSON(constants.CIEnvironmentsPath, environments); err != nil {
			return items, warnings, err
		}
		items += len(environments)
	}

	schedules, err := sourceclient.Collect(s.Source.Schedules(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "schedules: "+err.Error())
	} else {
		if err := s.writeJSON(constants.CISchedulesPath, schedules); err != nil {
			return items, warnings, err
		}
		items += len(schedules)
	}

	var history []sourceclient.Pipeline
	s.Source.Pipelines(ctx, p.ID)(func(pl sourceclient.Pipeline, err error) bool {
		if err != nil {
			warnings = append(warnings, "pipeline history: "+err.Error())
			return false
		}
		history = append(history, pl)
		return len(history) < constants.PipelineHistoryLimit
	})
	if err := s.writeJSON(constants.CIPipelineHistoryPath, history); err != nil {
		return items, warnings, err
	}
	items += len(history)

	return items, warnings, nil
}

// exportedIssue is an issue with its notes and discovered attachments.
type exportedIssue struct {
	sourceclient.Issue
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// exportIssues streams every issue with its notes, downloading referenced
// attachments. The checkpoint advances every few items so a crash resumes
// after the last processed iid.
func (s *Stage) exportIssues(ctx context.Context, p sourceclient.Project, cp *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	attachDir := filepath.Join(s.Dir, constants.IssueAttachmentsDir)
	downloader := newAttachmentDownloader(s.Source, p.WebURL, attachDir, "issues/attachments")

	var issues []exportedIssue
	resumeAfter := 0
	if s.Resume && cp.ShouldResume("issues") {
		resumeAfter = cp.LastProcessedItem("issues")
		issues = loadExistingJSON[[]exportedIssue](filepath.Join(s.Dir, constants.IssuesPath))
		existingMeta := loadExistingJSON[AttachmentMetadata](filepath.Join(s.Dir, constants.IssueAttachmentMeta))
		if existingMeta.Files != nil {
			downloader.meta = existingMeta
		}
		log.Printf("Resuming issues after iid %d (%d already exported)", resumeAfter, len(issues))
	}

	processed := len(issues)
	var iterErr error
	s.Source.Issues(ctx, p.ID)(func(issue sourceclient.Issue, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		if issue.IID <= resumeAfter {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		notes, err := sourceclient.Collect(s.Source.IssueNotes(ctx, p.ID, issue.IID))
		if err != nil {
			iterErr = fmt.Errorf("notes for issue %d: %w", issue.IID, err)
			return false
		}
		issue.Notes = notes

		bodies := []string{issue.Description}
		for _, note := range notes {
			bodies = append(bodies, note.Body)
		}
		downloader.Download(ctx, bodies...)

		issues = append(issues, exportedIssue{
			Issue:           issue,
			AttachmentPaths: ScanAttachmentPaths(bodies...),
		})
		processed++
		if processed%constants.CheckpointInterval == 0 {
			if err := cp.UpdateProgress("issues", processed, issue.IID); err != nil {
				iterErr = err
				return false
			}
			if err := s.writeJSON(constants.IssuesPath, issues); err != nil {
				iterErr = err
				return false
			}
		}
		return true
	})
	if iterErr != nil {
		return processed, downloader.meta.Warnings, iterErr
	}

	if err := s.writeJSON(constants.IssuesPath, issues); err != nil {
		return processed, nil, err
	}
	if err := s.writeJSON(constants.IssueAttachmentMeta, downloader.meta); err != nil {
		return processed, nil, err
	}
	result.Counts.Issues = len(issues)
	result.Counts.Attachments += len(downloader.meta.Files)
	return processed, downloader.meta.Warnings, ctx.Err()
}

// exportedMR is a merge request with discussions, approvals, and attachments.
type exportedMR struct {
	sourceclient.MergeRequest
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// exportMergeRequests applies the same streaming and attachment discipline
// as issues, additionally persisting approvals.
func (s *Stage) exportMergeRequests(ctx context.Context, p sourceclient.Project, cp *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	attachDir := filepath.Join(s.Dir, constants.MRAttachmentsDir)
	downloader := newAttachmentDownloader(s.Source, p.WebURL, attachDir, "merge_requests/attachments")

	var mrs []exportedMR
	resumeAfter := 0
	if s.Resume && cp.ShouldResume("merge_requests") {
		resumeAfter = cp.LastProcessedItem("merge_requests")
		mrs = loadExistingJSON[[]exportedMR](filepath.Join(s.Dir, constants.MergeRequestsPath))
		existingMeta := loadExistingJSON[AttachmentMetadata](filepath.Join(s.Dir, constants.MRAttachmentMeta))
		if existingMeta.Files != nil {
			downloader.meta = existingMeta
		}
		log.Printf("Resuming merge requests after iid %d (%d already exported)", resumeAfter, len(mrs))
	}

	processed := len(mrs)
	var iterErr error
	s.Source.MergeRequests(ctx, p.ID)(func(mr sourceclient.MergeRequest, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		if mr.IID <= resumeAfter {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		discussions, err := sourceclient.Collect(s.Source.MergeRequestDiscussions(ctx, p.ID, mr.IID))
		if err != nil {
			iterErr = fmt.Errorf("discussions for mr %d: %w", mr.IID, err)
			return false
		}
		mr.Discussions = discussions

		approvals, err := s.Source.MergeRequestApprovals(ctx, p.ID, mr.IID)
		if err == nil {
			mr.Approvals = &approvals
		}

		bodies := []string{mr.Description}
		for _, discussion := range discussions {
			for _, note := range discussion.Notes {
				bodies = append(bodies, note.Body)
			}
		}
		downloader.Download(ctx, bodies...)

		mrs = append(mrs, exportedMR{
			MergeRequest:    mr,
			AttachmentPaths: ScanAttachmentPaths(bodies...),
		})
		processed++
		if processed%constants.CheckpointInterval == 0 {
			if err := cp.UpdateProgress("merge_requests", processed, mr.IID); err != nil {
				iterErr = err
				return false
			}
			if err := s.writeJSON(constants.MergeRequestsPath, mrs); err != nil {
				iterErr = err
				return false
			}
		}
		return true
	})
	if iterErr != nil {
		return processed, downloader.meta.Warnings, iterErr
	}

	if err := s.writeJSON(constants.MergeRequestsPath, mrs); err != nil {
		return processed, nil, err
	}
	if err := s.writeJSON(constants.MRAttachmentMeta, downloader.meta); err != nil {
		return processed, nil, err
	}
	result.Counts.MergeRequests = len(mrs)
	result.Counts.Attachments += len(downloader.meta.Files)
	return processed, downloader.meta.Warnings, ctx.Err()
}

// exportWiki clones the wiki repository, or writes the matching sentinel
// when the wiki is disabled or empty.
func (s *Stage) exportWiki(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	wikiDir := filepath.Join(s.Dir, "wiki")
	if err := os.MkdirAll(wikiDir, 0o755); err != nil {
		return 0, nil, err
	}

	if !p.WikiEnabled {
		err := os.WriteFile(filepath.Join(s.Dir, constants.WikiDisabledSentinel),
			[]byte("wiki is disabled on the source project\n"), 0o644)
		return 0, nil, err
	}

	hasContent, err := s.Source.CloneWiki(ctx, p.HTTPURLToRepo, filepath.Join(s.Dir, constants.WikiRepoPath))
	if err != nil {
		return 0, nil, err
	}
	if !hasContent {
		err := os.WriteFile(filepath.Join(s.Dir, constants.WikiEmptySentinel),
			[]byte("wiki exists but has no pages\n"), 0o644)
		return 0, nil, err
	}
	result.HasWiki = true
	return 1, nil, nil
}

// exportReleases lists releases and downloads every asset. A failed asset
// download is a warning, not an error.
func (s *Stage) exportReleases(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	var warnings []string

	releases, err := sourceclient.Collect(s.Source.Releases(ctx, p.ID))
	if err != nil {
		return 0, nil, err
	}

	for ri := range releases {
		release := &releases[ri]
		for ai := range release.Assets.Links {
			asset := &release.Assets.Links[ai]
			name := sanitizeAssetName(asset.Name)
			destPath := filepath.Join(s.Dir, "releases", release.TagName, name)
			if _, err := s.Source.DownloadFile(ctx, asset.URL, destPath); err != nil {
				warnings = append(warnings,
					fmt.Sprintf("release %s asset %s: %v", release.TagName, asset.Name, err))
				continue
			}
			asset.LocalPath = filepath.Join("releases", release.TagName, name)
		}
	}

	if err := s.writeJSON(constants.ReleasesPath, releases); err != nil {
		return len(releases), warnings, err
	}
	result.Counts.Releases = len(releases)
	return len(releases), warnings, nil
}

// exportPackages writes registry metadata and a transfer script; moving the
// package bits themselves is out of scope.
func (s *Stage) exportPackages(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, _ *Result) (int, []string, error) {
	packages, err := sourceclient.Collect(s.Source.Packages(ctx, p.ID))
	if err != nil {
		if isNotFoundErr(err) {
			return 0, nil, s.writeJSON(constants.PackagesPath, []sourceclient.Package{})
		}
		return 0, nil, err
	}
	if err := s.writeJSON(constants.PackagesPath, packages); err != nil {
		return 0, nil, err
	}

	if len(packages) > 0 {
		script := buildPackageScript(p.PathWithNamespace, packages)
		if err := os.WriteFile(filepath.Join(s.Dir, "packages", "migrate_packages.sh"), []byte(script), 0o755); err != nil {
			return len(packages), nil, err
		}
	}
	return len(packages), nil, nil
}

func buildPackageScript(projectPath string, packages []sourceclient.Package) string {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("# Republishes source registry packages to the destination registry.\n")
	b.WriteString("# Registry contents are not transferred automatically; review before running.\n")
	b.WriteString("set -euo pipefail\n\n")
	fmt.Fprintf(&b, "SOURCE_PROJECT=%q\n\n", projectPath)
	for _, pkg := range packages {
		fmt.Fprintf(&b, "echo 'TODO: republish %s package %s@%s'\n", pkg.PackageType, pkg.Name, pkg.Version)
	}
	return b.String()
}

// exportSettings persists protections, members, webhooks, deploy keys,
// labels, milestones, and project toggles. Webhook tokens are masked before
// anything reaches disk.
func (s *Stage) exportSettings(ctx context.Context, p sourceclient.Project, _ *exportcheckpoint.Checkpoint, result *Result) (int, []string, error) {
	var warnings []string
	items := 0

	protectedBranches, err := sourceclient.Collect(s.Source.ProtectedBranches(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "protected branches: "+err.Error())
	} else {
		if err := s.writeJSON(constants.ProtectedBranchesPath, protectedBranches); err != nil {
			return items, warnings, err
		}
		items += len(protectedBranches)
	}

	protectedTags, err := sourceclient.Collect(s.Source.ProtectedTags(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "protected tags: "+err.Error())
	} else {
		if err := s.writeJSON(constants.ProtectedTagsPath, protectedTags); err != nil {
			return items, warnings, err
		}
		items += len(protectedTags)
	}

	members, err := sourceclient.Collect(s.Source.Members(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "members: "+err.Error())
	} else {
		if err := s.writeJSON(constants.MembersPath, members); err != nil {
			return items, warnings, err
		}
		items += len(members)
	}

	webhooks, err := sourceclient.Collect(s.Source.Webhooks(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "webhooks: "+err.Error())
	} else {
		for i := range webhooks {
			if webhooks[i].Token != "" {
				webhooks[i].Token = constants.MaskedValue
			}
		}
		if err := s.writeJSON(constants.WebhooksPath, webhooks); err != nil {
			return items, warnings, err
		}
		result.Counts.Webhooks = len(webhooks)
		items += len(webhooks)
	}

	deployKeys, err := sourceclient.Collect(s.Source.DeployKeys(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "deploy keys: "+err.Error())
	} else {
		if err := s.writeJSON(constants.DeployKeysPath, deployKeys); err != nil {
			return items, warnings, err
		}
		items += len(deployKeys)
	}

	labels, err := sourceclient.Collect(s.Source.Labels(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "labels: "+err.Error())
	} else {
		if err := s.writeJSON("settings/labels.json", labels); err != nil {
			return items, warnings, err
		}
		result.Counts.Labels = len(labels)
		items += len(labels)
	}

	milestones, err := sourceclient.Collect(s.Source.Milestones(ctx, p.ID))
	if err != nil {
		warnings = append(warnings, "milestones: "+err.Error())
	} else {
		if err := s.writeJSON("settings/milestones.json", milestones); err != nil {
			return items, warnings, err
		}
		result.Counts.Milestones = len(milestones)
		items += len(milestones)
	}

	approvalRules, err := s.Source.ApprovalRules(ctx, p.ID)
	if err == nil {
		if err := s.writeJSON("settings/approval_rules.json", approvalRules); err != nil {
			return items, warnings, err
		}
	}

	if err := s.writeJSON(constants.ProjectSettingsPath, p); err != nil {
		return items, warnings, err
	}

	return items, warnings, nil
}

func sanitizeAssetName(name string) string {
	return filepath.Base(strings.ReplaceAll(name, "..", "_"))
}

func isNotFoundErr(err error) bool {
	return forgeerr.CategoryOf(err) == forgeerr.CategoryNotFound
}

// loadExistingJSON reads a previously written artifact during resume,
// returning the zero value when the file is absent or unreadable.
func loadExistingJSON[T any](path string) T {
	var out T
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
