package verify

import (
	"context"
	"fmt"
	"strings"
)

func (s *Stage) verifyRepository(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}

	if _, err := s.Dest.GetRepo(ctx, owner, repo); err != nil {
		cr.Errors = append(cr.Errors, "repository not found: "+err.Error())
		cr.Status = "failed"
		return cr
	}
	cr.Checks = append(cr.Checks, Check{Name: "repository_exists", Expected: true, Actual: true, Passed: true})

	if branches, err := s.Dest.CountBranches(ctx, owner, repo); err != nil {
		cr.Warnings = append(cr.Warnings, "could not count branches: "+err.Error())
	} else {
		s.compareCount(&cr, "repository", "branch_count", expected.Branches, branches)
	}
	if tags, err := s.Dest.CountTags(ctx, owner, repo); err != nil {
		cr.Warnings = append(cr.Warnings, "could not count tags: "+err.Error())
	} else {
		s.compareCount(&cr, "repository", "tag_count", expected.Tags, tags)
	}

	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyCICD(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if len(expected.Workflows) == 0 && len(expected.Environments) == 0 && len(expected.Secrets) == 0 {
		cr.Status = "skipped"
		return cr
	}

	if len(expected.Workflows) > 0 {
		workflows, err := s.Dest.ListWorkflows(ctx, owner, repo)
		if err != nil {
			cr.Errors = append(cr.Errors, "could not list workflows: "+err.Error())
		} else {
			var paths []string
			for _, w := range workflows {
				paths = append(paths, w.Path)
			}
			var expectedPaths []string
			for _, name := range expected.Workflows {
				expectedPaths = append(expectedPaths, ".github/workflows/"+name)
			}
			compareSet(&cr, "workflows", expectedPaths, paths)

			// Spot-check that workflow bodies are readable.
			for _, path := range expectedPaths {
				if _, err := s.Dest.GetFileContent(ctx, owner, repo, path); err != nil {
					cr.Warnings = append(cr.Warnings, "workflow body unreadable: "+path)
				}
			}
		}
	}

	if len(expected.Environments) > 0 {
		envs, err := s.Dest.ListEnvironments(ctx, owner, repo)
		if err != nil {
			cr.Errors = append(cr.Errors, "could not list environments: "+err.Error())
		} else {
			compareSet(&cr, "environments", expected.Environments, envs)
		}
	}

	if len(expected.Secrets) > 0 {
		// Secret values are unreadable by design; names are the contract.
		names, err := s.Dest.ListSecretNames(ctx, owner, repo)
		if err != nil {
			cr.Warnings = append(cr.Warnings, "could not list secrets: "+err.Error())
		} else {
			compareSet(&cr, "secret_names", expected.Secrets, names)
		}
	}

	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyIssues(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if expected.Issues == 0 {
		cr.Status = "skipped"
		return cr
	}
	// The issues listing includes pull requests on this forge; subtract
	// the expected PR count from the aggregate before comparing.
	count, err := s.Dest.CountIssues(ctx, owner, repo)
	if err != nil {
		cr.Errors = append(cr.Errors, "could not count issues: "+err.Error())
	} else {
		s.compareCount(&cr, "issues", "issue_count", expected.Issues+expected.PullRequests, count)
		cr.Stats = map[string]any{"listed": count}
	}
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyPulls(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if expected.PullRequests == 0 {
		cr.Status = "skipped"
		return cr
	}
	count, err := s.Dest.CountPulls(ctx, owner, repo)
	if err != nil {
		cr.Errors = append(cr.Errors, "could not count pull requests: "+err.Error())
	} else {
		s.compareCount(&cr, "pull_requests", "pull_request_count", expected.PullRequests, count)
	}
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyWiki(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if !expected.HasWiki {
		cr.Status = "skipped"
		return cr
	}
	repoInfo, err := s.Dest.GetRepo(ctx, owner, repo)
	if err != nil {
		cr.Errors = append(cr.Errors, "could not read repository: "+err.Error())
	} else {
		check := Check{Name: "wiki_enabled", Expected: true, Actual: repoInfo.HasWiki, Passed: repoInfo.HasWiki}
		if !repoInfo.HasWiki {
			cr.Errors = append(cr.Errors, "wiki is not enabled on the destination")
		}
		cr.Checks = append(cr.Checks, check)
	}
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyReleases(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if expected.Releases == 0 {
		cr.Status = "skipped"
		return cr
	}
	count, err := s.Dest.CountReleases(ctx, owner, repo)
	if err != nil {
		cr.Errors = append(cr.Errors, "could not count releases: "+err.Error())
	} else {
		s.compareCount(&cr, "releases", "release_count", expected.Releases, count)
	}
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyPackages(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if expected.Packages == 0 {
		cr.Status = "skipped"
		return cr
	}
	// Registry contents are out of scope; the verified contract is the
	// preserved migration script.
	cr.Warnings = append(cr.Warnings,
		fmt.Sprintf("%d packages require manual republication; see export/packages/migrate_packages.sh", expected.Packages))
	cr.Checks = append(cr.Checks, Check{Name: "packages_documented", Expected: expected.Packages, Actual: expected.Packages, Passed: true})
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifySettings(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}

	if expected.Labels > 0 {
		labels, err := s.Dest.ListLabels(ctx, owner, repo)
		if err != nil {
			cr.Errors = append(cr.Errors, "could not list labels: "+err.Error())
		} else {
			// Destinations seed default labels, so only a shortfall counts.
			if len(labels) < expected.Labels {
				s.compareCount(&cr, "settings", "label_count", expected.Labels, len(labels))
			} else {
				cr.Checks = append(cr.Checks, Check{Name: "label_count", Expected: expected.Labels, Actual: len(labels), Passed: true})
			}
		}
	}
	if expected.Milestones > 0 {
		milestones, err := s.Dest.ListMilestones(ctx, owner, repo)
		if err != nil {
			cr.Errors = append(cr.Errors, "could not list milestones: "+err.Error())
		} else {
			s.compareCount(&cr, "settings", "milestone_count", expected.Milestones, len(milestones))
		}
	}
	if expected.Webhooks > 0 {
		hooks, err := s.Dest.ListWebhooks(ctx, owner, repo)
		if err != nil {
			cr.Errors = append(cr.Errors, "could not list webhooks: "+err.Error())
		} else {
			s.compareCount(&cr, "settings", "webhook_count", expected.Webhooks, len(hooks))
		}
	}
	for _, branch := range expected.Protections {
		if _, err := s.Dest.GetBranchProtection(ctx, owner, repo, branch); err != nil {
			cr.Errors = append(cr.Errors, fmt.Sprintf("branch %s is not protected: %v", branch, err))
			cr.Checks = append(cr.Checks, Check{Name: "protection_" + branch, Expected: true, Actual: false})
		} else {
			cr.Checks = append(cr.Checks, Check{Name: "protection_" + branch, Expected: true, Actual: true, Passed: true})
		}
	}
	if len(expected.Collaborators) > 0 {
		logins, err := s.Dest.ListCollaborators(ctx, owner, repo)
		if err != nil {
			cr.Warnings = append(cr.Warnings, "could not list collaborators: "+err.Error())
		} else {
			missing := 0
			loginSet := map[string]bool{}
			for _, l := range logins {
				loginSet[strings.ToLower(l)] = true
			}
			for _, c := range expected.Collaborators {
				if !loginSet[strings.ToLower(c)] {
					missing++
					cr.Warnings = append(cr.Warnings, "collaborator invitation pending or missing: "+c)
				}
			}
			cr.Checks = append(cr.Checks, Check{
				Name: "collaborators", Expected: len(expected.Collaborators),
				Actual: len(expected.Collaborators) - missing, Passed: missing == 0,
			})
		}
	}

	if len(cr.Checks) == 0 && len(cr.Errors) == 0 {
		cr.Status = "skipped"
		return cr
	}
	cr.Status = componentStatus(&cr)
	return cr
}

func (s *Stage) verifyPreservation(ctx context.Context, owner, repo string, expected Expected) ComponentResult {
	cr := ComponentResult{}
	if len(expected.Preservation) == 0 {
		cr.Status = "skipped"
		return cr
	}
	for _, path := range expected.Preservation {
		if _, err := s.Dest.GetFileContent(ctx, owner, repo, path); err != nil {
			cr.Errors = append(cr.Errors, "preserved artifact missing: "+path)
			cr.Checks = append(cr.Checks, Check{Name: path, Expected: true, Actual: false})
		} else {
			cr.Checks = append(cr.Checks, Check{Name: path, Expected: true, Actual: true, Passed: true})
		}
	}
	cr.Status = componentStatus(&cr)
	return cr
}
