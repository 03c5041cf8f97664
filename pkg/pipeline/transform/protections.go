package transform

import (
	"fmt"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// Source access levels with protection semantics the destination cannot
// express per-user.
const (
	accessLevelNoAccess  = 0
	accessLevelMaintainer = 40
)

// TransformProtections converts source protected branches and tags into
// destination protection rules. Per-user push restrictions and other
// unmappable features become gaps; approval rules that reference specific
// users or groups are expressed through a CODEOWNERS file instead.
func TransformProtections(
	branches []sourceclient.ProtectedBranch,
	tags []sourceclient.ProtectedTag,
	approvalRules []sourceclient.ApprovalRule,
	ciJobNames []string,
	users *UserMappingResult,
	destOrg string,
) ([]BranchProtection, []TagProtection, string, []Gap) {
	var gaps []Gap

	requiredApprovals := 0
	for _, rule := range approvalRules {
		if rule.ApprovalsRequired > requiredApprovals {
			requiredApprovals = rule.ApprovalsRequired
		}
	}

	protections := make([]BranchProtection, 0, len(branches))
	for _, branch := range branches {
		protection := BranchProtection{
			Branch: branch.Name,
			RequiredPullRequestReviews: PullRequestReviews{
				RequiredApprovingReviewCount: requiredApprovals,
				RequireCodeOwnerReviews:      branch.CodeOwnerApprovalRequired,
			},
			RequiredStatusChecks: StatusChecks{
				Strict:   true,
				Contexts: ciJobNames,
			},
			AllowForcePushes: branch.AllowForcePush,
			AllowDeletions:   false,
			EnforceAdmins:    true,
		}
		protections = append(protections, protection)

		for _, level := range branch.PushAccessLevels {
			if level.UserID != 0 {
				gaps = append(gaps, Gap{
					Component: "protections",
					Feature:   "per_user_push_restriction",
					Severity:  SeverityWarning,
					Detail: fmt.Sprintf("branch %q restricts push to user id %d; the destination restricts by team, not user",
						branch.Name, level.UserID),
					Workaround: "create a team containing the user and add it to the protection's restrictions",
				})
			}
			if level.AccessLevel == accessLevelNoAccess {
				gaps = append(gaps, Gap{
					Component: "protections",
					Feature:   "no_push_access_level",
					Severity:  SeverityInfo,
					Detail:    fmt.Sprintf("branch %q forbids all direct pushes; enforced via required reviews", branch.Name),
				})
			}
		}
		if len(branch.MergeAccessLevels) > 0 {
			for _, level := range branch.MergeAccessLevels {
				if level.AccessLevel > accessLevelMaintainer {
					gaps = append(gaps, Gap{
						Component: "protections",
						Feature:   "unprotect_access_level",
						Severity:  SeverityWarning,
						Detail:    fmt.Sprintf("branch %q uses an unprotect access level with no destination equivalent", branch.Name),
					})
				}
			}
		}
	}

	tagRules := make([]TagProtection, 0, len(tags))
	for _, tag := range tags {
		tagRules = append(tagRules, TagProtection{Pattern: tag.Name})
	}
	if len(tags) > 0 {
		gaps = append(gaps, Gap{
			Component: "protections",
			Feature:   "tag_protection",
			Severity:  SeverityWarning,
			Detail:    "tag protection requires destination tag rulesets, which some plans lack",
			Workaround: "verify the destination plan supports tag rulesets, or protect tags manually",
		})
	}

	codeowners := buildCodeowners(approvalRules, users, destOrg, &gaps)
	return protections, tagRules, codeowners, gaps
}

// buildCodeowners emits a CODEOWNERS file when approval rules name specific
// users or groups. Unmappable approvers become gaps.
func buildCodeowners(approvalRules []sourceclient.ApprovalRule, users *UserMappingResult, destOrg string, gaps *[]Gap) string {
	var owners []string
	for _, rule := range approvalRules {
		for _, approver := range rule.EligibleApprovers {
			if login, ok := users.MappingFor(approver.Username); ok {
				owners = append(owners, "@"+login)
			} else {
				*gaps = append(*gaps, Gap{
					Component: "protections",
					Feature:   "approval_rule_user",
					Severity:  SeverityWarning,
					Detail: fmt.Sprintf("approver %q in rule %q has no destination mapping",
						approver.Username, rule.Name),
				})
			}
		}
		for _, group := range rule.Groups {
			segments := strings.Split(group.FullPath, "/")
			team := segments[len(segments)-1]
			owners = append(owners, fmt.Sprintf("@%s/%s", destOrg, team))
		}
	}
	if len(owners) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Generated from source approval rules during migration.\n")
	b.WriteString("* " + strings.Join(dedupe(owners), " ") + "\n")
	return b.String()
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
