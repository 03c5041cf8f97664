package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/forgemove/ghmigrate/pkg/pipeline/export"
)

// Content rewriting for issues and merge requests: mentions are remapped
// through the user mapping, cross-references converted to destination form,
// and an attribution line records the original author and date.

var (
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_.-]+)`)
	// Source cross-references: #n is an issue, !n is a merge request.
	mrRefPattern = regexp.MustCompile(`(^|\s)!(\d+)\b`)
)

// ContentRewriter rewrites markdown bodies for the destination.
type ContentRewriter struct {
	Users *UserMappingResult
}

// RewriteBody applies mention and cross-reference rewriting.
func (c *ContentRewriter) RewriteBody(body string) string {
	if body == "" {
		return body
	}
	out := mentionPattern.ReplaceAllStringFunc(body, func(match string) string {
		username := match[1:]
		if login, ok := c.Users.MappingFor(username); ok {
			return "@" + login
		}
		// Unmapped mentions are neutralized so they do not ping a stranger
		// who happens to own the same login on the destination.
		return "`@" + username + "`"
	})
	// Merge request references become pull request references. Issue
	// references (#n) keep their syntax; the numbers are remapped by the
	// apply stage once destination numbers are known.
	out = mrRefPattern.ReplaceAllString(out, "${1}#${2}")
	return out
}

// Attribution builds the provenance line prepended to migrated items.
func Attribution(author string, createdAt time.Time) string {
	return fmt.Sprintf("*Originally created by %s on %s*\n\n", author, createdAt.Format("2006-01-02"))
}

// TransformIssues rewrites exported issues into destination shape.
func TransformIssues(issues []export.Issue, attachments map[string]string, rewriter *ContentRewriter) []TransformedIssue {
	out := make([]TransformedIssue, 0, len(issues))
	for _, issue := range issues {
		transformed := TransformedIssue{
			SourceIID: issue.IID,
			Title:     issue.Title,
			State:     mapState(issue.State),
			Labels:    issue.Labels,
			Body: Attribution(issue.Author.Username, issue.CreatedAt) +
				rewriter.RewriteBody(issue.Description),
		}
		if issue.Milestone != nil {
			transformed.Milestone = issue.Milestone.Title
		}
		for _, assignee := range issue.Assignees {
			if login, ok := rewriter.Users.MappingFor(assignee.Username); ok {
				transformed.Assignees = append(transformed.Assignees, login)
			}
		}
		for _, note := range issue.Notes {
			if note.System {
				continue
			}
			transformed.Comments = append(transformed.Comments, TransformedComment{
				Body: Attribution(note.Author.Username, note.CreatedAt) + rewriter.RewriteBody(note.Body),
			})
		}
		for _, path := range issue.AttachmentPaths {
			if local, ok := attachments[path]; ok {
				transformed.Attachments = append(transformed.Attachments, local)
			}
		}
		out = append(out, transformed)
	}
	return out
}

// TransformMergeRequests rewrites exported merge requests into destination
// pull request shape.
func TransformMergeRequests(mrs []export.MergeRequest, attachments map[string]string, rewriter *ContentRewriter) []TransformedMR {
	out := make([]TransformedMR, 0, len(mrs))
	for _, mr := range mrs {
		transformed := TransformedMR{
			SourceIID:    mr.IID,
			Title:        mr.Title,
			State:        mapMRState(mr.State),
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			Labels:       mr.Labels,
			Draft:        mr.Draft,
			Body: Attribution(mr.Author.Username, mr.CreatedAt) +
				rewriter.RewriteBody(mr.Description),
		}
		for _, discussion := range mr.Discussions {
			for _, note := range discussion.Notes {
				if note.System {
					continue
				}
				transformed.Comments = append(transformed.Comments, TransformedComment{
					Body: Attribution(note.Author.Username, note.CreatedAt) + rewriter.RewriteBody(note.Body),
				})
			}
		}
		for _, path := range mr.AttachmentPaths {
			if local, ok := attachments[path]; ok {
				transformed.Attachments = append(transformed.Attachments, local)
			}
		}
		out = append(out, transformed)
	}
	return out
}

func mapState(sourceState string) string {
	if sourceState == "closed" {
		return "closed"
	}
	return "open"
}

func mapMRState(sourceState string) string {
	switch sourceState {
	case "merged", "closed":
		return "closed"
	default:
		return "open"
	}
}
