package transform

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline/export"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

func TestMapUsersPriorityOrder(t *testing.T) {
	sourceUsers := []sourceclient.Member{
		{Username: "alice", Email: "alice@example.com", Name: "Alice Adams"},
		{Username: "BOB", Name: "Bob Brown"},
		{Username: "carol-x", Name: "Carol Chen"},
		{Username: "mystery", Name: "Someone Else"},
	}
	destMembers := []destclient.OrgMember{
		{Login: "adamsa", Email: "alice@example.com", Name: "A. Adams"},
		{Login: "bob", Name: "Robert Brown"},
		{Login: "cchen", Name: "carol chen"},
	}

	result := MapUsers(sourceUsers, destMembers)
	require.Equal(t, 4, result.Stats.Total)

	byUser := map[string]UserMapping{}
	for _, m := range result.Mappings {
		byUser[m.SourceUsername] = m
	}

	require.Equal(t, "adamsa", byUser["alice"].DestinationLogin)
	require.Equal(t, ConfidenceHigh, byUser["alice"].Confidence)
	require.Equal(t, MethodEmail, byUser["alice"].Method)

	require.Equal(t, "bob", byUser["BOB"].DestinationLogin)
	require.Equal(t, ConfidenceMedium, byUser["BOB"].Confidence)
	require.Equal(t, MethodUsername, byUser["BOB"].Method)

	require.Equal(t, "cchen", byUser["carol-x"].DestinationLogin)
	require.Equal(t, ConfidenceLow, byUser["carol-x"].Confidence)
	require.Equal(t, MethodName, byUser["carol-x"].Method)

	require.Equal(t, ConfidenceUnmapped, byUser["mystery"].Confidence)
	require.Contains(t, result.UnmappedUsers, "mystery")
	require.Equal(t, 1, result.Stats.Unmapped)
}

func TestMapUsersFuzzy(t *testing.T) {
	sourceUsers := []sourceclient.Member{{Username: "jdoe", Name: ""}}
	destMembers := []destclient.OrgMember{{Login: "jdoe1"}}

	result := MapUsers(sourceUsers, destMembers)
	require.Equal(t, "jdoe1", result.Mappings[0].DestinationLogin)
	require.Equal(t, MethodFuzzy, result.Mappings[0].Method)
	require.Equal(t, ConfidenceLow, result.Mappings[0].Confidence)
}

func TestRewriteBody(t *testing.T) {
	users := UserMappingResult{Mappings: []UserMapping{
		{SourceUsername: "alice", DestinationLogin: "adamsa", Confidence: ConfidenceHigh},
	}}
	rewriter := &ContentRewriter{Users: &users}

	out := rewriter.RewriteBody("cc @alice and @stranger, see !42 and #7")
	require.Contains(t, out, "@adamsa")
	require.Contains(t, out, "`@stranger`")
	require.Contains(t, out, "#42", "merge request refs become pull request refs")
	require.Contains(t, out, "#7")
}

func TestAttribution(t *testing.T) {
	line := Attribution("alice", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.Equal(t, "*Originally created by alice on 2024-03-15*\n\n", line)
}

func TestTransformIssues(t *testing.T) {
	users := UserMappingResult{Mappings: []UserMapping{
		{SourceUsername: "alice", DestinationLogin: "adamsa"},
	}}
	rewriter := &ContentRewriter{Users: &users}

	issues := []export.Issue{{
		Issue: sourceclient.Issue{
			IID:         7,
			Title:       "Crash on startup",
			Description: "ping @alice\n\n![trace](/uploads/abcdef/trace.png)",
			State:       "opened",
			Labels:      []string{"bug"},
			Author:      sourceclient.User{Username: "alice"},
			CreatedAt:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Notes: []sourceclient.Note{
				{Body: "fixed in !3", Author: sourceclient.User{Username: "alice"}},
				{Body: "status changed", System: true},
			},
		},
		AttachmentPaths: []string{"/uploads/abcdef/trace.png"},
	}}
	attachments := map[string]string{"/uploads/abcdef/trace.png": "issues/attachments/abcdef_trace.png"}

	out := TransformIssues(issues, attachments, rewriter)
	require.Len(t, out, 1)
	require.Equal(t, 7, out[0].SourceIID)
	require.Equal(t, "open", out[0].State)
	require.Contains(t, out[0].Body, "Originally created by alice on 2024-01-02")
	require.Contains(t, out[0].Body, "@adamsa")
	require.Len(t, out[0].Comments, 1, "system notes are dropped")
	require.Contains(t, out[0].Comments[0].Body, "#3")
	require.Equal(t, []string{"issues/attachments/abcdef_trace.png"}, out[0].Attachments)
}

func TestTransformLabels(t *testing.T) {
	labels := []sourceclient.Label{
		{Name: "bug", Color: "#FF0000", Description: "broken"},
		{Name: "chore", Color: ""},
	}
	out := TransformLabels(labels)
	require.Equal(t, "FF0000", out[0].Color, "leading # is stripped")
	require.Equal(t, "cccccc", out[1].Color, "empty color gets a default")
}

func TestTransformMilestones(t *testing.T) {
	milestones := []sourceclient.Milestone{
		{Title: "v1.0", State: "active", DueDate: "2024-06-30"},
		{Title: "v0.9", State: "closed"},
	}
	out := TransformMilestones(milestones)
	require.Equal(t, "open", out[0].State)
	require.Equal(t, "2024-06-30T23:59:59Z", out[0].DueOn)
	require.Equal(t, "closed", out[1].State)
	require.Empty(t, out[1].DueOn)
}

func TestTransformWebhooksEventMapping(t *testing.T) {
	hooks := []sourceclient.Webhook{{
		URL:                 "https://hooks.example.com/ci",
		PushEvents:          true,
		TagPushEvents:       true,
		MergeRequestsEvents: true,
		NoteEvents:          true,
		PipelineEvents:      true,
		WikiPageEvents:      true,
	}}

	out, gaps := TransformWebhooks(hooks)
	require.Len(t, out, 1)
	events := out[0].Events
	require.Contains(t, events, "push")
	require.Contains(t, events, "create")
	require.Contains(t, events, "pull_request")
	require.Contains(t, events, "issue_comment")
	require.Contains(t, events, "pull_request_review_comment")
	require.Contains(t, events, "workflow_run")
	require.Contains(t, events, "check_suite")
	require.Contains(t, out[0].UnmappedEvents, "wiki_page_events")
	require.NotEmpty(t, gaps)
	require.Empty(t, out[0].Secret)
}

func TestTransformWebhooksDefaultsToPush(t *testing.T) {
	hooks := []sourceclient.Webhook{{URL: "https://hooks.example.com/x"}}
	out, gaps := TransformWebhooks(hooks)
	require.Equal(t, []string{"push"}, out[0].Events)

	found := false
	for _, gap := range gaps {
		if gap.Feature == "no_mapped_events" {
			found = true
		}
	}
	require.True(t, found, "empty event set is surfaced as a warning gap")
}

func TestTransformProtections(t *testing.T) {
	branches := []sourceclient.ProtectedBranch{{
		Name:           "main",
		AllowForcePush: false,
		PushAccessLevels: []sourceclient.AccessLevel{
			{AccessLevel: 0},
			{AccessLevel: 40, UserID: 12},
		},
	}}
	tags := []sourceclient.ProtectedTag{{Name: "v*"}}
	rules := []sourceclient.ApprovalRule{{
		Name:              "reviewers",
		ApprovalsRequired: 2,
		EligibleApprovers: []sourceclient.User{{Username: "alice"}},
	}}
	users := UserMappingResult{Mappings: []UserMapping{
		{SourceUsername: "alice", DestinationLogin: "adamsa"},
	}}

	protections, tagRules, codeowners, gaps := TransformProtections(
		branches, tags, rules, []string{"build", "test"}, &users, "acme")

	require.Len(t, protections, 1)
	p := protections[0]
	require.Equal(t, "main", p.Branch)
	require.Equal(t, 2, p.RequiredPullRequestReviews.RequiredApprovingReviewCount)
	require.True(t, p.RequiredStatusChecks.Strict)
	require.Equal(t, []string{"build", "test"}, p.RequiredStatusChecks.Contexts)
	require.False(t, p.AllowDeletions)
	require.True(t, p.EnforceAdmins)

	require.Equal(t, []TagProtection{{Pattern: "v*"}}, tagRules)
	require.Contains(t, codeowners, "@adamsa")

	var features []string
	for _, gap := range gaps {
		features = append(features, gap.Feature)
	}
	require.Contains(t, features, "per_user_push_restriction")
	require.Contains(t, features, "tag_protection")
}

func TestConvertCI(t *testing.T) {
	ciYAML := []byte(`
stages:
  - build
  - test

variables:
  IMAGE: $CI_REGISTRY_IMAGE/app:latest

.template:
  script:
    - echo template

build-job:
  stage: build
  image: golang:1.25
  script:
    - go build ./...

test-job:
  stage: test
  script:
    - go test ./...
  tags:
    - docker
`)
	registry := NewRegistryRewrite("registry.gitlab.com", "group/proj", "ghcr.io", "acme/proj")
	conv, err := ConvertCI(ciYAML, "proj CI", registry)
	require.NoError(t, err)

	require.Equal(t, []string{"build-job", "test-job"}, conv.JobNames)

	workflow := conv.Workflows["ci.yml"]
	require.Contains(t, workflow, "name: proj CI")
	require.Contains(t, workflow, "build-job:")
	require.Contains(t, workflow, "go build ./...")
	require.Contains(t, workflow, "container: golang:1.25")
	require.Contains(t, workflow, "needs:")
	require.Contains(t, workflow, "ghcr.io/acme/proj", "registry variable is rewritten")
	require.NotContains(t, workflow, "$CI_REGISTRY_IMAGE")

	var features []string
	for _, gap := range conv.Gaps {
		features = append(features, gap.Feature)
	}
	require.Contains(t, features, "anchor_templates")
	require.Contains(t, features, "runner_tags")
}

func TestConvertCIIncludeGap(t *testing.T) {
	ciYAML := []byte(`
include:
  - local: /templates/common.yml

job:
  script:
    - make
`)
	conv, err := ConvertCI(ciYAML, "x", nil)
	require.NoError(t, err)

	var critical []Gap
	for _, gap := range conv.Gaps {
		if gap.Severity == SeverityCritical {
			critical = append(critical, gap)
		}
	}
	require.NotEmpty(t, critical)
	require.Contains(t, critical[0].Detail, "local:/templates/common.yml")
}

func TestRegistryRewriteLiteral(t *testing.T) {
	r := NewRegistryRewrite("registry.gitlab.com", "group/proj", "ghcr.io", "acme/proj")
	out := r.Rewrite("docker pull registry.gitlab.com/group/proj/app:v1.2")
	require.Equal(t, "docker pull ghcr.io/acme/proj:v1.2", out)
}

func TestAnalyzeGapsOrdering(t *testing.T) {
	gaps := AnalyzeGaps([]Gap{
		{Component: "webhooks", Feature: "a", Severity: SeverityInfo},
		{Component: "ci_cd", Feature: "b", Severity: SeverityCritical},
		{Component: "protections", Feature: "c", Severity: SeverityWarning},
	}, true)

	require.Equal(t, SeverityCritical, gaps[0].Severity)
	require.Equal(t, SeverityWarning, gaps[1].Severity)
	// Source-only features are appended for projects with issues.
	var features []string
	for _, gap := range gaps {
		features = append(features, gap.Feature)
	}
	require.Contains(t, features, "epics")
	require.Contains(t, features, "time_tracking")
}

func TestRenderGapReport(t *testing.T) {
	report := RenderGapReport([]Gap{
		{Component: "ci_cd", Feature: "include", Severity: SeverityCritical,
			Detail: "cannot resolve", Workaround: "inline it"},
	}, "group/proj")

	require.True(t, strings.HasPrefix(report, "# Conversion Gap Report"))
	require.Contains(t, report, "1 critical")
	require.Contains(t, report, "include")
	require.Contains(t, report, "## Workarounds")
	require.Contains(t, report, "inline it")
}

func TestRenderGapReportEmpty(t *testing.T) {
	report := RenderGapReport(nil, "group/proj")
	require.Contains(t, report, "No conversion gaps detected")
}

func TestUserCacheFirstWriterWins(t *testing.T) {
	cache := NewUserCache()
	_, ok := cache.Get("acme")
	require.False(t, ok)

	cache.Put("acme", []destclient.OrgMember{{Login: "first"}})
	cache.Put("acme", []destclient.OrgMember{{Login: "second"}})

	members, ok := cache.Get("acme")
	require.True(t, ok)
	require.Equal(t, "first", members[0].Login)
}
