package transform

import (
	"fmt"

	"github.com/forgemove/ghmigrate/pkg/sliceutil"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// webhookEventMap is the table-driven translation from source webhook event
// flags to destination event names. One source flag may fan out to several
// destination events.
var webhookEventMap = []struct {
	name    string
	enabled func(h sourceclient.Webhook) bool
	dest    []string
}{
	{"push_events", func(h sourceclient.Webhook) bool { return h.PushEvents }, []string{"push"}},
	{"tag_push_events", func(h sourceclient.Webhook) bool { return h.TagPushEvents }, []string{"create"}},
	{"issues_events", func(h sourceclient.Webhook) bool { return h.IssuesEvents }, []string{"issues"}},
	{"merge_requests_events", func(h sourceclient.Webhook) bool { return h.MergeRequestsEvents }, []string{"pull_request"}},
	{"note_events", func(h sourceclient.Webhook) bool { return h.NoteEvents }, []string{"issue_comment", "pull_request_review_comment"}},
	{"pipeline_events", func(h sourceclient.Webhook) bool { return h.PipelineEvents }, []string{"workflow_run", "check_suite"}},
	{"releases_events", func(h sourceclient.Webhook) bool { return h.ReleasesEvents }, []string{"release"}},
	{"deployment_events", func(h sourceclient.Webhook) bool { return h.DeploymentEvents }, []string{"deployment", "deployment_status"}},
	// Wiki page events have no destination equivalent.
	{"wiki_page_events", func(h sourceclient.Webhook) bool { return h.WikiPageEvents }, nil},
}

// TransformWebhooks translates source webhooks into destination shape.
// Events with no mapping are recorded per-hook and surfaced as gaps. A hook
// that would end up with no events at all defaults to [push] with a warning.
func TransformWebhooks(webhooks []sourceclient.Webhook) ([]TransformedWebhook, []Gap) {
	var gaps []Gap
	out := make([]TransformedWebhook, 0, len(webhooks))

	for _, hook := range webhooks {
		transformed := TransformedWebhook{
			URL:         hook.URL,
			Active:      true,
			InsecureSSL: !hook.EnableSSLVerification,
			Secret:      "", // the source never returns webhook tokens
		}

		for _, entry := range webhookEventMap {
			if !entry.enabled(hook) {
				continue
			}
			if entry.dest == nil {
				transformed.UnmappedEvents = append(transformed.UnmappedEvents, entry.name)
				gaps = append(gaps, Gap{
					Component: "webhooks",
					Feature:   entry.name,
					Severity:  SeverityWarning,
					Detail:    fmt.Sprintf("webhook %s subscribes to %s, which has no destination event", hook.URL, entry.name),
				})
				continue
			}
			for _, event := range entry.dest {
				if !sliceutil.Contains(transformed.Events, event) {
					transformed.Events = append(transformed.Events, event)
				}
			}
		}

		if len(transformed.Events) == 0 {
			transformed.Events = []string{"push"}
			gaps = append(gaps, Gap{
				Component: "webhooks",
				Feature:   "no_mapped_events",
				Severity:  SeverityWarning,
				Detail:    fmt.Sprintf("webhook %s had no mappable events; defaulted to [push]", hook.URL),
			})
		}

		if hook.Token != "" {
			gaps = append(gaps, Gap{
				Component: "webhooks",
				Feature:   "webhook_secret",
				Severity:  SeverityInfo,
				Detail:    fmt.Sprintf("webhook %s has a secret the source does not return; supply one at apply time or a random secret is generated", hook.URL),
			})
		}

		out = append(out, transformed)
	}
	return out, gaps
}
