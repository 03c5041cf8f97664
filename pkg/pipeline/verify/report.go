package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/forgemove/ghmigrate/pkg/constants"
)

// writeArtifacts emits verify_report.json, verify_summary.md,
// component_status.json, and discrepancies.json.
func (s *Stage) writeArtifacts(result *Result) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating verify directory: %w", err)
	}

	if err := s.writeJSON(constants.VerifyReportPath, result); err != nil {
		return err
	}

	statuses := map[string]string{}
	for _, c := range result.Components {
		statuses[c.Component] = c.Status
	}
	if err := s.writeJSON(constants.ComponentStatusPath, statuses); err != nil {
		return err
	}

	type discrepancy struct {
		Component string `json:"component"`
		Severity  string `json:"severity"` // warning | error
		Message   string `json:"message"`
	}
	var discrepancies []discrepancy
	for _, c := range result.Components {
		for _, w := range c.Warnings {
			discrepancies = append(discrepancies, discrepancy{c.Component, "warning", w})
		}
		for _, e := range c.Errors {
			discrepancies = append(discrepancies, discrepancy{c.Component, "error", e})
		}
	}
	if err := s.writeJSON(constants.DiscrepanciesPath, discrepancies); err != nil {
		return err
	}

	summary := renderSummary(result)
	return os.WriteFile(filepath.Join(s.Dir, constants.VerifySummaryPath), []byte(summary), 0o644)
}

func (s *Stage) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}

// renderSummary produces the human-readable markdown summary.
func renderSummary(result *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification Summary — %s\n\n", result.GithubTarget)
	fmt.Fprintf(&b, "**Status: %s** — verified %s in %s\n\n",
		result.Status,
		humanize.Time(result.FinishedAt),
		result.FinishedAt.Sub(result.StartedAt).Round(100*time.Millisecond))

	for _, c := range result.Components {
		icon := map[string]string{
			"success": "✓", "partial": "~", "failed": "✗", "skipped": "-",
		}[c.Status]
		passed := 0
		for _, check := range c.Checks {
			if check.Passed {
				passed++
			}
		}
		fmt.Fprintf(&b, "- %s **%s**: %s (%d/%d checks passed)\n",
			icon, c.Component, c.Status, passed, len(c.Checks))
		for _, e := range c.Errors {
			fmt.Fprintf(&b, "  - error: %s\n", e)
		}
		for _, w := range c.Warnings {
			fmt.Fprintf(&b, "  - warning: %s\n", w)
		}
	}
	return b.String()
}
