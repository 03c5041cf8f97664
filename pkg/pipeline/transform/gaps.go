package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// severityRank orders gaps most severe first in reports.
var severityRank = map[GapSeverity]int{
	SeverityCritical: 0,
	SeverityWarning:  1,
	SeverityInfo:     2,
}

// sourceOnlyFeatures are source-forge features with no destination analog,
// reported whenever the component held data. These come from the export
// inventory rather than any converter.
var sourceOnlyFeatures = []Gap{
	{
		Component: "issues",
		Feature:   "epics",
		Severity:  SeverityInfo,
		Detail:    "source epics are a group-level construct; flat issues carry no epic links after migration",
	},
	{
		Component: "issues",
		Feature:   "time_tracking",
		Severity:  SeverityInfo,
		Detail:    "time estimates and spent time are not representable on destination issues",
	},
}

// AnalyzeGaps unions every converter's gaps with the source-only feature
// list, sorted by severity then component.
func AnalyzeGaps(collected []Gap, hasIssues bool) []Gap {
	gaps := append([]Gap{}, collected...)
	if hasIssues {
		gaps = append(gaps, sourceOnlyFeatures...)
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if severityRank[gaps[i].Severity] != severityRank[gaps[j].Severity] {
			return severityRank[gaps[i].Severity] < severityRank[gaps[j].Severity]
		}
		return gaps[i].Component < gaps[j].Component
	})
	return gaps
}

// RenderGapReport produces the human-readable markdown report.
func RenderGapReport(gaps []Gap, projectPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversion Gap Report — %s\n\n", projectPath)

	if len(gaps) == 0 {
		b.WriteString("No conversion gaps detected. Every exported construct has a destination equivalent.\n")
		return b.String()
	}

	counts := map[GapSeverity]int{}
	for _, gap := range gaps {
		counts[gap.Severity]++
	}
	fmt.Fprintf(&b, "%d gaps: %d critical, %d warning, %d info.\n\n",
		len(gaps), counts[SeverityCritical], counts[SeverityWarning], counts[SeverityInfo])

	rows := make([][]string, 0, len(gaps))
	for _, gap := range gaps {
		rows = append(rows, []string{string(gap.Severity), gap.Component, gap.Feature, gap.Detail})
	}
	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers("SEVERITY", "COMPONENT", "FEATURE", "DETAIL").
		Rows(rows...)
	b.WriteString(t.Render())
	b.WriteString("\n")

	var workarounds []Gap
	for _, gap := range gaps {
		if gap.Workaround != "" {
			workarounds = append(workarounds, gap)
		}
	}
	if len(workarounds) > 0 {
		b.WriteString("\n## Workarounds\n\n")
		for _, gap := range workarounds {
			fmt.Fprintf(&b, "- **%s/%s**: %s\n", gap.Component, gap.Feature, gap.Workaround)
		}
	}
	return b.String()
}
