package console

import (
	"strings"
	"testing"
)

func TestFormatValidationSummary_NoFindings(t *testing.T) {
	results := &ValidationResults{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	output := FormatValidationSummary(results, false)
	if output != "" {
		t.Errorf("Expected empty output for no findings, got: %s", output)
	}
}

func TestFormatValidationSummary_SingleFinding(t *testing.T) {
	results := &ValidationResults{
		Errors: []ValidationError{
			{
				Category: "ci_cd",
				Severity: "high",
				Message:  "source-only includes cannot be resolved",
				File:     ".gitlab-ci.yml",
				Line:     5,
			},
		},
	}

	output := FormatValidationSummary(results, false)

	// Check for key components
	if !strings.Contains(output, "Conversion produced 1 blocking finding(s)") {
		t.Errorf("Expected finding count in output, got: %s", output)
	}

	if !strings.Contains(output, "Finding Summary:") {
		t.Errorf("Expected finding summary section, got: %s", output)
	}

	if !strings.Contains(output, "High: 1 finding(s)") {
		t.Errorf("Expected severity count, got: %s", output)
	}

	if !strings.Contains(output, "By Component:") {
		t.Errorf("Expected component section, got: %s", output)
	}

	if !strings.Contains(output, "Ci_cd: 1 finding(s)") {
		t.Errorf("Expected ci_cd component, got: %s", output)
	}

	if !strings.Contains(output, "Recommended Fix Order:") {
		t.Errorf("Expected recommended fix order, got: %s", output)
	}

	if !strings.Contains(output, "Use --verbose") {
		t.Errorf("Expected verbose flag hint, got: %s", output)
	}
}

func TestFormatValidationSummary_MultipleFindings(t *testing.T) {
	results := &ValidationResults{
		Errors: []ValidationError{
			{
				Category: "ci_cd",
				Severity: "high",
				Message:  "job uses rules: with no direct equivalent",
				File:     ".gitlab-ci.yml",
				Line:     5,
			},
			{
				Category: "protections",
				Severity: "critical",
				Message:  "per-user push restriction cannot be expressed",
			},
			{
				Category: "ci_cd",
				Severity: "medium",
				Message:  "runner tags mapped to ubuntu-latest",
				File:     ".gitlab-ci.yml",
				Line:     12,
			},
		},
	}

	output := FormatValidationSummary(results, false)

	// Check for finding count
	if !strings.Contains(output, "Conversion produced 3 blocking finding(s)") {
		t.Errorf("Expected 3 findings in output, got: %s", output)
	}

	// Check severity counts
	if !strings.Contains(output, "Critical: 1 finding(s)") {
		t.Errorf("Expected critical severity count, got: %s", output)
	}

	if !strings.Contains(output, "High: 1 finding(s)") {
		t.Errorf("Expected high severity count, got: %s", output)
	}

	if !strings.Contains(output, "Medium: 1 finding(s)") {
		t.Errorf("Expected medium severity count, got: %s", output)
	}

	// Check component grouping
	if !strings.Contains(output, "Ci_cd: 2 finding(s)") {
		t.Errorf("Expected 2 ci_cd findings grouped, got: %s", output)
	}

	if !strings.Contains(output, "Protections: 1 finding(s)") {
		t.Errorf("Expected 1 protections finding grouped, got: %s", output)
	}
}

func TestFormatValidationSummary_VerboseMode(t *testing.T) {
	results := &ValidationResults{
		Errors: []ValidationError{
			{
				Category: "ci_cd",
				Severity: "high",
				Message:  "include:remote cannot be resolved",
				File:     ".gitlab-ci.yml",
				Line:     5,
				Hint:     "Inline the included configuration",
			},
			{
				Category: "webhooks",
				Severity: "critical",
				Message:  "webhook has no mappable events",
			},
		},
	}

	output := FormatValidationSummary(results, true)

	// Verbose mode should include detailed findings
	if !strings.Contains(output, "Detailed Findings:") {
		t.Errorf("Expected detailed findings section in verbose mode, got: %s", output)
	}

	// Should contain the finding message
	if !strings.Contains(output, "include:remote cannot be resolved") {
		t.Errorf("Expected detailed finding message in verbose mode, got: %s", output)
	}

	// Should contain file location
	if !strings.Contains(output, "Location: .gitlab-ci.yml:5") {
		t.Errorf("Expected file location in verbose mode, got: %s", output)
	}

	// Should contain hint
	if !strings.Contains(output, "Hint: Inline the included configuration") {
		t.Errorf("Expected hint in verbose mode, got: %s", output)
	}

	// Should NOT show "Use --verbose" message in verbose mode
	if strings.Contains(output, "Use --verbose") {
		t.Errorf("Should not show verbose hint when already in verbose mode, got: %s", output)
	}

	// Should NOT show recommended fix order in verbose mode
	if strings.Contains(output, "Recommended Fix Order:") {
		t.Errorf("Should not show fix order in verbose mode, got: %s", output)
	}
}

func TestGroupErrorsByCategory(t *testing.T) {
	errors := []ValidationError{
		{Category: "ci_cd", Message: "Finding 1"},
		{Category: "webhooks", Message: "Finding 2"},
		{Category: "ci_cd", Message: "Finding 3"},
		{Category: "", Message: "Finding 4"}, // Empty component
	}

	groups := groupErrorsByCategory(errors)

	// Check ci_cd group has 2 findings
	if len(groups["ci_cd"]) != 2 {
		t.Errorf("Expected 2 ci_cd findings, got %d", len(groups["ci_cd"]))
	}

	// Check webhooks group has 1 finding
	if len(groups["webhooks"]) != 1 {
		t.Errorf("Expected 1 webhooks finding, got %d", len(groups["webhooks"]))
	}

	// Check empty component is assigned to "validation"
	if len(groups["validation"]) != 1 {
		t.Errorf("Expected 1 validation finding (empty component), got %d", len(groups["validation"]))
	}
}

func TestFormatValidationSummary_AllSeverityLevels(t *testing.T) {
	results := &ValidationResults{
		Errors: []ValidationError{
			{Category: "protections", Severity: "critical", Message: "Critical protection gap"},
			{Category: "ci_cd", Severity: "high", Message: "High priority pipeline gap"},
			{Category: "webhooks", Severity: "medium", Message: "Medium webhook gap"},
			{Category: "issues", Severity: "low", Message: "Low priority issue note"},
		},
	}

	output := FormatValidationSummary(results, false)

	// All severity levels should be present
	if !strings.Contains(output, "Critical: 1 finding(s)") {
		t.Errorf("Expected critical severity in output")
	}
	if !strings.Contains(output, "High: 1 finding(s)") {
		t.Errorf("Expected high severity in output")
	}
	if !strings.Contains(output, "Medium: 1 finding(s)") {
		t.Errorf("Expected medium severity in output")
	}
	if !strings.Contains(output, "Low: 1 finding(s)") {
		t.Errorf("Expected low severity in output")
	}
}

func TestFormatValidationSummary_ComponentEmojis(t *testing.T) {
	results := &ValidationResults{
		Errors: []ValidationError{
			{Category: "ci_cd", Severity: "high", Message: "Pipeline finding"},
			{Category: "protections", Severity: "high", Message: "Protection finding"},
			{Category: "webhooks", Severity: "high", Message: "Webhook finding"},
			{Category: "issues", Severity: "high", Message: "Issue finding"},
			{Category: "settings", Severity: "high", Message: "Settings finding"},
			{Category: "repository", Severity: "high", Message: "Repository finding"},
		},
	}

	output := FormatValidationSummary(results, true)

	// In verbose mode, emojis should appear in detailed findings
	// Just verify the output is generated without error
	if output == "" {
		t.Errorf("Expected non-empty output with emojis")
	}
}
