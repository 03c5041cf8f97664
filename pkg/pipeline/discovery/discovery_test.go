package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssessReadinessLowComplexity(t *testing.T) {
	components := map[string]ComponentInfo{
		"repository": {Enabled: true, HasData: true},
		"issues":     {Enabled: true, HasData: true},
	}
	r := AssessReadiness(components)
	require.Equal(t, ComplexityLow, r.Complexity)
	require.Empty(t, r.Blockers)
	require.Equal(t, "ready to migrate", r.Recommendation)
}

func TestAssessReadinessHighComplexity(t *testing.T) {
	components := map[string]ComponentInfo{
		"repository":          {Enabled: true, HasData: true},
		"ci_cd":               {Enabled: true, HasData: true},
		"issues":              {Enabled: true, HasData: true},
		"merge_requests":      {Enabled: true, HasData: true},
		"wiki":                {Enabled: true, HasData: true},
		"packages":            {Enabled: true, HasData: true},
		"lfs":                 {Enabled: true, HasData: true},
		"protected_resources": {Enabled: true, HasData: true},
	}
	r := AssessReadiness(components)
	require.Equal(t, ComplexityHigh, r.Complexity)
	require.Contains(t, r.Recommendation, "dry run")
	require.NotEmpty(t, r.Notes)
}

func TestAssessReadinessBlockers(t *testing.T) {
	components := map[string]ComponentInfo{
		"repository": {Enabled: true, HasData: true},
		"issues":     {Enabled: true, Error: "permission: access forbidden (403)"},
	}
	r := AssessReadiness(components)
	require.Len(t, r.Blockers, 1)
	require.Contains(t, r.Blockers[0], "issues")
	require.Equal(t, "resolve blockers before migrating", r.Recommendation)
}

func TestAssessReadinessMaskedVariablesNote(t *testing.T) {
	components := map[string]ComponentInfo{
		"variables": {Enabled: true, HasData: true, Counts: map[string]int{"total": 5, "masked": 2}},
	}
	r := AssessReadiness(components)
	found := false
	for _, note := range r.Notes {
		if note == "2 masked variables need values supplied before apply" {
			found = true
		}
	}
	require.True(t, found, "masked variables produce an operator note")
}

func TestComponentListIsComplete(t *testing.T) {
	require.Len(t, Components, 14)
}
