// Package verify reads the destination back after apply and compares it to
// the expected state derived from export and transform outputs. Numeric
// comparisons tolerate a configurable relative slack; misses within
// tolerance are warnings, beyond it errors.
package verify

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/repoutil"
)

var log = logger.New("verify:verify")

// Expected is the destination state the migration should have produced.
type Expected struct {
	GithubTarget  string   `json:"github_target"`
	Branches      int      `json:"branches"`
	Tags          int      `json:"tags"`
	Issues        int      `json:"issues"`
	PullRequests  int      `json:"pull_requests"`
	Releases      int      `json:"releases"`
	Labels        int      `json:"labels"`
	Milestones    int      `json:"milestones"`
	Webhooks      int      `json:"webhooks"`
	Packages      int      `json:"packages"`
	Workflows     []string `json:"workflows"`
	Environments  []string `json:"environments"`
	Secrets       []string `json:"secrets"`
	Protections   []string `json:"protections"`
	Collaborators []string `json:"collaborators"`
	HasWiki       bool     `json:"has_wiki"`
	Preservation  []string `json:"preservation"`
}

// Check is one comparison the verifier ran.
type Check struct {
	Name     string `json:"name"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// ComponentResult accumulates the outcome for one component.
type ComponentResult struct {
	Component string         `json:"component"`
	Status    string         `json:"status"` // success | partial | failed | skipped
	Checks    []Check        `json:"checks"`
	Warnings  []string       `json:"warnings,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

// Result is the verify stage output.
type Result struct {
	GithubTarget string            `json:"github_target"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Status       string            `json:"status"` // SUCCESS | PARTIAL | FAILED | PENDING
	Components   []ComponentResult `json:"components"`
}

// Components verified, in order.
var Components = []string{
	"repository", "ci_cd", "issues", "pull_requests", "wiki",
	"releases", "packages", "settings", "preservation",
}

// Stage verifies one project's migration.
type Stage struct {
	Dest *destclient.Client
	// Dir is the verify output root, usually <artifact-root>/verify.
	Dir string
	// Tolerance is the per-component relative slack; unlisted components
	// use the default.
	Tolerance map[string]float64
	// DefaultTolerance applies when a component has no override.
	DefaultTolerance float64
}

// New creates a verify stage writing under artifactRoot.
func New(dest *destclient.Client, artifactRoot string, defaultTolerance float64) *Stage {
	if defaultTolerance <= 0 {
		defaultTolerance = constants.DefaultVerifyTolerance
	}
	return &Stage{
		Dest:             dest,
		Dir:              filepath.Join(artifactRoot, constants.VerifyDir),
		Tolerance:        map[string]float64{},
		DefaultTolerance: defaultTolerance,
	}
}

func (s *Stage) tolerance(component string) float64 {
	if t, ok := s.Tolerance[component]; ok {
		return t
	}
	return s.DefaultTolerance
}

// Run verifies every component and writes the verify artifacts.
func (s *Stage) Run(ctx context.Context, expected Expected) (*Result, error) {
	owner, repo, err := repoutil.SplitRepoSlug(expected.GithubTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid github target %q: %w", expected.GithubTarget, err)
	}

	result := &Result{
		GithubTarget: expected.GithubTarget,
		StartedAt:    time.Now().UTC(),
	}

	verifiers := map[string]func(context.Context, string, string, Expected) ComponentResult{
		"repository":    s.verifyRepository,
		"ci_cd":         s.verifyCICD,
		"issues":        s.verifyIssues,
		"pull_requests": s.verifyPulls,
		"wiki":          s.verifyWiki,
		"releases":      s.verifyReleases,
		"packages":      s.verifyPackages,
		"settings":      s.verifySettings,
		"preservation":  s.verifyPreservation,
	}

	for _, component := range Components {
		if ctx.Err() != nil {
			break
		}
		cr := verifiers[component](ctx, owner, repo, expected)
		cr.Component = component
		result.Components = append(result.Components, cr)
	}

	result.FinishedAt = time.Now().UTC()
	result.Status = overallStatus(result.Components)

	if err := s.writeArtifacts(result); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// compareCount applies the tolerance discipline to one numeric comparison.
func (s *Stage) compareCount(cr *ComponentResult, component, name string, expected, actual int) {
	check := Check{Name: name, Expected: expected, Actual: actual}
	switch {
	case expected == actual:
		check.Passed = true
	case expected == 0:
		check.Passed = false
		check.Detail = fmt.Sprintf("expected none, found %d", actual)
		cr.Errors = append(cr.Errors, fmt.Sprintf("%s: %s", name, check.Detail))
	default:
		miss := math.Abs(float64(expected-actual)) / float64(expected)
		if miss <= s.tolerance(component) {
			check.Passed = true
			check.Detail = fmt.Sprintf("within %.0f%% tolerance", s.tolerance(component)*100)
			cr.Warnings = append(cr.Warnings,
				fmt.Sprintf("%s: expected %d, found %d (within tolerance)", name, expected, actual))
		} else {
			check.Passed = false
			check.Detail = fmt.Sprintf("off by %.0f%%", miss*100)
			cr.Errors = append(cr.Errors,
				fmt.Sprintf("%s: expected %d, found %d", name, expected, actual))
		}
	}
	cr.Checks = append(cr.Checks, check)
}

// compareSet checks that every expected name is present.
func compareSet(cr *ComponentResult, name string, expected, actual []string) {
	actualSet := make(map[string]bool, len(actual))
	for _, a := range actual {
		actualSet[a] = true
	}
	var missing []string
	for _, e := range expected {
		if !actualSet[e] {
			missing = append(missing, e)
		}
	}
	check := Check{Name: name, Expected: len(expected), Actual: len(expected) - len(missing), Passed: len(missing) == 0}
	if len(missing) > 0 {
		check.Detail = "missing: " + strings.Join(missing, ", ")
		cr.Errors = append(cr.Errors, fmt.Sprintf("%s missing: %s", name, strings.Join(missing, ", ")))
	}
	cr.Checks = append(cr.Checks, check)
}

func componentStatus(cr *ComponentResult) string {
	switch {
	case len(cr.Errors) > 0:
		return "failed"
	case len(cr.Warnings) > 0:
		return "partial"
	default:
		return "success"
	}
}

// overallStatus: SUCCESS if every component succeeded, PARTIAL with
// warnings only, FAILED with any error, PENDING when nothing ran.
func overallStatus(components []ComponentResult) string {
	if len(components) == 0 {
		return "PENDING"
	}
	hasErrors, hasWarnings := false, false
	for _, c := range components {
		switch c.Status {
		case "failed":
			hasErrors = true
		case "partial":
			hasWarnings = true
		}
	}
	switch {
	case hasErrors:
		return "FAILED"
	case hasWarnings:
		return "PARTIAL"
	default:
		return "SUCCESS"
	}
}
