// Package discovery inventories source projects: which components hold data,
// how much, and how hard the migration will be. Its output feeds every later
// stage through the shared context.
package discovery

import (
	"context"
	"fmt"

	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

var log = logger.New("discovery:discovery")

// Component names, in the order they are probed. Every inventory entry
// carries exactly this set of keys.
var Components = []string{
	"repository", "ci_cd", "issues", "merge_requests", "wiki", "releases",
	"packages", "webhooks", "schedules", "lfs", "environments",
	"protected_resources", "deploy_keys", "variables",
}

// ComponentInfo describes one component of a project inventory.
type ComponentInfo struct {
	Enabled bool           `json:"enabled"`
	Counts  map[string]int `json:"counts,omitempty"`
	HasData bool           `json:"has_data"`
	Error   string         `json:"error,omitempty"`
}

// Complexity grades how involved a project's migration will be.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Readiness is the per-project migration assessment.
type Readiness struct {
	Complexity     Complexity `json:"complexity"`
	Blockers       []string   `json:"blockers"`
	Notes          []string   `json:"notes"`
	Recommendation string     `json:"recommendation"`
}

// Entry is one project's inventory.
type Entry struct {
	ProjectID   int                      `json:"project_id"`
	ProjectPath string                   `json:"project_path"`
	Components  map[string]ComponentInfo `json:"components"`
	Readiness   Readiness                `json:"readiness"`
}

// Result is the discovery stage output.
type Result struct {
	Projects  []sourceclient.Project `json:"projects"`
	Inventory []Entry                `json:"inventory"`
}

// Stage inventories projects through the source client.
type Stage struct {
	Source *sourceclient.Client
}

// New creates a discovery stage.
func New(source *sourceclient.Client) *Stage {
	return &Stage{Source: source}
}

// Run discovers either the configured group's projects or the single
// configured project, then inventories each.
func (s *Stage) Run(ctx context.Context, groupPath, projectPath string, projectID int) (*Result, error) {
	projects, err := s.discoverProjects(ctx, groupPath, projectPath, projectID)
	if err != nil {
		return nil, err
	}
	log.Printf("Discovered %d projects", len(projects))

	result := &Result{Projects: projects}
	for _, p := range projects {
		entry := s.inventoryProject(ctx, p)
		result.Inventory = append(result.Inventory, entry)
	}
	return result, nil
}

func (s *Stage) discoverProjects(ctx context.Context, groupPath, projectPath string, projectID int) ([]sourceclient.Project, error) {
	switch {
	case projectID != 0:
		p, err := s.Source.GetProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("fetching project %d: %w", projectID, err)
		}
		return []sourceclient.Project{p}, nil
	case projectPath != "":
		p, err := s.Source.GetProjectByPath(ctx, projectPath)
		if err != nil {
			return nil, fmt.Errorf("fetching project %s: %w", projectPath, err)
		}
		return []sourceclient.Project{p}, nil
	default:
		projects, err := sourceclient.Collect(s.Source.Projects(ctx, groupPath))
		if err != nil {
			return nil, fmt.Errorf("listing group projects: %w", err)
		}
		return projects, nil
	}
}

// inventoryProject probes every component. Per-component failures are
// recorded in the entry, never fatal: a project with one broken probe still
// gets an inventory.
func (s *Stage) inventoryProject(ctx context.Context, p sourceclient.Project) Entry {
	entry := Entry{
		ProjectID:   p.ID,
		ProjectPath: p.PathWithNamespace,
		Components:  make(map[string]ComponentInfo, len(Components)),
	}

	entry.Components["repository"] = ComponentInfo{
		Enabled: true,
		HasData: !p.EmptyRepo,
		Counts:  map[string]int{"stars": p.StarCount, "forks": p.ForksCount},
	}

	entry.Components["ci_cd"] = s.probe(func() (bool, map[string]int, error) {
		has, err := s.Source.HasCI(ctx, p.ID, p.DefaultBranch)
		return has, nil, err
	}, p.JobsEnabled)

	entry.Components["issues"] = s.countComponent(p.IssuesEnabled, map[string]int{"open": p.OpenIssuesCount}, p.OpenIssuesCount > 0)

	entry.Components["merge_requests"] = s.probe(func() (bool, map[string]int, error) {
		var found bool
		var iterErr error
		s.Source.MergeRequests(ctx, p.ID)(func(_ sourceclient.MergeRequest, err error) bool {
			if err != nil {
				iterErr = err
				return false
			}
			found = true
			return false
		})
		return found, nil, iterErr
	}, p.MREnabled)

	entry.Components["wiki"] = s.probe(func() (bool, map[string]int, error) {
		has, err := s.Source.HasWiki(ctx, p.ID)
		return has, nil, err
	}, p.WikiEnabled)

	entry.Components["releases"] = s.probe(func() (bool, map[string]int, error) {
		releases, err := sourceclient.Collect(s.Source.Releases(ctx, p.ID))
		return len(releases) > 0, map[string]int{"total": len(releases)}, err
	}, true)

	entry.Components["packages"] = s.probe(func() (bool, map[string]int, error) {
		has, err := s.Source.HasPackages(ctx, p.ID)
		return has, nil, err
	}, p.PackagesEnabled)

	entry.Components["webhooks"] = s.probe(func() (bool, map[string]int, error) {
		hooks, err := sourceclient.Collect(s.Source.Webhooks(ctx, p.ID))
		return len(hooks) > 0, map[string]int{"total": len(hooks)}, err
	}, true)

	entry.Components["schedules"] = s.probe(func() (bool, map[string]int, error) {
		schedules, err := sourceclient.Collect(s.Source.Schedules(ctx, p.ID))
		return len(schedules) > 0, map[string]int{"total": len(schedules)}, err
	}, true)

	entry.Components["lfs"] = s.probe(func() (bool, map[string]int, error) {
		has, err := s.Source.HasLFS(ctx, p.ID, p.DefaultBranch)
		return has, nil, err
	}, p.LFSEnabled)

	entry.Components["environments"] = s.probe(func() (bool, map[string]int, error) {
		envs, err := sourceclient.Collect(s.Source.Environments(ctx, p.ID))
		return len(envs) > 0, map[string]int{"total": len(envs)}, err
	}, true)

	entry.Components["protected_resources"] = s.probe(func() (bool, map[string]int, error) {
		branches, err := sourceclient.Collect(s.Source.ProtectedBranches(ctx, p.ID))
		if err != nil {
			return false, nil, err
		}
		tags, err := sourceclient.Collect(s.Source.ProtectedTags(ctx, p.ID))
		counts := map[string]int{"branches": len(branches), "tags": len(tags)}
		return len(branches)+len(tags) > 0, counts, err
	}, true)

	entry.Components["deploy_keys"] = s.probe(func() (bool, map[string]int, error) {
		keys, err := sourceclient.Collect(s.Source.DeployKeys(ctx, p.ID))
		return len(keys) > 0, map[string]int{"total": len(keys)}, err
	}, true)

	entry.Components["variables"] = s.probe(func() (bool, map[string]int, error) {
		vars, err := sourceclient.Collect(s.Source.Variables(ctx, p.ID))
		masked := 0
		for _, v := range vars {
			if v.Masked {
				masked++
			}
		}
		return len(vars) > 0, map[string]int{"total": len(vars), "masked": masked}, err
	}, true)

	entry.Readiness = AssessReadiness(entry.Components)
	return entry
}

func (s *Stage) probe(fn func() (bool, map[string]int, error), enabled bool) ComponentInfo {
	if !enabled {
		return ComponentInfo{Enabled: false}
	}
	hasData, counts, err := fn()
	info := ComponentInfo{Enabled: true, HasData: hasData, Counts: counts}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

func (s *Stage) countComponent(enabled bool, counts map[string]int, hasData bool) ComponentInfo {
	if !enabled {
		return ComponentInfo{Enabled: false}
	}
	return ComponentInfo{Enabled: true, Counts: counts, HasData: hasData}
}

// AssessReadiness grades a component map. Probe errors are blockers;
// data-heavy optional components raise complexity.
func AssessReadiness(components map[string]ComponentInfo) Readiness {
	r := Readiness{Complexity: ComplexityLow, Blockers: []string{}, Notes: []string{}}

	weight := 0
	for _, name := range Components {
		info, ok := components[name]
		if !ok {
			continue
		}
		if info.Error != "" {
			r.Blockers = append(r.Blockers, fmt.Sprintf("%s: %s", name, info.Error))
			continue
		}
		if !info.HasData {
			continue
		}
		switch name {
		case "packages":
			r.Notes = append(r.Notes, "package registry contents are exported as metadata only")
			weight += 2
		case "lfs":
			r.Notes = append(r.Notes, "LFS objects require a separate push after repository migration")
			weight += 2
		case "ci_cd", "protected_resources", "environments":
			weight += 2
		case "variables":
			if info.Counts["masked"] > 0 {
				r.Notes = append(r.Notes,
					fmt.Sprintf("%d masked variables need values supplied before apply", info.Counts["masked"]))
			}
			weight++
		default:
			weight++
		}
	}

	switch {
	case weight >= 10:
		r.Complexity = ComplexityHigh
	case weight >= 5:
		r.Complexity = ComplexityMedium
	}

	switch {
	case len(r.Blockers) > 0:
		r.Recommendation = "resolve blockers before migrating"
	case r.Complexity == ComplexityHigh:
		r.Recommendation = "migrate with a dry run first and review the gap report"
	default:
		r.Recommendation = "ready to migrate"
	}
	return r
}
