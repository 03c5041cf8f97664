// Package plan builds the migration plan: a dependency DAG of typed actions
// organized into phases, with deterministic idempotency keys, validated and
// emitted in stable topological order.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/logger"
)

var log = logger.New("plan:stage")

// Stage wraps the builder with artifact emission.
type Stage struct {
	// Dir is the plan output root, usually <artifact-root>/plan.
	Dir string
}

// New creates a plan stage writing under artifactRoot.
func New(artifactRoot string) *Stage {
	return &Stage{Dir: filepath.Join(artifactRoot, constants.PlanDir)}
}

// Run builds the plan and writes every plan artifact.
func (s *Stage) Run(runID, projectID, gitlabProject, githubTarget string, in Inputs) (*Plan, error) {
	builder := NewBuilder(runID, projectID, gitlabProject, githubTarget)
	p, err := builder.Build(in)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating plan directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	if err := ValidatePlanJSON(data); err != nil {
		return nil, fmt.Errorf("generated plan fails schema validation: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, constants.PlanPath), data, 0o644); err != nil {
		return nil, err
	}

	if err := s.writeJSON(constants.DependencyGraphPath, dependencyGraph(p)); err != nil {
		return nil, err
	}
	if err := s.writeJSON(constants.PlanStatsPath, p.Summary); err != nil {
		return nil, err
	}
	if err := s.writeJSON(constants.UserInputsPath, p.UserInputsRequired); err != nil {
		return nil, err
	}
	if schemaDoc, err := GeneratedSchemaJSON(); err == nil {
		if err := os.WriteFile(filepath.Join(s.Dir, "plan_schema.json"), schemaDoc, 0o644); err != nil {
			return nil, err
		}
	}

	log.Printf("Plan emitted: %d actions across %d phases, %d user inputs",
		p.Summary.Total, len(p.Phases), len(p.UserInputsRequired))
	return p, nil
}

func (s *Stage) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}

// dependencyGraph is the adjacency-list artifact for external tools.
func dependencyGraph(p *Plan) map[string]any {
	edges := map[string][]int{}
	for _, a := range p.Actions {
		if len(a.Dependencies) > 0 {
			edges[fmt.Sprint(a.ID)] = a.Dependencies
		}
	}
	return map[string]any{
		"version": p.Version,
		"nodes":   len(p.Actions),
		"edges":   edges,
	}
}

// LoadPlan reads and schema-validates a previously emitted plan, used by
// the apply stage's resume path.
func LoadPlan(dir string) (*Plan, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.PlanPath))
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if err := ValidatePlanJSON(data); err != nil {
		return nil, fmt.Errorf("plan fails schema validation: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if p.Version != constants.PlanVersion {
		return nil, fmt.Errorf("plan version %q does not match supported version %q", p.Version, constants.PlanVersion)
	}
	return &p, nil
}

