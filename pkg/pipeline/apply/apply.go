// Package apply executes a migration plan against the destination forge:
// dependency-ordered, idempotent, resumable, with dry-run simulation and
// compensating rollback.
package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/pipeline/action"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
	"github.com/forgemove/ghmigrate/pkg/repoutil"
)

var log = logger.New("apply:apply")

// Stage executes plans for one project.
type Stage struct {
	Dest     *destclient.Client
	Registry *action.Registry
	// ArtifactRoot locates export and transform artifacts actions read.
	ArtifactRoot string
	// Dir is the apply output root, usually <artifact-root>/apply.
	Dir string
}

// New creates an apply stage writing under artifactRoot.
func New(dest *destclient.Client, artifactRoot string) *Stage {
	return &Stage{
		Dest:         dest,
		Registry:     action.NewRegistry(),
		ArtifactRoot: artifactRoot,
		Dir:          filepath.Join(artifactRoot, constants.ApplyDir),
	}
}

// run tracks the mutable state of one apply execution. The mutex guards the
// shared maps during parallel-safe phase fan-out.
type run struct {
	mu       sync.Mutex
	executed map[string]*action.Result // idempotency key -> result
	byID     map[int]*action.Result
	results  []*action.Result
	warnings []string
}

func (r *run) record(a plan.Action, result *action.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.byID[a.ID] = result
	if result.Success {
		r.executed[a.IdempotencyKey] = result
	} else {
		// Release any in-flight claim so a later retry of the same key is
		// not short-circuited by a failed placeholder.
		delete(r.executed, a.IdempotencyKey)
	}
}

func (r *run) seen(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	return ok
}

// claim reserves an idempotency key so two concurrent executors in a
// parallel-safe phase cannot double-create. The second caller gets the
// prior (possibly in-flight) claim and skips.
func (r *run) claim(key string) (prior *action.Result, claimed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if result, ok := r.executed[key]; ok {
		return result, false
	}
	r.executed[key] = &action.Result{IdempotencyKey: key, Success: true, Outputs: map[string]any{"in_flight": true}}
	return nil, true
}

func (r *run) depsSatisfied(a plan.Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range a.Dependencies {
		result, ok := r.byID[dep]
		if !ok || !result.Success {
			return false
		}
	}
	return true
}

// Run executes the plan and emits the apply (or dry-run) report.
func (s *Stage) Run(ctx context.Context, in Inputs) (*Report, error) {
	owner, repo, err := repoutil.SplitRepoSlug(in.Plan.GithubTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid github target %q: %w", in.Plan.GithubTarget, err)
	}

	idMappings, err := action.LoadIDMappings(filepath.Join(s.Dir, constants.IDMappingsPath))
	if err != nil {
		return nil, err
	}

	ec := &action.ExecContext{
		Dest:         s.Dest,
		Owner:        owner,
		Repo:         repo,
		Org:          owner,
		ArtifactRoot: s.ArtifactRoot,
		UserInputs:   in.UserInputs,
		IDMappings:   idMappings,
		DryRun:       in.DryRun,
	}

	state := &run{
		executed: make(map[string]*action.Result),
		byID:     make(map[int]*action.Result),
	}
	for _, prior := range in.ResumeResults {
		if prior != nil && prior.Success {
			state.executed[prior.IdempotencyKey] = prior
			state.byID[prior.ActionID] = prior
		}
	}
	ec.Executed = state.executed

	report := &Report{
		RunID:        in.Plan.RunID,
		GithubTarget: in.Plan.GithubTarget,
		DryRun:       in.DryRun,
		StartedAt:    time.Now().UTC(),
		PlanSummary:  in.Plan.Summary,
		IDMappings:   idMappings,
	}

	for _, group := range in.Plan.Phases {
		if ctx.Err() != nil {
			break
		}
		actions := s.phaseActions(in.Plan, group)
		if group.ParallelSafe && !in.DryRun && len(actions) > 1 {
			s.runPhaseParallel(ctx, actions, state, ec, in)
		} else {
			for _, a := range actions {
				if ctx.Err() != nil {
					break
				}
				s.runAction(ctx, a, state, ec, in)
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.Results = state.results
	report.Warnings = state.warnings
	s.aggregate(report)

	if err := s.writeReport(report, in.DryRun); err != nil {
		return report, err
	}
	if !in.DryRun {
		if err := idMappings.Save(filepath.Join(s.Dir, constants.IDMappingsPath)); err != nil {
			return report, err
		}
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

func (s *Stage) phaseActions(p *plan.Plan, group plan.PhaseGroup) []plan.Action {
	actions := make([]plan.Action, 0, len(group.Actions))
	for _, id := range group.Actions {
		if a := p.ActionByID(id); a != nil {
			actions = append(actions, *a)
		}
	}
	return actions
}

// runPhaseParallel fans a parallel-safe phase out in dependency waves: every
// wave runs the actions whose dependencies are already satisfied, under a
// bounded worker pool.
func (s *Stage) runPhaseParallel(ctx context.Context, actions []plan.Action, state *run, ec *action.ExecContext, in Inputs) {
	pending := actions
	for len(pending) > 0 && ctx.Err() == nil {
		var wave, blocked []plan.Action
		for _, a := range pending {
			if state.depsSatisfied(a) {
				wave = append(wave, a)
			} else {
				blocked = append(blocked, a)
			}
		}
		if len(wave) == 0 {
			// Remaining actions have failed dependencies; record them so
			// the loop terminates with explicit results.
			for _, a := range blocked {
				s.runAction(ctx, a, state, ec, in)
			}
			return
		}

		p := pool.New().WithMaxGoroutines(constants.ParallelPhaseWorkers).WithContext(ctx)
		for _, a := range wave {
			p.Go(func(ctx context.Context) error {
				s.runAction(ctx, a, state, ec, in)
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			log.Printf("Parallel phase interrupted: %v", err)
			return
		}
		pending = blocked
	}
}

// runAction executes one planned action through the full discipline:
// resume cursor, skip predicate, dependency check, registry dispatch, rate
// budget, idempotency, retry.
func (s *Stage) runAction(ctx context.Context, a plan.Action, state *run, ec *action.ExecContext, in Inputs) {
	if in.ResumeFromActionID > 0 && a.ID < in.ResumeFromActionID {
		if !state.seen(a.ID) {
			state.record(a, &action.Result{
				Success: true, ActionID: a.ID, ActionType: a.Type,
				IdempotencyKey: a.IdempotencyKey,
				Outputs:        map[string]any{"skipped": "before resume cursor"},
			})
		}
		return
	}

	if a.SkipIf != "" && evaluateSkipIf(a.SkipIf, ec) {
		state.record(a, &action.Result{
			Success: true, ActionID: a.ID, ActionType: a.Type,
			IdempotencyKey: a.IdempotencyKey,
			Outputs:        map[string]any{"skipped": "skip_if predicate matched"},
		})
		return
	}

	if !state.depsSatisfied(a) {
		state.record(a, &action.Result{
			Success: false, ActionID: a.ID, ActionType: a.Type,
			IdempotencyKey: a.IdempotencyKey,
			Error:          "Dependencies not met",
		})
		return
	}

	impl, err := s.Registry.New(a)
	if err != nil {
		state.record(a, &action.Result{
			Success: false, ActionID: a.ID, ActionType: a.Type,
			IdempotencyKey: a.IdempotencyKey,
			Error:          "Unknown action type: " + string(a.Type),
		})
		return
	}

	// Idempotency: a successful prior result with this key short-circuits.
	if prior, claimed := state.claim(a.IdempotencyKey); !claimed {
		cached := *prior
		cached.ActionID = a.ID
		cached.ActionType = a.Type
		if cached.Outputs == nil {
			cached.Outputs = map[string]any{}
		}
		cached.Outputs["idempotent_skip"] = true
		state.record(a, &cached)
		return
	}

	if !in.DryRun && s.Dest != nil {
		if err := s.Dest.WaitForBudget(ctx, constants.ApplyRateLimitFloor); err != nil {
			state.record(a, &action.Result{
				Success: false, ActionID: a.ID, ActionType: a.Type,
				IdempotencyKey: a.IdempotencyKey, Error: err.Error(),
			})
			return
		}
		// Destination-side existence probe, for kinds that support it.
		if checker, ok := impl.(action.ExistenceChecker); ok {
			if result, exists := checker.CheckExisting(ctx, ec); exists {
				state.record(a, result)
				return
			}
		}
	}

	result := action.ExecuteWithRetry(ctx, impl, ec, constants.DefaultActionRetries, time.Second)
	state.record(a, result)
	if !result.Success {
		log.Printf("Action %d (%s) failed: %s", a.ID, a.Type, result.Error)
	}
}

// evaluateSkipIf resolves the plan's skip predicates. The only recognized
// shape is "mapping_exists:<kind>:<source-id>"; unknown predicates do not
// skip, so a stale plan fails loudly rather than silently dropping work.
func evaluateSkipIf(predicate string, ec *action.ExecContext) bool {
	parts := strings.SplitN(predicate, ":", 3)
	if len(parts) == 3 && parts[0] == "mapping_exists" {
		_, ok := ec.IDMappings.Get(parts[1], parts[2])
		return ok
	}
	return false
}

// aggregate computes the terminal status and counters.
func (s *Stage) aggregate(report *Report) {
	for _, result := range report.Results {
		switch {
		case result.Success && result.Outputs != nil && (result.Outputs["idempotent_skip"] == true || result.Outputs["skipped"] != nil):
			report.Skipped++
			report.Successful++
		case result.Success:
			report.Successful++
		default:
			report.Failed++
		}
	}
	total := report.Successful + report.Failed
	if total > 0 {
		report.SuccessRate = float64(report.Successful) / float64(total)
	}

	if report.DryRun {
		report.BySimulation = map[string]int{}
		for _, result := range report.Results {
			if result.Simulated {
				report.BySimulation[string(result.SimulationOutcome)]++
			}
			if result.SimulationOutcome == action.WouldFail {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("action %d (%s) would fail: %v", result.ActionID, result.ActionType, result.Outputs["reason"]))
			}
		}
	}

	switch {
	case report.Failed == 0:
		report.Status = "success"
	case report.Successful > 0:
		report.Status = "partial"
	default:
		report.Status = "failed"
	}
}

// writeReport persists the report, best-effort on cancellation.
func (s *Stage) writeReport(report *Report, dryRun bool) error {
	name := constants.ApplyReportPath
	if dryRun {
		name = constants.DryRunReportPath
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding apply report: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}
