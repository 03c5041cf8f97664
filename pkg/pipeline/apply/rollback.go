package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline/action"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
	"github.com/forgemove/ghmigrate/pkg/repoutil"
)

// RollbackMigration undoes a previous apply: executed actions are iterated
// in reverse order, each reversible one rolled back with its recorded
// rollback data. Non-reversible actions are counted, not attempted.
func RollbackMigration(ctx context.Context, dest *destclient.Client, registry *action.Registry, artifactRoot string) (*RollbackReport, error) {
	applyDir := filepath.Join(artifactRoot, constants.ApplyDir)

	data, err := os.ReadFile(filepath.Join(applyDir, constants.ApplyReportPath))
	if err != nil {
		return nil, fmt.Errorf("reading apply report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing apply report: %w", err)
	}
	if report.DryRun {
		return nil, fmt.Errorf("refusing to roll back a dry run")
	}

	owner, repo, err := repoutil.SplitRepoSlug(report.GithubTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid github target in report: %w", err)
	}
	idMappings, err := action.LoadIDMappings(filepath.Join(applyDir, constants.IDMappingsPath))
	if err != nil {
		return nil, err
	}
	ec := &action.ExecContext{
		Dest:         dest,
		Owner:        owner,
		Repo:         repo,
		Org:          owner,
		ArtifactRoot: artifactRoot,
		IDMappings:   idMappings,
	}

	result := &RollbackReport{}
	for i := len(report.Results) - 1; i >= 0; i-- {
		executed := report.Results[i]
		if executed == nil || !executed.Success || executed.Simulated {
			continue
		}
		if !executed.Reversible {
			result.Skipped++
			continue
		}

		impl, err := registry.New(plan.Action{
			ID:             executed.ActionID,
			Type:           executed.ActionType,
			IdempotencyKey: executed.IdempotencyKey,
			Parameters:     parametersFromOutputs(executed),
			Reversible:     true,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors,
				fmt.Sprintf("action %d: %v", executed.ActionID, err))
			continue
		}
		if err := impl.Rollback(ctx, ec, executed.RollbackData); err != nil {
			result.Failed++
			result.Errors = append(result.Errors,
				fmt.Sprintf("action %d (%s): %v", executed.ActionID, executed.ActionType, err))
			continue
		}
		result.RolledBack++
	}

	switch {
	case result.Failed == 0:
		result.Status = "success"
	case result.RolledBack > 0:
		result.Status = "partial"
	default:
		result.Status = "failed"
	}
	return result, nil
}

// parametersFromOutputs reconstructs enough of the original parameters for
// the factory to instantiate; rollback itself only reads rollback data.
func parametersFromOutputs(r *action.Result) map[string]any {
	params := map[string]any{}
	for k, v := range r.RollbackData {
		params[k] = v
	}
	for k, v := range r.Outputs {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}
	return params
}
