package action

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

func (r *Registry) registerCIActions() {
	r.Register(plan.ActionWorkflowCommit, func(a plan.Action) (Action, error) {
		params, err := decodeParams[workflowCommitParams](a)
		if err != nil {
			return nil, err
		}
		return &workflowCommit{base{a}, params}, nil
	})
	r.Register(plan.ActionEnvironmentCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[namedParams](a)
		if err != nil {
			return nil, err
		}
		return &environmentCreate{base{a}, params}, nil
	})
	r.Register(plan.ActionSecretSet, func(a plan.Action) (Action, error) {
		params, err := decodeParams[secretSetParams](a)
		if err != nil {
			return nil, err
		}
		return &secretSet{base{a}, params}, nil
	})
	r.Register(plan.ActionVariableSet, func(a plan.Action) (Action, error) {
		params, err := decodeParams[variableSetParams](a)
		if err != nil {
			return nil, err
		}
		return &variableSet{base{a}, params}, nil
	})
	r.Register(plan.ActionScheduleCreate, func(a plan.Action) (Action, error) {
		params, err := decodeParams[scheduleCreateParams](a)
		if err != nil {
			return nil, err
		}
		return &scheduleCreate{base{a}, params}, nil
	})
}

type namedParams struct {
	Name string `json:"name"`
}

type workflowCommitParams struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type workflowCommit struct {
	base
	params workflowCommitParams
}

func (a *workflowCommit) workflowFile(ec *ExecContext) string {
	return filepath.Join(ec.ArtifactRoot, constants.TransformDir, constants.WorkflowsDir, a.params.Name)
}

func (a *workflowCommit) Execute(ctx context.Context, ec *ExecContext) *Result {
	content, err := os.ReadFile(a.workflowFile(ec))
	if err != nil {
		return a.fail(forgeerr.Wrap(forgeerr.CategoryValidation, "reading transformed workflow", err))
	}
	message := fmt.Sprintf("ci: add migrated workflow %s", a.params.Name)
	if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, a.params.Path, message, content, ""); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"path": a.params.Path}, nil)
}

func (a *workflowCommit) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if !fileExists(a.workflowFile(ec)) {
		return a.simulated(WouldFail, map[string]any{"reason": "transformed workflow missing"})
	}
	return a.simulated(WouldCreate, map[string]any{"path": a.params.Path})
}

func (a *workflowCommit) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("workflow_commit is not reversible")
}

type environmentCreate struct {
	base
	params namedParams
}

func (a *environmentCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	if err := ec.Dest.CreateEnvironment(ctx, ec.Owner, ec.Repo, a.params.Name); err != nil {
		return a.fail(err)
	}
	ec.IDMappings.Set("environment", a.params.Name, a.params.Name)
	return a.succeed(
		map[string]any{"name": a.params.Name},
		map[string]any{"name": a.params.Name},
	)
}

func (a *environmentCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	names, err := ec.Dest.ListEnvironments(ctx, ec.Owner, ec.Repo)
	if err == nil {
		for _, name := range names {
			if name == a.params.Name {
				return a.simulated(WouldSkip, map[string]any{"reason": "environment already exists"})
			}
		}
	}
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name})
}

func (a *environmentCreate) Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error {
	name := stringField(rollbackData, "name")
	if name == "" {
		return fmt.Errorf("rollback data missing environment name")
	}
	return ec.Dest.DeleteEnvironment(ctx, ec.Owner, ec.Repo, name)
}

type secretSetParams struct {
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	Environment string `json:"environment"`
	Value       string `json:"value"`
}

type secretSet struct {
	base
	params secretSetParams
}

// resolveValue substitutes the operator-supplied value for the plan's
// placeholder. Missing required input is a validation failure, not a retry.
func (a *secretSet) resolveValue(ec *ExecContext) (string, error) {
	if a.params.Value != constants.UserInputPlaceholder {
		return a.params.Value, nil
	}
	if v, ok := ec.UserInputs[a.params.Name]; ok && v != "" {
		return v, nil
	}
	return "", forgeerr.New(forgeerr.CategoryValidation,
		fmt.Sprintf("secret %s requires a user-supplied value", a.params.Name)).
		WithSuggestion("Provide the value with --input " + a.params.Name + "=<value> or in the inputs file")
}

func (a *secretSet) Execute(ctx context.Context, ec *ExecContext) *Result {
	value, err := a.resolveValue(ec)
	if err != nil {
		return a.fail(err)
	}
	if a.params.Scope == "environment" && a.params.Environment != "" {
		err = ec.Dest.SetEnvironmentSecret(ctx, ec.Owner, ec.Repo, a.params.Environment, a.params.Name, value)
	} else {
		err = ec.Dest.SetRepoSecret(ctx, ec.Owner, ec.Repo, a.params.Name, value)
	}
	if err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"name": a.params.Name, "scope": a.params.Scope}, nil)
}

func (a *secretSet) Simulate(ctx context.Context, ec *ExecContext) *Result {
	if _, err := a.resolveValue(ec); err != nil {
		return a.simulated(WouldFail, map[string]any{"reason": err.Error()})
	}
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name, "scope": a.params.Scope})
}

func (a *secretSet) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("secret_set is not reversible")
}

type variableSetParams struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type variableSet struct {
	base
	params variableSetParams
}

func (a *variableSet) Execute(ctx context.Context, ec *ExecContext) *Result {
	value := a.params.Value
	if value == "" {
		if v, ok := ec.UserInputs[a.params.Name]; ok {
			value = v
		}
	}
	if err := ec.Dest.SetVariable(ctx, ec.Owner, ec.Repo, a.params.Name, value); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"name": a.params.Name}, nil)
}

func (a *variableSet) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"name": a.params.Name})
}

func (a *variableSet) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("variable_set is not reversible")
}

type scheduleCreateParams struct {
	Name string `json:"name"`
	Cron string `json:"cron"`
	Ref  string `json:"ref"`
}

type scheduleCreate struct {
	base
	params scheduleCreateParams
}

func (a *scheduleCreate) Execute(ctx context.Context, ec *ExecContext) *Result {
	// Source pipeline schedules become a dedicated scheduled workflow that
	// re-dispatches the migrated CI workflow on the same cron.
	name := "scheduled-" + sanitizeScheduleName(a.params.Name) + ".yml"
	content := fmt.Sprintf(`name: %s
on:
  schedule:
    - cron: %q
jobs:
  dispatch:
    runs-on: ubuntu-latest
    steps:
      - run: gh workflow run ci.yml --ref %q
        env:
          GH_TOKEN: ${{ secrets.GITHUB_TOKEN }}
`, a.params.Name, a.params.Cron, a.params.Ref)
	path := ".github/workflows/" + name
	message := fmt.Sprintf("ci: recreate pipeline schedule %q", a.params.Name)
	if err := ec.Dest.CreateOrUpdateFile(ctx, ec.Owner, ec.Repo, path, message, []byte(content), ""); err != nil {
		return a.fail(err)
	}
	return a.succeed(map[string]any{"path": path, "cron": a.params.Cron}, nil)
}

func (a *scheduleCreate) Simulate(ctx context.Context, ec *ExecContext) *Result {
	return a.simulated(WouldCreate, map[string]any{"cron": a.params.Cron})
}

func (a *scheduleCreate) Rollback(context.Context, *ExecContext, map[string]any) error {
	return fmt.Errorf("schedule_create is not reversible")
}

func sanitizeScheduleName(name string) string {
	if name == "" {
		b := make([]byte, 4)
		rand.Read(b)
		return hex.EncodeToString(b)
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
