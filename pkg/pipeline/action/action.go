// Package action defines the polymorphic contract every migration action
// implements — execute, simulate, rollback — plus the registry the apply
// stage dispatches through and the shared id-mapping context.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/forgeerr"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

var log = logger.New("action:action")

// SimulationOutcome is the dry-run verdict for one action.
type SimulationOutcome string

const (
	WouldCreate  SimulationOutcome = "would_create"
	WouldUpdate  SimulationOutcome = "would_update"
	WouldSkip    SimulationOutcome = "would_skip"
	WouldFail    SimulationOutcome = "would_fail"
	WouldExecute SimulationOutcome = "would_execute"
)

// Result is the outcome of executing, simulating, or replaying one action.
type Result struct {
	Success           bool              `json:"success"`
	ActionID          int               `json:"action_id"`
	ActionType        plan.ActionType   `json:"action_type"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Outputs           map[string]any    `json:"outputs,omitempty"`
	Error             string            `json:"error,omitempty"`
	RollbackData      map[string]any    `json:"rollback_data,omitempty"`
	Reversible        bool              `json:"reversible"`
	Simulated         bool              `json:"simulated,omitempty"`
	SimulationOutcome SimulationOutcome `json:"simulation_outcome,omitempty"`
	// ResumeState is opaque per-action state, round-tripped across resumes
	// but never interpreted by the core.
	ResumeState json.RawMessage `json:"resume_state,omitempty"`

	// err retains the typed cause for retry classification; it does not
	// survive serialization, which is fine because retries happen in-run.
	err error
}

// ExecContext is the shared state one apply run threads through its actions.
type ExecContext struct {
	Dest  *destclient.Client
	Owner string
	Repo  string
	Org   string

	// ArtifactRoot locates export and transform artifacts that actions
	// read (bundles, workflow files, release assets).
	ArtifactRoot string

	// UserInputs resolves ${USER_INPUT_REQUIRED} placeholders, keyed by
	// the user-input key from the plan.
	UserInputs map[string]string

	IDMappings *IDMappings

	// Executed maps idempotency keys to prior results; both the resume
	// path and in-run duplicate suppression read it.
	Executed map[string]*Result

	DryRun bool
}

// Action is the polymorphic contract every kind implements.
type Action interface {
	// Execute performs the destination write and returns its result.
	Execute(ctx context.Context, ec *ExecContext) *Result
	// Simulate predicts the outcome with read-only probes; it must not
	// mutate the destination.
	Simulate(ctx context.Context, ec *ExecContext) *Result
	// Rollback undoes a previous execution using its rollback data.
	Rollback(ctx context.Context, ec *ExecContext, rollbackData map[string]any) error
	// IsReversible reports whether the kind can be rolled back.
	IsReversible() bool
}

// ExistenceChecker is implemented by kinds that can probe whether the
// destination already holds their entity, letting idempotency checks
// short-circuit even without a prior result.
type ExistenceChecker interface {
	CheckExisting(ctx context.Context, ec *ExecContext) (*Result, bool)
}

// base carries the planned action every kind embeds.
type base struct {
	planned plan.Action
}

func (b *base) succeed(outputs, rollbackData map[string]any) *Result {
	return &Result{
		Success:        true,
		ActionID:       b.planned.ID,
		ActionType:     b.planned.Type,
		IdempotencyKey: b.planned.IdempotencyKey,
		Outputs:        outputs,
		RollbackData:   rollbackData,
		Reversible:     b.planned.Reversible,
	}
}

func (b *base) fail(err error) *Result {
	return &Result{
		Success:        false,
		ActionID:       b.planned.ID,
		ActionType:     b.planned.Type,
		IdempotencyKey: b.planned.IdempotencyKey,
		Error:          err.Error(),
		Reversible:     b.planned.Reversible,
		err:            err,
	}
}

func (b *base) simulated(outcome SimulationOutcome, outputs map[string]any) *Result {
	return &Result{
		Success:           outcome != WouldFail,
		ActionID:          b.planned.ID,
		ActionType:        b.planned.Type,
		IdempotencyKey:    b.planned.IdempotencyKey,
		Outputs:           outputs,
		Reversible:        b.planned.Reversible,
		Simulated:         true,
		SimulationOutcome: outcome,
	}
}

// IsReversible defaults to the planned reversibility flag.
func (b *base) IsReversible() bool {
	return b.planned.Reversible
}

// decodeParams converts the plan's parameter record into a kind's typed
// parameter struct via a JSON round-trip.
func decodeParams[T any](a plan.Action) (T, error) {
	var params T
	data, err := json.Marshal(a.Parameters)
	if err != nil {
		return params, fmt.Errorf("encoding parameters of action %d: %w", a.ID, err)
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("decoding parameters of action %d (%s): %w", a.ID, a.Type, err)
	}
	return params, nil
}

// ExecuteWithRetry runs Execute (or Simulate during a dry run) with
// exponential backoff on transient failures. Permanent failures — auth,
// permission, not-found, validation — fail immediately.
func ExecuteWithRetry(ctx context.Context, a Action, ec *ExecContext, maxRetries int, baseDelay time.Duration) *Result {
	if ec.DryRun {
		return a.Simulate(ctx, ec)
	}

	var result *Result
	for attempt := 0; ; attempt++ {
		result = a.Execute(ctx, ec)
		if result.Success {
			return result
		}
		if attempt >= maxRetries || !retryableResult(result) {
			return result
		}
		delay := baseDelay << attempt
		log.Printf("Action %d failed transiently (attempt %d/%d), retrying in %v: %s",
			result.ActionID, attempt+1, maxRetries, delay, result.Error)
		select {
		case <-ctx.Done():
			return result
		case <-time.After(delay):
		}
	}
}

// retryableResult consults the retained typed cause; a result without one
// (e.g. a validation failure built from a message) is not retried.
func retryableResult(r *Result) bool {
	return r.err != nil && forgeerr.IsRetryable(r.err)
}
