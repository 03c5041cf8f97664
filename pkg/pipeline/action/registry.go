package action

import (
	"fmt"

	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
)

// Factory instantiates one action kind from its planned form, decoding the
// typed parameters.
type Factory func(a plan.Action) (Action, error)

// Registry maps action types to factories. It is passed through the apply
// stage rather than held as process-global state, so tests can instantiate
// their own.
type Registry struct {
	factories map[plan.ActionType]Factory
}

// NewRegistry creates a registry with every built-in kind registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[plan.ActionType]Factory)}
	r.registerRepoActions()
	r.registerCIActions()
	r.registerIssueActions()
	r.registerPRActions()
	r.registerWikiActions()
	r.registerReleaseActions()
	r.registerGovernanceActions()
	r.registerIntegrationActions()
	r.registerPreservationActions()
	return r
}

// Register adds or replaces the factory for a type.
func (r *Registry) Register(t plan.ActionType, f Factory) {
	r.factories[t] = f
}

// New instantiates the action for a planned entry. Unknown types error so
// the apply loop can record a failed result without aborting.
func (r *Registry) New(a plan.Action) (Action, error) {
	factory, ok := r.factories[a.Type]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
	return factory(a)
}

// Types returns every registered action type.
func (r *Registry) Types() []plan.ActionType {
	types := make([]plan.ActionType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
