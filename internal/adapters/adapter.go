// Package adapters contains one executor per step type. Adapters are pure
// with respect to engine state: they receive a prepared input map and return
// a result, and never touch the variable pool or the store directly.
package adapters

import (
	"context"
	"fmt"

	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// Request is the input handed to an adapter for a single step attempt.
type Request struct {
	// Config is the step's type-specific configuration.
	Config map[string]interface{}
	// Variables is the merged variable pool the binder prepared for this
	// step. Adapters may read and mutate it locally; changes are not
	// reflected back.
	Variables map[string]interface{}
	// Code carries script source for SCRIPT steps.
	Code string
}

// Result is what an adapter produced for a single attempt.
type Result struct {
	// Output is bound into the variable pool via the step's output mapping.
	Output map[string]interface{}
	// RequiresApproval halts the execution in WAITING_APPROVAL.
	RequiresApproval bool
	// Logs carries captured diagnostic output, e.g. a script's stderr.
	Logs string
}

// Adapter executes one step type. A returned error marks the attempt failed
// and eligible for retry.
type Adapter interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry maps step types to their adapters.
type Registry struct {
	adapters map[models.StepType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.StepType]Adapter)}
}

// Register binds an adapter to a step type, replacing any previous binding.
func (r *Registry) Register(t models.StepType, a Adapter) {
	r.adapters[t] = a
}

// Get returns the adapter for a step type.
func (r *Registry) Get(t models.StepType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for step type %q", t)
	}
	return a, nil
}

// Types returns the registered step types, useful for validation.
func (r *Registry) Types() []models.StepType {
	out := make([]models.StepType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
