package engine

import (
	"strings"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
	"github.com/kimjoonhwaan/metaworkflow/pkg/models"
)

// Binder moves data between the shared variable pool and individual steps.
// PrepareInput builds the map a step adapter sees; ApplyOutput folds a step's
// result back into the pool according to the step's output mapping.
type Binder struct {
	log *logging.Logger
}

func NewBinder(log *logging.Logger) *Binder {
	return &Binder{log: log}
}

// PrepareInput returns a fresh map containing every current variable, every
// prior step output keyed by step id, and the step's input mapping on top.
// Mapping sources resolve against variables first, then step outputs; entries
// whose source exists in neither are logged and skipped rather than failing
// the step. The returned map is a copy; adapters may mutate it freely.
func (b *Binder) PrepareInput(step *models.Step, variables, stepOutputs map[string]interface{}) map[string]interface{} {
	input := make(map[string]interface{}, len(variables)+len(stepOutputs)+len(step.InputMapping))
	for k, v := range variables {
		input[k] = v
	}
	for k, v := range stepOutputs {
		input[k] = v
	}
	for param, source := range step.InputMapping {
		if v, ok := lookupPath(variables, source); ok {
			input[param] = v
			continue
		}
		if v, ok := lookupPath(stepOutputs, source); ok {
			input[param] = v
			continue
		}
		b.log.Warn("input mapping source not found, skipping",
			"step", step.Name, "param", param, "source", source)
	}
	return input
}

// ApplyOutput writes a step's output into the variable pool. The mapping maps
// variable name to output key: a key of "output" (or "") binds the entire
// output; any other key selects that field when the output is a map. When the
// field is absent the whole output is bound and a warning is logged. Applying
// the same output twice yields the same pool.
func (b *Binder) ApplyOutput(step *models.Step, output interface{}, variables map[string]interface{}) {
	for varName, outputKey := range step.OutputMapping {
		switch {
		case outputKey == "output" || outputKey == "":
			variables[varName] = output
		default:
			if m, ok := output.(map[string]interface{}); ok {
				if v, exists := m[outputKey]; exists {
					variables[varName] = v
					continue
				}
			}
			b.log.Warn("output key not found, binding whole output",
				"step", step.Name, "output_key", outputKey, "variable", varName)
			variables[varName] = output
		}
	}
}

// lookupPath resolves a possibly dotted variable reference against the pool.
func lookupPath(variables map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = variables
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, exists := m[part]
		if !exists {
			return nil, false
		}
		current = v
	}
	return current, true
}
