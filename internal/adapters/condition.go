package adapters

import (
	"context"

	"github.com/kimjoonhwaan/metaworkflow/internal/expr"
	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// ConditionAdapter evaluates a CONDITION step's expression and reports the
// result as output. Evaluation errors degrade to false, never to a step
// failure.
type ConditionAdapter struct {
	log *logging.Logger
}

func NewConditionAdapter(log *logging.Logger) *ConditionAdapter {
	return &ConditionAdapter{log: log}
}

func (a *ConditionAdapter) Execute(_ context.Context, req Request) (Result, error) {
	condition, _ := req.Config["condition"].(string)
	met := false
	if condition != "" {
		var err error
		met, err = expr.Eval(condition, req.Variables)
		if err != nil {
			a.log.Warn("condition evaluation failed, treating as false",
				"condition", condition, "error", err)
			met = false
		}
	}
	return Result{Output: map[string]interface{}{"condition_met": met}}, nil
}
