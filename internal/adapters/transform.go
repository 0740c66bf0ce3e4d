package adapters

import (
	"context"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// TransformAdapter reshapes data between steps without shelling out to a
// script. Supported transform types are "extract" (dotted path) and "map"
// (field rename); anything else passes the input through unchanged.
type TransformAdapter struct {
	log *logging.Logger
}

func NewTransformAdapter(log *logging.Logger) *TransformAdapter {
	return &TransformAdapter{log: log}
}

func (a *TransformAdapter) Execute(_ context.Context, req Request) (Result, error) {
	var input interface{} = req.Variables
	if v, ok := req.Config["input_data"]; ok {
		input = v
	}

	transformType, _ := req.Config["transform_type"].(string)
	var result interface{}
	switch transformType {
	case "extract":
		path, _ := req.Config["expression"].(string)
		if v, ok := descend(input, path); ok {
			result = v
		} else {
			a.log.Warn("transform extract path not found, passing input through", "path", path)
			result = input
		}
	case "map":
		mapping, _ := req.Config["mapping"].(map[string]interface{})
		mapped := make(map[string]interface{}, len(mapping))
		for out, src := range mapping {
			path, _ := src.(string)
			if v, ok := descend(input, path); ok {
				mapped[out] = v
			}
		}
		result = mapped
	default:
		if transformType != "" {
			a.log.Warn("unsupported transform type, passing input through", "type", transformType)
		}
		result = input
	}

	return Result{Output: map[string]interface{}{"result": result}}, nil
}
