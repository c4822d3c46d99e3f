package workflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/stride-run/stride/pkg/models"
)

// EvaluateCondition evaluates a step's condition expression against the
// execution context. An empty condition always passes; a condition that
// references only known context keys and evaluates to a truthy value passes.
func EvaluateCondition(condition string, ectx models.ExecutionContext) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}

	env := map[string]any(ectx)

	program, err := expr.Compile(condition, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}

	return isTruthy(result), nil
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
