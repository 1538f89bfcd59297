package orchestrator

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// EvaluateCondition evaluates a stage gating expression against the
// request's condition variables. The expression must produce a boolean.
func EvaluateCondition(expr string, vars map[string]interface{}) (bool, error) {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, fmt.Errorf("failed to parse condition %q: %w", expr, err)
	}
	result, err := evalExpr.Evaluate(vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", expr, err)
	}
	match, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean (got %T)", expr, result)
	}
	return match, nil
}

// ValidateCondition checks that an expression parses and only references
// known condition variables. Used at pipeline load time.
func ValidateCondition(expr string, knownVars map[string]interface{}) error {
	evalExpr, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return fmt.Errorf("invalid condition %q: %w", expr, err)
	}
	for _, name := range evalExpr.Vars() {
		if _, ok := knownVars[name]; !ok {
			return fmt.Errorf("condition %q references unknown variable %q", expr, name)
		}
	}
	return nil
}
