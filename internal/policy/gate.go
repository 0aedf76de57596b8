package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// gateCompiler compiles GateWhen expressions against the payload environment.
type gateCompiler struct {
	env *cel.Env
}

func newGateCompiler() (*gateCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("actionType", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &gateCompiler{env: env}, nil
}

func (c *gateCompiler) compile(expr string) (cel.Program, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.BoolType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("compile: expression must return bool, got %s", out)
	}
	prg, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// evalGate returns whether the gate applies. Evaluation errors, such as a
// missing payload key the expression did not guard with has(), count as gated.
func evalGate(prg cel.Program, actionType ActionType, payload map[string]any) bool {
	if payload == nil {
		payload = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"payload":    payload,
		"actionType": string(actionType),
	})
	if err != nil {
		return true
	}
	gated, ok := out.Value().(bool)
	return !ok || gated
}
