package bridge

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// filter is a compiled boolean CEL expression evaluated per list item.
type filter struct {
	expr string
	prg  cel.Program
}

// Variables visible to filter expressions. Addresses are unsigned integers
// so expressions like `address >= 0x1000u` work.
var (
	procedureFilterEnv = mustFilterEnv(
		cel.Variable("address", cel.UintType),
		cel.Variable("name", cel.StringType),
	)
	stringFilterEnv = mustFilterEnv(
		cel.Variable("address", cel.UintType),
		cel.Variable("text", cel.StringType),
		cel.Variable("segment", cel.StringType),
		cel.Variable("length", cel.IntType),
	)
)

func mustFilterEnv(opts ...cel.EnvOption) *cel.Env {
	env, err := cel.NewEnv(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build filter environment: %v", err))
	}
	return env
}

// compileFilter returns nil when params carry no "filter".
func compileFilter(env *cel.Env, params Params) (*filter, error) {
	expr, ok := params.String("filter")
	if !ok || expr == "" {
		return nil, nil
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, InvalidArgument("filter: %v", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, InvalidArgument("filter: expression must be boolean, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, InvalidArgument("filter: %v", err)
	}
	return &filter{expr: expr, prg: prg}, nil
}

// match evaluates the filter against vars. A nil filter matches everything.
func (f *filter) match(vars map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(vars)
	if err != nil {
		return false, InvalidArgument("filter %q: %v", f.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, InvalidArgument("filter %q: result is not boolean", f.expr)
	}
	return b, nil
}
