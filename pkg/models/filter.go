package models

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled boolean predicate over a changed row.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a predicate such as `status == "overdue" && amount > 1000`.
// Unknown attributes evaluate to nil rather than failing.
func CompileFilter(source string) (*Filter, error) {
	program, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	return &Filter{source: source, program: program}, nil
}

// Match evaluates the predicate against env.
func (f *Filter) Match(env map[string]any) (bool, error) {
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.source, err)
	}

	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.source, out)
	}

	return matched, nil
}

func (f *Filter) String() string {
	return f.source
}
