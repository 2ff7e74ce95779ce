package stream

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// valueFilter evaluates a compiled expression against each delivery before it
// is enqueued. The expression sees the delivered value as "value" and the raw
// metadata map as "header" and must yield a boolean.
type valueFilter struct {
	source  string
	program *vm.Program
}

func compileFilter(source string) (*valueFilter, error) {
	program, err := expr.Compile(source, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &valueFilter{source: source, program: program}, nil
}

// accept reports whether the delivery passes the filter.
func (f *valueFilter) accept(value any, header map[string]any) (bool, error) {
	env := map[string]any{
		"value":  value,
		"header": header,
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.source, err)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.source, out)
	}
	return keep, nil
}
