package executor

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/arxis/aviladb/document"
	"github.com/arxis/aviladb/query"
)

// residualFilter is a compiled CEL expression over one output document.
// The expression sees the fields as doc, the id as id and the query
// parameters as params.
type residualFilter struct {
	prg    cel.Program
	params map[string]any
}

func compileFilter(expr string, params query.Params) (*residualFilter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilter, err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrFilter, expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilter, err)
	}
	return &residualFilter{prg: prg, params: params.ToMap()}, nil
}

// match evaluates the filter. A nil filter accepts everything.
func (f *residualFilter) match(d document.Document) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"doc":    d.ToMap(),
		"id":     d.ID,
		"params": f.params,
	})
	if err != nil {
		return false, fmt.Errorf("%w: document %q: %w", ErrFilter, d.ID, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: result is %s, not bool", ErrFilter, out.Type().TypeName())
	}
	return b, nil
}
