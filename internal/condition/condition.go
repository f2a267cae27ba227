// Package condition evaluates the small HCL expressions the pipeline spec
// embeds: execution conditions over input-subfeed state, row predicates for
// constraints and filters, and metric conditions for expectations.
package condition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Expr is a parsed expression ready for repeated evaluation.
type Expr struct {
	src  string
	expr hcl.Expression
}

// Parse compiles src once; syntax errors surface at configuration time.
func Parse(src string) (*Expr, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "<expression>", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse expression %q: %s", src, diags.Error())
	}
	return &Expr{src: src, expr: expr}, nil
}

func (e *Expr) String() string { return e.src }

// Eval evaluates the expression with the given variables.
func (e *Expr) Eval(vars map[string]cty.Value) (cty.Value, error) {
	v, diags := e.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluate %q: %s", e.src, diags.Error())
	}
	return v, nil
}

// EvalBool evaluates and converts the result to bool; unknown or null values
// are an error, not false.
func (e *Expr) EvalBool(vars map[string]cty.Value) (bool, error) {
	v, err := e.Eval(vars)
	if err != nil {
		return false, err
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("expression %q is not boolean: %w", e.src, err)
	}
	if b.IsNull() || !b.IsKnown() {
		return false, fmt.Errorf("expression %q evaluated to no value", e.src)
	}
	return b.True(), nil
}

// RowVars exposes one data row as cty variables, one per column.
func RowVars(row map[string]any) map[string]cty.Value {
	vars := make(map[string]cty.Value, len(row))
	for k, v := range row {
		vars[k] = ToCty(v)
	}
	return vars
}

// ToCty converts common Go scalar types to cty values. Unsupported types
// degrade to their string form so predicates can still compare them.
func ToCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case bool:
		return cty.BoolVal(t)
	case string:
		return cty.StringVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case int32:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case float32:
		return cty.NumberFloatVal(float64(t))
	case float64:
		return cty.NumberFloatVal(t)
	default:
		return cty.StringVal(fmt.Sprint(t))
	}
}
