package transform

import (
	"context"
	"fmt"

	"strata/internal/compute"
)

// AddColumn extends its single input with a literal-or-expression column.
type AddColumn struct {
	name   string
	column string
	expr   string
	output string
}

func NewAddColumn(name string, opts Options) (Transformer, error) {
	col := opts["column"]
	expr := opts["expr"]
	if col == "" || expr == "" {
		return nil, fmt.Errorf("add_column transformer %q: 'column' and 'expr' options are required", name)
	}
	return &AddColumn{name: name, column: col, expr: expr, output: opts["output"]}, nil
}

func (t *AddColumn) Name() string { return t.name }

func (t *AddColumn) Transform(ctx context.Context, eng compute.Engine, inputs map[string]compute.Dataset, opts Options) (map[string]compute.Dataset, error) {
	_, out, ds, err := singleInput(t.name, inputs, opts, t.output)
	if err != nil {
		return nil, err
	}
	extended, err := eng.WithColumn(ctx, ds, t.column, t.expr)
	if err != nil {
		return nil, err
	}
	return map[string]compute.Dataset{out: extended}, nil
}

func init() {
	Register("add_column", NewAddColumn)
}
