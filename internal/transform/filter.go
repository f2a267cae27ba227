package transform

import (
	"context"
	"fmt"

	"strata/internal/compute"
)

// Filter keeps the rows of its single input that satisfy a boolean
// expression. One input, one output; no distinct mechanism beyond the
// Transformer interface.
type Filter struct {
	name      string
	predicate string
	output    string
}

func NewFilter(name string, opts Options) (Transformer, error) {
	pred := opts["filter"]
	if pred == "" {
		return nil, fmt.Errorf("filter transformer %q: missing 'filter' option", name)
	}
	return &Filter{name: name, predicate: pred, output: opts["output"]}, nil
}

func (f *Filter) Name() string { return f.name }

func (f *Filter) Transform(ctx context.Context, eng compute.Engine, inputs map[string]compute.Dataset, opts Options) (map[string]compute.Dataset, error) {
	_, out, ds, err := singleInput(f.name, inputs, opts, f.output)
	if err != nil {
		return nil, err
	}
	filtered, err := eng.Filter(ctx, ds, f.predicate)
	if err != nil {
		return nil, err
	}
	return map[string]compute.Dataset{out: filtered}, nil
}

// singleInput resolves the one-in/one-out convention shared by the built-in
// transformers: the input is either named via the "input" option or the sole
// entry in inputs; the output defaults to the input name.
func singleInput(name string, inputs map[string]compute.Dataset, opts Options, output string) (in, out string, ds compute.Dataset, err error) {
	in = opts["input"]
	if in == "" {
		if len(inputs) != 1 {
			return "", "", nil, fmt.Errorf("transformer %q: %d inputs available, set the 'input' option", name, len(inputs))
		}
		for k := range inputs {
			in = k
		}
	}
	ds, ok := inputs[in]
	if !ok {
		return "", "", nil, fmt.Errorf("transformer %q: input %q not available", name, in)
	}
	if output == "" {
		output = opts["output"]
	}
	if output == "" {
		output = in
	}
	return in, output, ds, nil
}

func init() {
	Register("filter", NewFilter)
}
