package execmode

import (
	"context"

	"strata/internal/transform"
)

// Logic is user-supplied incremental-computation logic. Implementations are
// registered under a stable key via RegisterCustom and resolved when the
// pipeline configuration is loaded; nothing is looked up by reflection.
type Logic interface {
	Apply(ctx context.Context, in Input) (Result, error)
}

// custom adapts registered Logic to the Mode interface. The core does not
// special-case it beyond merging its result options into the transformer
// options.
type custom struct {
	logic Logic
}

func (c *custom) Apply(ctx context.Context, in Input) (Result, error) {
	return c.logic.Apply(ctx, in)
}

// RegisterCustom exposes user logic as an execution mode under the given
// key, typically from an init function or main.
func RegisterCustom(key string, build func(opts transform.Options) (Logic, error)) {
	Register(key, func(opts transform.Options) (Mode, error) {
		logic, err := build(opts)
		if err != nil {
			return nil, err
		}
		return &custom{logic: logic}, nil
	})
}
