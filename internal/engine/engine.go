package engine

import (
	"context"

	"strata/internal/dag"
	"strata/internal/state"
)

type Engine struct {
	orch  *dag.Orchestrator
	state state.Store
}

// Run executes the whole pipeline once and releases engine resources.
func (e *Engine) Run(ctx context.Context) error {
	defer e.state.Close()
	return e.orch.Run(ctx)
}
