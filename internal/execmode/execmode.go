// Package execmode computes the incremental subset of data an action must
// process in the current run. Modes are resolved through a typed registry at
// configuration-load time; the action treats every mode as an opaque strategy
// behind one interface.
package execmode

import (
	"context"
	"fmt"

	"strata/internal/catalog"
	"strata/internal/dataobject"
	"strata/internal/partition"
	"strata/internal/transform"
)

// Outcome tags an execution-mode result. NoData is a distinct signal, not an
// error: the run is fine, there is simply nothing to process.
type Outcome int

const (
	Process Outcome = iota
	NoData
)

// Result is what a mode decided for this run.
type Result struct {
	Outcome Outcome
	// PartitionValues are the input-side tuples to process; the action maps
	// them through the chain's partition-value mapping for outputs.
	PartitionValues []partition.Values
	// Options is merged into the transformer options, letting a custom mode
	// pass arbitrary signals to transformation code.
	Options transform.Options
}

// Input is the per-run view a mode sees. It is restricted to the action's
// main input/output pair.
type Input struct {
	ActionID             string
	MainInput            *dataobject.DataObject
	MainOutput           *dataobject.DataObject
	InputPartitionValues []partition.Values
	// Mapping is the chain's composed partition-value remapping, input keys
	// to output keys. Nil means identity.
	Mapping partition.Mapping

	InputCatalog  catalog.Catalog
	OutputCatalog catalog.Catalog

	// State is the per-action state cell, owned by the orchestrator and
	// passed in by reference.
	State *Cell
}

// Mode must be safely callable during init: read-only metadata inspection
// only, and re-invocable after Reset without residual state.
type Mode interface {
	Apply(ctx context.Context, in Input) (Result, error)
}

// PostExecer is implemented by modes with post-commit side effects (e.g.
// moving away processed files). PostExec must be idempotent and tolerate
// skipped outcomes.
type PostExecer interface {
	PostExec(ctx context.Context, in Input) error
}

/*──────── registry ───────*/

type Factory func(opts transform.Options) (Mode, error)

var reg = map[string]Factory{}

func Register(kind string, f Factory) { reg[kind] = f }

func New(kind string, opts transform.Options) (Mode, error) {
	if f, ok := reg[kind]; ok {
		return f(opts)
	}
	return nil, fmt.Errorf("unknown execution mode %q", kind)
}
