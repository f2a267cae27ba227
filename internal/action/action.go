// Package action implements the DAG node: it takes input subfeeds through
// the phase protocol (preInit → init → preExec → exec → postExec), invokes
// the execution mode, applies the transformer chain, validates data quality
// and emits output subfeeds. Init and exec share one logic path so produced
// partitions can be checked before expensive work starts.
package action

import (
	"fmt"

	"strata/internal/catalog"
	"strata/internal/compute"
	"strata/internal/condition"
	"strata/internal/dataobject"
	"strata/internal/errs"
	"strata/internal/execmode"
	"strata/internal/expectation"
	"strata/internal/transform"
)

// State tracks the lifecycle of one action instance within a run.
type State int

const (
	Created State = iota
	Initialized
	Executed
	Completed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Executed:
		return "executed"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Signal is the tagged phase outcome the orchestrator pattern-matches on,
// replacing control-flow exceptions. Skip and NoData are not errors.
type Signal int

const (
	Proceed Signal = iota
	// Skip: execution condition not met; outputs are skipped, the run does
	// not fail, skip propagates downstream.
	Skip
	// NoData: the execution mode found nothing to process.
	NoData
)

func (s Signal) String() string {
	switch s {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case NoData:
		return "no-data"
	}
	return "unknown"
}

// Quality bundles the data-quality checks of one output object.
type Quality struct {
	Expectations []expectation.Expectation
	Constraints  []expectation.Constraint
}

// Config is the validated wiring of one action.
type Config struct {
	ID              string
	Inputs          []*dataobject.DataObject
	Outputs         []*dataobject.DataObject
	RecursiveInputs []*dataobject.DataObject
	// MainInputID/MainOutputID drive whose partition values define the
	// others'; defaulted when there is exactly one candidate.
	MainInputID  string
	MainOutputID string

	Chain *transform.Chain
	// Mode is optional; absent means "process the subfeed as given".
	Mode execmode.Mode
	// ExecutionCondition is an HCL expression over input-subfeed state;
	// empty means "all non-ignored inputs unskipped".
	ExecutionCondition string
	// IgnoreFilterInputs lists input ids whose skip/filter state is
	// ignored when deciding whether to process.
	IgnoreFilterInputs []string

	Quality map[string]Quality

	Compute   compute.Engine
	Catalogs  map[string]catalog.Catalog
	Validator *expectation.Engine
	StateCell *execmode.Cell
}

type Action struct {
	cfg        Config
	mainInput  *dataobject.DataObject
	mainOutput *dataobject.DataObject
	execCond   *condition.Expr
	ignore     map[string]bool

	state State
}

// New performs all configuration-time validation; anything wrong here is a
// coding/config error and must not surface at run time.
func New(cfg Config) (*Action, error) {
	if cfg.ID == "" {
		return nil, errs.Config("", "action without id")
	}
	if len(cfg.Inputs) == 0 || len(cfg.Outputs) == 0 {
		return nil, errs.Config(cfg.ID, "action needs at least one input and one output")
	}
	a := &Action{cfg: cfg, ignore: map[string]bool{}, state: Created}

	var err error
	if a.mainInput, err = pickMain(cfg.ID, "input", cfg.MainInputID, cfg.Inputs); err != nil {
		return nil, err
	}
	if a.mainOutput, err = pickMain(cfg.ID, "output", cfg.MainOutputID, cfg.Outputs); err != nil {
		return nil, err
	}
	if cfg.ExecutionCondition != "" {
		if a.execCond, err = condition.Parse(cfg.ExecutionCondition); err != nil {
			return nil, errs.ConfigWrap(cfg.ID, err, "execution condition")
		}
	}
	for _, id := range cfg.IgnoreFilterInputs {
		a.ignore[id] = true
	}
	if cfg.Chain == nil {
		return nil, errs.Config(cfg.ID, "missing transformer chain")
	}
	if cfg.Chain.Empty() && len(cfg.Outputs) > 1 {
		return nil, errs.Config(cfg.ID, "multiple outputs require a transformer chain")
	}
	if cfg.Compute == nil {
		return nil, errs.Config(cfg.ID, "missing compute engine")
	}
	for _, do := range append(append([]*dataobject.DataObject{}, cfg.Inputs...), cfg.Outputs...) {
		if cfg.Catalogs[do.ID] == nil {
			return nil, errs.Config(cfg.ID, "no catalog wired for data object %s", do.ID)
		}
	}
	return a, nil
}

func (a *Action) ID() string { return a.cfg.ID }

func (a *Action) State() State { return a.state }

func (a *Action) Inputs() []*dataobject.DataObject { return a.cfg.Inputs }

func (a *Action) Outputs() []*dataobject.DataObject { return a.cfg.Outputs }

func (a *Action) MainInput() *dataobject.DataObject { return a.mainInput }

func (a *Action) MainOutput() *dataobject.DataObject { return a.mainOutput }

func pickMain(actionID, side, wanted string, objs []*dataobject.DataObject) (*dataobject.DataObject, error) {
	if wanted == "" {
		if len(objs) == 1 {
			return objs[0], nil
		}
		// prefer the partitioned candidate when it is unambiguous
		var partitioned []*dataobject.DataObject
		for _, o := range objs {
			if o.IsPartitioned() {
				partitioned = append(partitioned, o)
			}
		}
		if len(partitioned) == 1 {
			return partitioned[0], nil
		}
		return nil, errs.Config(actionID, "main %s is ambiguous, set it explicitly", side)
	}
	for _, o := range objs {
		if o.ID == wanted {
			return o, nil
		}
	}
	return nil, errs.Config(actionID, "main %s %q is not among the action's %ss", side, wanted, side)
}

func (a *Action) catalogFor(do *dataobject.DataObject) catalog.Catalog {
	return a.cfg.Catalogs[do.ID]
}

func (a *Action) String() string {
	return fmt.Sprintf("action %s (%s)", a.cfg.ID, a.state)
}
