package action

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"strata/internal/compute"
	"strata/internal/dataobject"
	"strata/internal/errs"
	"strata/internal/execmode"
	"strata/internal/expectation"
	"strata/internal/logging"
	"strata/internal/partition"
	"strata/internal/subfeed"
	"strata/internal/telemetry"
)

// PhaseResult is what init/exec hand back to the orchestrator.
type PhaseResult struct {
	Signal  Signal
	Outputs []*subfeed.SubFeed
}

// PreInit evaluates the execution condition against the design-time input
// state. A Skip signal means: no processing occurred, do not fail the run,
// propagate skip downstream.
func (a *Action) PreInit(ctx context.Context, ins, outs []*subfeed.SubFeed) (Signal, error) {
	if err := a.checkInputs(ins); err != nil {
		return Proceed, err
	}
	return a.checkCondition(ins)
}

// Init is the dry run: it invokes the execution mode and the transformer
// chain against schema/partition metadata, with no physical writes, and
// returns the output subfeeds exec would produce.
func (a *Action) Init(ctx context.Context, ins []*subfeed.SubFeed) (*PhaseResult, error) {
	if err := a.checkInputs(ins); err != nil {
		return nil, err
	}
	res, err := a.run(ctx, ins, true)
	if err != nil {
		return nil, err
	}
	a.state = Initialized
	return res, nil
}

// PreExec re-checks the execution condition against the real input state,
// which may differ from init time.
func (a *Action) PreExec(ctx context.Context, ins []*subfeed.SubFeed) (Signal, error) {
	if err := a.checkInputs(ins); err != nil {
		return Proceed, err
	}
	return a.checkCondition(ins)
}

// Exec is the real run: execution mode, transformer chain, writes,
// expectation/constraint validation, output subfeeds.
func (a *Action) Exec(ctx context.Context, ins []*subfeed.SubFeed) (*PhaseResult, error) {
	if err := a.checkInputs(ins); err != nil {
		return nil, err
	}
	res, err := a.run(ctx, ins, false)
	if err != nil {
		return nil, err
	}
	a.state = Executed
	return res, nil
}

// PostExec is the side-effect hook after exec: idempotent, and it must
// tolerate partial or skipped outcomes without failing.
func (a *Action) PostExec(ctx context.Context, ins, outs []*subfeed.SubFeed) error {
	defer func() { a.state = Completed }()

	processed := false
	for _, o := range outs {
		if o != nil && !o.IsSkipped {
			processed = true
			break
		}
	}
	pe, ok := a.cfg.Mode.(execmode.PostExecer)
	if !ok || !processed {
		return nil
	}
	mainPVs := a.mainInputPVs(ins)
	return pe.PostExec(ctx, a.modeInput(mainPVs))
}

// Reset clears cached execution-mode state between independent invocations
// within the same process.
func (a *Action) Reset() {
	a.state = Created
	if a.cfg.StateCell != nil {
		a.cfg.StateCell.Reset()
	}
}

/*──────── shared logic path ───────*/

func (a *Action) checkInputs(ins []*subfeed.SubFeed) error {
	known := map[string]bool{}
	for _, do := range a.cfg.Inputs {
		known[do.ID] = true
	}
	for _, do := range a.cfg.RecursiveInputs {
		known[do.ID] = true
	}
	seen := map[string]bool{}
	for _, in := range ins {
		if !known[in.DataObjectID] {
			return errs.Config(a.cfg.ID, "subfeed for %s does not match any declared input", in.DataObjectID)
		}
		seen[in.DataObjectID] = true
	}
	for _, do := range a.cfg.Inputs {
		if !seen[do.ID] {
			return errs.Config(a.cfg.ID, "missing subfeed for input %s", do.ID)
		}
	}
	return nil
}

func (a *Action) anySkipped(ins []*subfeed.SubFeed) bool {
	for _, in := range ins {
		if in.IsSkipped && !a.ignore[in.DataObjectID] {
			return true
		}
	}
	return false
}

func (a *Action) checkCondition(ins []*subfeed.SubFeed) (Signal, error) {
	if a.execCond == nil {
		if a.anySkipped(ins) {
			return Skip, nil
		}
		return Proceed, nil
	}
	entries := map[string]cty.Value{}
	for _, in := range ins {
		entries[in.DataObjectID] = cty.ObjectVal(map[string]cty.Value{
			"isSkipped":  cty.BoolVal(in.IsSkipped),
			"partitions": cty.NumberIntVal(int64(len(in.PartitionValues))),
		})
	}
	ok, err := a.execCond.EvalBool(map[string]cty.Value{"inputs": cty.ObjectVal(entries)})
	if err != nil {
		return Proceed, errs.ConfigWrap(a.cfg.ID, err, "execution condition")
	}
	if !ok {
		return Skip, nil
	}
	return Proceed, nil
}

func (a *Action) mainInputPVs(ins []*subfeed.SubFeed) []partition.Values {
	for _, in := range ins {
		if in.DataObjectID == a.mainInput.ID {
			return in.PartitionValues
		}
	}
	return nil
}

func (a *Action) modeInput(mainPVs []partition.Values) execmode.Input {
	return execmode.Input{
		ActionID:             a.cfg.ID,
		MainInput:            a.mainInput,
		MainOutput:           a.mainOutput,
		InputPartitionValues: mainPVs,
		Mapping:              a.cfg.Chain.PartitionMapping(),
		InputCatalog:         a.catalogFor(a.mainInput),
		OutputCatalog:        a.catalogFor(a.mainOutput),
		State:                a.cfg.StateCell,
	}
}

// run is the single logic path shared by init (dry=true) and exec.
func (a *Action) run(ctx context.Context, ins []*subfeed.SubFeed, dry bool) (*PhaseResult, error) {
	// 1. resolve partition specs per input, failing fast on unknown keys
	resolved := map[string][]partition.Values{}
	for _, in := range ins {
		do, err := a.inputObject(in.DataObjectID)
		if err != nil {
			return nil, err
		}
		pvs, err := a.resolvePVs(ctx, do, in.PartitionValues)
		if err != nil {
			return nil, err
		}
		resolved[do.ID] = pvs
	}

	// 2. execution mode
	modeRes, err := a.applyMode(ctx, resolved[a.mainInput.ID])
	if err != nil {
		return nil, err
	}
	mapping := a.cfg.Chain.PartitionMapping()
	if modeRes.Outcome == execmode.NoData {
		return &PhaseResult{Signal: NoData, Outputs: a.skippedOutputs(mapping, resolved[a.mainInput.ID])}, nil
	}
	processedPVs := modeRes.PartitionValues
	if !dry {
		telemetry.PartitionsProcessed.Add(float64(len(processedPVs)))
	}

	// 3. read inputs. An upstream subfeed may carry the in-flight dataset;
	// that handle is authoritative and saves the physical read, which during
	// init may not even be possible yet. Recursive inputs are only present
	// after their first successful write and are otherwise simply absent
	// from the chain's named inputs.
	handles := map[string]compute.Dataset{}
	for _, in := range ins {
		if in.DataHandle != nil {
			handles[in.DataObjectID] = in.DataHandle
		}
	}
	named := map[string]compute.Dataset{}
	for _, do := range a.cfg.Inputs {
		if ds, ok := handles[do.ID]; ok {
			named[do.ID] = ds
			continue
		}
		ds, err := a.cfg.Compute.Read(ctx, do.Location, inputFilter(do, processedPVs, resolved[do.ID]))
		if err != nil {
			return nil, errs.ConfigWrap(a.cfg.ID, err, "reading input %s", do.ID)
		}
		named[do.ID] = ds
	}
	for _, do := range a.cfg.RecursiveInputs {
		ds, err := a.cfg.Compute.Read(ctx, do.Location, nil)
		if err != nil {
			logging.L().Debug("recursive input not yet written", "action", a.cfg.ID, "dataObject", do.ID)
			continue
		}
		named[do.ID] = ds
	}

	// 4. transformer chain (or main-input passthrough)
	var outputs map[string]compute.Dataset
	if a.cfg.Chain.Empty() {
		outputs = map[string]compute.Dataset{a.cfg.Outputs[0].ID: named[a.mainInput.ID]}
	} else {
		outputs, err = a.cfg.Chain.Apply(ctx, a.cfg.Compute, named, modeRes.Options)
		if err != nil {
			return nil, errs.ConfigWrap(a.cfg.ID, err, "transformer chain")
		}
	}

	// 5. output partition values via the composed remapping
	outPVs := partition.Apply(mapping, processedPVs)

	skipped := a.anySkipped(ins)
	result := &PhaseResult{Signal: Proceed}
	for _, do := range a.cfg.Outputs {
		pvs := projectPVs(outPVs, do.PartitionColumns)
		ds := outputs[do.ID]
		if !dry {
			if err := a.writeAndValidate(ctx, do, ds, pvs); err != nil {
				return nil, err
			}
		}
		sf := subfeed.New(do.ID, pvs).WithDataHandle(ds)
		if skipped {
			sf = sf.Skipped()
		}
		result.Outputs = append(result.Outputs, sf)
	}
	return result, nil
}

func (a *Action) inputObject(id string) (*dataobject.DataObject, error) {
	for _, do := range a.cfg.Inputs {
		if do.ID == id {
			return do, nil
		}
	}
	for _, do := range a.cfg.RecursiveInputs {
		if do.ID == id {
			return do, nil
		}
	}
	return nil, errs.Config(a.cfg.ID, "unknown input %s", id)
}

func (a *Action) applyMode(ctx context.Context, mainPVs []partition.Values) (execmode.Result, error) {
	if a.cfg.Mode == nil {
		return execmode.Result{Outcome: execmode.Process, PartitionValues: mainPVs}, nil
	}
	return a.cfg.Mode.Apply(ctx, a.modeInput(mainPVs))
}

// resolvePVs turns partial partition specs into the matching concrete
// partitions. Referencing an undeclared partition key fails fast; leaving a
// declared key unspecified is fine.
func (a *Action) resolvePVs(ctx context.Context, do *dataobject.DataObject, pvs []partition.Values) ([]partition.Values, error) {
	if len(pvs) == 0 {
		return nil, nil
	}
	if err := partition.ValidateKeys(pvs, do.PartitionColumns); err != nil {
		return nil, errs.ConfigWrap(a.cfg.ID, err, "input %s", do.ID)
	}
	partial := false
	for _, pv := range pvs {
		if partition.IsPartial(pv, do.PartitionColumns) {
			partial = true
			break
		}
	}
	if !partial {
		return pvs, nil
	}
	concrete, err := a.catalogFor(do).ListPartitions(ctx, do.Location, do.PartitionColumns)
	if err != nil {
		return nil, errs.ConfigWrap(a.cfg.ID, err, "listing partitions of %s", do.ID)
	}
	var out []partition.Values
	for _, pv := range pvs {
		if !partition.IsPartial(pv, do.PartitionColumns) {
			out = append(out, pv)
			continue
		}
		for _, c := range concrete {
			if pv.IsIncludedIn(c) {
				out = append(out, c)
			}
		}
	}
	return partition.Dedup(out), nil
}

func (a *Action) skippedOutputs(mapping partition.Mapping, mainPVs []partition.Values) []*subfeed.SubFeed {
	outPVs := partition.Apply(mapping, mainPVs)
	var outs []*subfeed.SubFeed
	for _, do := range a.cfg.Outputs {
		outs = append(outs, subfeed.New(do.ID, projectPVs(outPVs, do.PartitionColumns)).Skipped())
	}
	return outs
}

func (a *Action) writeAndValidate(ctx context.Context, do *dataobject.DataObject, ds compute.Dataset, pvs []partition.Values) error {
	if ds == nil {
		return errs.Config(a.cfg.ID, "no dataset produced for output %s", do.ID)
	}
	if do.IsPartitioned() && len(pvs) == 0 && !do.AllowOverwriteAll {
		return errs.Processing(a.cfg.ID,
			"unpartitioned overwrite of partitioned %s is not allowed; set allow_overwrite_all if intended", do.ID)
	}
	if err := a.cfg.Compute.Write(ctx, ds, do.Location, do.PartitionColumns, compute.Overwrite); err != nil {
		return fmt.Errorf("action %s: writing output %s: %w", a.cfg.ID, do.ID, err)
	}

	q, hasQuality := a.cfg.Quality[do.ID]
	if !hasQuality || a.cfg.Validator == nil {
		return nil
	}
	metrics, err := a.cfg.Validator.Validate(ctx, expectation.Input{
		ActionID:            a.cfg.ID,
		DataObjectID:        do.ID,
		Dataset:             ds,
		Location:            do.Location,
		PartitionColumns:    do.PartitionColumns,
		ProcessedPartitions: pvs,
		Expectations:        q.Expectations,
		Constraints:         q.Constraints,
	})
	if metrics != nil {
		logging.L().Info("data quality metrics", "action", a.cfg.ID, "dataObject", do.ID, "metrics", metrics)
	}
	return err
}

// inputFilter restricts a read to the processed partitions when the input
// shares those partition columns, otherwise to the subfeed's own values.
func inputFilter(do *dataobject.DataObject, processedPVs, ownPVs []partition.Values) []partition.Values {
	if filtered := projectPVs(processedPVs, do.PartitionColumns); len(filtered) > 0 {
		return filtered
	}
	return ownPVs
}

// projectPVs restricts tuples to cols, dropping tuples that end up empty.
func projectPVs(pvs []partition.Values, cols []string) []partition.Values {
	var out []partition.Values
	for _, pv := range pvs {
		p := pv.Filter(cols)
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return partition.Dedup(out)
}
