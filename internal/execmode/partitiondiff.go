package execmode

import (
	"context"
	"fmt"

	"strata/internal/partition"
	"strata/internal/transform"
)

// PartitionDiff selects the input partitions whose (optionally remapped)
// tuple is missing from the main output: missing = inputPartitions −
// outputPartitions, set semantics keyed by full tuple.
type PartitionDiff struct{}

func NewPartitionDiff(transform.Options) (Mode, error) { return &PartitionDiff{}, nil }

func (m *PartitionDiff) Apply(ctx context.Context, in Input) (Result, error) {
	if in.MainInput == nil || !in.MainInput.IsPartitioned() {
		return Result{}, fmt.Errorf("action %s: partition diff requires a partitioned main input", in.ActionID)
	}
	if in.MainOutput == nil || !in.MainOutput.IsPartitioned() {
		return Result{}, fmt.Errorf("action %s: partition diff requires a partitioned main output", in.ActionID)
	}

	inPVs, err := in.InputCatalog.ListPartitions(ctx, in.MainInput.Location, in.MainInput.PartitionColumns)
	if err != nil {
		return Result{}, fmt.Errorf("action %s: list input partitions: %w", in.ActionID, err)
	}
	// An upstream subfeed may already restrict the candidate partitions.
	if len(in.InputPartitionValues) > 0 {
		var restricted []partition.Values
		for _, pv := range inPVs {
			for _, want := range in.InputPartitionValues {
				if want.IsIncludedIn(pv) {
					restricted = append(restricted, pv)
					break
				}
			}
		}
		inPVs = restricted
	}

	outPVs, err := in.OutputCatalog.ListPartitions(ctx, in.MainOutput.Location, in.MainOutput.PartitionColumns)
	if err != nil {
		return Result{}, fmt.Errorf("action %s: list output partitions: %w", in.ActionID, err)
	}

	// Diff in the output partition space so heterogeneous granularities
	// (e.g. daily input vs monthly output) compare correctly.
	outIndex := map[string]bool{}
	for _, pv := range outPVs {
		outIndex[pv.String()] = true
	}
	var missing []partition.Values
	for _, pv := range inPVs {
		mapped := pv
		if in.Mapping != nil {
			mapped = in.Mapping(pv)
		}
		if !outIndex[mapped.String()] {
			missing = append(missing, pv)
		}
	}
	missing = partition.Dedup(missing)

	if len(missing) == 0 {
		return Result{Outcome: NoData}, nil
	}
	return Result{Outcome: Process, PartitionValues: missing}, nil
}

func init() {
	Register("partition_diff", NewPartitionDiff)
}
