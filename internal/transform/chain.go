package transform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"strata/internal/compute"
	"strata/internal/partition"
)

// Stage is one configured chain entry: a transformer plus its declared
// output names and per-stage options. Declaring outputs in configuration is
// what lets the output-superset invariant fail at load time instead of at
// run time.
type Stage struct {
	Transformer Transformer
	Outputs     []string
	Options     Options
	// KeyMap optionally renames partition keys for this stage
	// (input key → output key), composed with any mapping the transformer
	// itself declares.
	KeyMap map[string]string
}

// Chain is the ordered transformer pipeline of one action.
type Chain struct {
	stages          []Stage
	declaredOutputs []string
}

// NewChain validates at configuration time that the union of stage outputs
// covers every declared action output.
func NewChain(stages []Stage, declaredOutputs []string) (*Chain, error) {
	produced := map[string]bool{}
	for _, s := range stages {
		if s.Transformer == nil {
			return nil, fmt.Errorf("chain stage without transformer")
		}
		if len(s.Outputs) == 0 {
			return nil, fmt.Errorf("transformer %q declares no outputs", s.Transformer.Name())
		}
		for _, o := range s.Outputs {
			produced[o] = true
		}
	}
	var missing []string
	for _, o := range declaredOutputs {
		if !produced[o] && len(stages) > 0 {
			missing = append(missing, o)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("transformer chain does not produce declared outputs: %s", strings.Join(missing, ","))
	}
	return &Chain{stages: stages, declaredOutputs: declaredOutputs}, nil
}

func (c *Chain) Empty() bool { return len(c.stages) == 0 }

// Apply runs the chain. Transformer i+1 sees the union of the original
// inputs and everything produced by stages 1..i, so later stages can pick up
// intermediate results by name. Only declared action outputs are returned;
// other names are discardable intermediates.
func (c *Chain) Apply(ctx context.Context, eng compute.Engine, inputs map[string]compute.Dataset, runOpts Options) (map[string]compute.Dataset, error) {
	available := make(map[string]compute.Dataset, len(inputs))
	for k, v := range inputs {
		available[k] = v
	}
	for _, s := range c.stages {
		out, err := s.Transformer.Transform(ctx, eng, available, s.Options.Merge(runOpts))
		if err != nil {
			return nil, fmt.Errorf("transformer %q: %w", s.Transformer.Name(), err)
		}
		for _, name := range s.Outputs {
			if _, ok := out[name]; !ok {
				return nil, fmt.Errorf("transformer %q did not produce declared output %q", s.Transformer.Name(), name)
			}
		}
		for name, ds := range out {
			available[name] = ds
		}
	}
	result := make(map[string]compute.Dataset, len(c.declaredOutputs))
	for _, name := range c.declaredOutputs {
		ds, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("chain produced no dataset for output %q", name)
		}
		result[name] = ds
	}
	return result, nil
}

// PartitionMapping composes the per-stage partition-value mappings left to
// right. Stages without a mapping contribute identity.
func (c *Chain) PartitionMapping() partition.Mapping {
	var ms []partition.Mapping
	for _, s := range c.stages {
		if pm, ok := s.Transformer.(PartitionMapper); ok {
			if m := pm.PartitionMapping(s.Options); m != nil {
				ms = append(ms, m)
			}
		}
		if len(s.KeyMap) > 0 {
			ms = append(ms, keyRename(s.KeyMap))
		}
	}
	if len(ms) == 0 {
		return nil
	}
	return partition.Compose(ms...)
}

func keyRename(keyMap map[string]string) partition.Mapping {
	return func(pv partition.Values) partition.Values {
		out := partition.Values{}
		for k, v := range pv {
			if nk, ok := keyMap[k]; ok {
				out[nk] = v
			} else {
				out[k] = v
			}
		}
		return out
	}
}
