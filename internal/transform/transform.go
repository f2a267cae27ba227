// Package transform defines the named-dataset-to-named-dataset transformation
// step and the chain that composes them. Custom transformers are resolved
// through a typed registry keyed by a stable string, populated at process
// start; the chain only ever calls through the interface.
package transform

import (
	"context"
	"fmt"

	"strata/internal/compute"
	"strata/internal/partition"
)

// Options is the free-form key/value side channel handed to every
// transformer; execution modes merge their own signals into it.
type Options map[string]string

// Clone returns an independent copy, never nil.
func (o Options) Clone() Options {
	c := make(Options, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Merge overlays other onto a copy of o.
func (o Options) Merge(other Options) Options {
	c := o.Clone()
	for k, v := range other {
		c[k] = v
	}
	return c
}

// Transformer maps named input datasets to named output datasets. Row-level
// work is delegated to the compute collaborator; the transformer itself only
// orchestrates.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, eng compute.Engine, inputs map[string]compute.Dataset, opts Options) (map[string]compute.Dataset, error)
}

// PartitionMapper is implemented by transformers that change partition
// granularity or keys; a nil mapping means identity.
type PartitionMapper interface {
	PartitionMapping(opts Options) partition.Mapping
}

/*──────── registry ───────*/

type Factory func(name string, opts Options) (Transformer, error)

var reg = map[string]Factory{}

func Register(kind string, f Factory) { reg[kind] = f }

func New(kind, name string, opts Options) (Transformer, error) {
	if f, ok := reg[kind]; ok {
		return f(name, opts)
	}
	return nil, fmt.Errorf("unknown transformer type %q", kind)
}
