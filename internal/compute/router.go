package compute

import (
	"context"

	"strata/internal/partition"
)

// Router dispatches reads and writes by location so data objects backed by
// different stores can share one pipeline: each store-specific engine is
// mounted under the locations it serves, everything else goes to the default
// engine. Dataset-level operations always run on the default engine, so
// mounted engines must materialize datasets the default engine accepts.
type Router struct {
	def    Engine
	mounts map[string]Engine
}

func NewRouter(def Engine) *Router {
	return &Router{def: def, mounts: map[string]Engine{}}
}

// Mount routes location to eng. Mounting happens at configuration-load time;
// the map is read-only once the run starts.
func (r *Router) Mount(location string, eng Engine) {
	r.mounts[location] = eng
}

func (r *Router) engineFor(location string) Engine {
	if e, ok := r.mounts[location]; ok {
		return e
	}
	return r.def
}

func (r *Router) Read(ctx context.Context, location string, filter []partition.Values) (Dataset, error) {
	return r.engineFor(location).Read(ctx, location, filter)
}

func (r *Router) Write(ctx context.Context, ds Dataset, location string, partitionColumns []string, mode SaveMode) error {
	return r.engineFor(location).Write(ctx, ds, location, partitionColumns, mode)
}

func (r *Router) Evaluate(ctx context.Context, ds Dataset, exprs []AggExpr) (Metrics, error) {
	return r.def.Evaluate(ctx, ds, exprs)
}

func (r *Router) EvaluateByPartition(ctx context.Context, ds Dataset, groupBy []string, exprs []AggExpr) (map[string]Metrics, []partition.Values, error) {
	return r.def.EvaluateByPartition(ctx, ds, groupBy, exprs)
}

func (r *Router) Filter(ctx context.Context, ds Dataset, predicate string) (Dataset, error) {
	return r.def.Filter(ctx, ds, predicate)
}

func (r *Router) WithColumn(ctx context.Context, ds Dataset, name, expr string) (Dataset, error) {
	return r.def.WithColumn(ctx, ds, name, expr)
}
