// Package compute declares the narrow contract the orchestration core has
// with the tabular compute collaborator. The core never inspects dataset
// content; it hands datasets around, asks for aggregate metrics, and
// reads/writes through this interface.
package compute

import (
	"context"
	"fmt"

	"strata/internal/partition"
)

// Dataset is an opaque in-flight dataset handle.
type Dataset interface {
	// Columns returns the schema as an ordered column list.
	Columns() []string
	// PartitionProjection returns the distinct partition-value tuples
	// present in the dataset, projected onto cols.
	PartitionProjection(cols []string) ([]partition.Values, error)
}

// AggFunc enumerates the aggregate functions metric expressions may use.
type AggFunc string

const (
	Count AggFunc = "count"
	Sum   AggFunc = "sum"
	Avg   AggFunc = "avg"
	Min   AggFunc = "min"
	Max   AggFunc = "max"
)

// AggExpr is one aggregate-expression column evaluated against a dataset.
type AggExpr struct {
	// Name keys the resulting metric.
	Name string
	Func AggFunc
	// Column the aggregate runs over; empty means count of rows.
	Column string
	// Filter optionally restricts the rows, as a boolean HCL expression
	// over column values.
	Filter string
	// Synthetic marks helper aggregates (e.g. a fraction's total) that are
	// stripped from the reported metrics after validation.
	Synthetic bool
}

// Metrics maps metric name (optionally "name#partition") to its value.
type Metrics map[string]any

// Merge copies other into m, overwriting on key collision.
func (m Metrics) Merge(other Metrics) {
	for k, v := range other {
		m[k] = v
	}
}

// UndefinedValue is the explicit marker for metrics that cannot be computed
// (e.g. a fraction over zero rows).
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// Undefined is the single marker instance stored in Metrics.
var Undefined = UndefinedValue{}

// SaveMode controls write semantics.
type SaveMode string

const (
	Overwrite SaveMode = "overwrite"
	Append    SaveMode = "append"
)

// Engine is the compute collaborator.
type Engine interface {
	// Evaluate computes exprs over ds in one pass.
	Evaluate(ctx context.Context, ds Dataset, exprs []AggExpr) (Metrics, error)
	// EvaluateByPartition computes exprs per distinct tuple of groupBy,
	// returning one Metrics per tuple.
	EvaluateByPartition(ctx context.Context, ds Dataset, groupBy []string, exprs []AggExpr) (map[string]Metrics, []partition.Values, error)
	// Read materializes a dataset from location, optionally restricted to
	// the given partition tuples.
	Read(ctx context.Context, location string, filter []partition.Values) (Dataset, error)
	// Write persists ds at location. The read-back step for table-scope
	// expectations blocks on the engine's own materialization; no timeout
	// is applied here.
	Write(ctx context.Context, ds Dataset, location string, partitionColumns []string, mode SaveMode) error
	// Filter returns the rows of ds satisfying a boolean expression over
	// column values.
	Filter(ctx context.Context, ds Dataset, predicate string) (Dataset, error)
	// WithColumn returns ds extended by a computed column.
	WithColumn(ctx context.Context, ds Dataset, name, expr string) (Dataset, error)
}

/*──────── registry ───────*/

type Factory func() (Engine, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) { reg[name] = f }

func Open(name string) (Engine, error) {
	if f, ok := reg[name]; ok {
		return f()
	}
	return nil, fmt.Errorf("unknown compute driver %q", name)
}
