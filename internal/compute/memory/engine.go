// Package memory is the in-process reference implementation of the compute
// collaborator. It backs tests and small local runs; production deployments
// plug a real engine behind the same interface.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"strata/internal/compute"
	"strata/internal/condition"
	"strata/internal/partition"
)

// Table is a materialized dataset: ordered columns plus rows.
type Table struct {
	Cols []string
	Rows []map[string]any
}

func NewTable(cols []string, rows []map[string]any) *Table {
	return &Table{Cols: cols, Rows: rows}
}

func (t *Table) Columns() []string { return append([]string(nil), t.Cols...) }

func (t *Table) PartitionProjection(cols []string) ([]partition.Values, error) {
	var pvs []partition.Values
	for _, row := range t.Rows {
		pv := partition.Values{}
		for _, c := range cols {
			v, ok := row[c]
			if !ok {
				return nil, fmt.Errorf("partition column %q missing from dataset", c)
			}
			pv[c] = fmt.Sprint(v)
		}
		pvs = append(pvs, pv)
	}
	return partition.Dedup(pvs), nil
}

// matches reports whether the row belongs to any of the given tuples; an
// empty filter matches everything.
func matches(row map[string]any, filter []partition.Values) bool {
	if len(filter) == 0 {
		return true
	}
	for _, pv := range filter {
		ok := true
		for k, want := range pv {
			if fmt.Sprint(row[k]) != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// Engine stores tables by location. Safe for concurrent use across actions.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewEngine() *Engine {
	return &Engine{tables: map[string]*Table{}}
}

func init() {
	compute.Register("memory", func() (compute.Engine, error) { return NewEngine(), nil })
}

// Put seeds a table, typically from test setup or an ingest step.
func (e *Engine) Put(location string, t *Table) {
	e.mu.Lock()
	e.tables[location] = t
	e.mu.Unlock()
}

// Get returns the stored table, or nil.
func (e *Engine) Get(location string) *Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tables[location]
}

func (e *Engine) Read(ctx context.Context, location string, filter []partition.Values) (compute.Dataset, error) {
	e.mu.RLock()
	t, ok := e.tables[location]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("read %s: no such location", location)
	}
	if len(filter) == 0 {
		return NewTable(t.Cols, append([]map[string]any(nil), t.Rows...)), nil
	}
	var rows []map[string]any
	for _, row := range t.Rows {
		if matches(row, filter) {
			rows = append(rows, row)
		}
	}
	return NewTable(t.Cols, rows), nil
}

func (e *Engine) Write(ctx context.Context, ds compute.Dataset, location string, partitionColumns []string, mode compute.SaveMode) error {
	src, ok := ds.(*Table)
	if !ok {
		return fmt.Errorf("write %s: expected *memory.Table, got %T", location, ds)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.tables[location]
	switch {
	case mode == compute.Append && cur != nil:
		cur.Rows = append(cur.Rows, src.Rows...)
	case mode == compute.Overwrite && cur != nil && len(partitionColumns) > 0:
		// dynamic partition overwrite: replace only the partitions the
		// incoming dataset carries
		pvs, err := src.PartitionProjection(partitionColumns)
		if err != nil {
			return fmt.Errorf("write %s: %w", location, err)
		}
		var kept []map[string]any
		for _, row := range cur.Rows {
			if !matches(row, pvs) {
				kept = append(kept, row)
			}
		}
		cur.Rows = append(kept, src.Rows...)
	default:
		e.tables[location] = NewTable(src.Cols, append([]map[string]any(nil), src.Rows...))
	}
	return nil
}

func (e *Engine) Evaluate(ctx context.Context, ds compute.Dataset, exprs []compute.AggExpr) (compute.Metrics, error) {
	t, ok := ds.(*Table)
	if !ok {
		return nil, fmt.Errorf("evaluate: expected *memory.Table, got %T", ds)
	}
	return evaluate(t.Rows, exprs)
}

func (e *Engine) EvaluateByPartition(ctx context.Context, ds compute.Dataset, groupBy []string, exprs []compute.AggExpr) (map[string]compute.Metrics, []partition.Values, error) {
	t, ok := ds.(*Table)
	if !ok {
		return nil, nil, fmt.Errorf("evaluate: expected *memory.Table, got %T", ds)
	}
	groups := map[string][]map[string]any{}
	tuples := map[string]partition.Values{}
	for _, row := range t.Rows {
		pv := partition.Values{}
		for _, c := range groupBy {
			pv[c] = fmt.Sprint(row[c])
		}
		key := pv.Format(groupBy)
		groups[key] = append(groups[key], row)
		tuples[key] = pv
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]compute.Metrics, len(groups))
	var pvs []partition.Values
	for _, key := range keys {
		m, err := evaluate(groups[key], exprs)
		if err != nil {
			return nil, nil, err
		}
		out[key] = m
		pvs = append(pvs, tuples[key])
	}
	return out, pvs, nil
}

func evaluate(rows []map[string]any, exprs []compute.AggExpr) (compute.Metrics, error) {
	metrics := compute.Metrics{}
	for _, ex := range exprs {
		var pred *condition.Expr
		if ex.Filter != "" {
			p, err := condition.Parse(ex.Filter)
			if err != nil {
				return nil, err
			}
			pred = p
		}
		var (
			count int64
			sum   float64
			min   float64
			max   float64
			first = true
		)
		for _, row := range rows {
			if pred != nil {
				ok, err := pred.EvalBool(condition.RowVars(row))
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			if ex.Column == "" {
				count++
				continue
			}
			v, ok := row[ex.Column]
			if !ok || v == nil {
				continue
			}
			count++
			f, err := toFloat(v)
			if err != nil && ex.Func != compute.Count {
				return nil, fmt.Errorf("aggregate %s(%s): %w", ex.Func, ex.Column, err)
			}
			sum += f
			if first || f < min {
				min = f
			}
			if first || f > max {
				max = f
			}
			first = false
		}
		switch ex.Func {
		case compute.Count:
			metrics[ex.Name] = count
		case compute.Sum:
			metrics[ex.Name] = sum
		case compute.Avg:
			if count == 0 {
				metrics[ex.Name] = compute.Undefined
			} else {
				metrics[ex.Name] = sum / float64(count)
			}
		case compute.Min:
			if count == 0 {
				metrics[ex.Name] = compute.Undefined
			} else {
				metrics[ex.Name] = min
			}
		case compute.Max:
			if count == 0 {
				metrics[ex.Name] = compute.Undefined
			} else {
				metrics[ex.Name] = max
			}
		default:
			return nil, fmt.Errorf("unsupported aggregate function %q", ex.Func)
		}
	}
	return metrics, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func (e *Engine) Filter(ctx context.Context, ds compute.Dataset, predicate string) (compute.Dataset, error) {
	t, ok := ds.(*Table)
	if !ok {
		return nil, fmt.Errorf("filter: expected *memory.Table, got %T", ds)
	}
	pred, err := condition.Parse(predicate)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for _, row := range t.Rows {
		keep, err := pred.EvalBool(condition.RowVars(row))
		if err != nil {
			return nil, err
		}
		if keep {
			rows = append(rows, row)
		}
	}
	return NewTable(t.Cols, rows), nil
}

func (e *Engine) WithColumn(ctx context.Context, ds compute.Dataset, name, expr string) (compute.Dataset, error) {
	t, ok := ds.(*Table)
	if !ok {
		return nil, fmt.Errorf("with column: expected *memory.Table, got %T", ds)
	}
	ex, err := condition.Parse(expr)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		v, err := ex.Eval(condition.RowVars(row))
		if err != nil {
			return nil, err
		}
		c := make(map[string]any, len(row)+1)
		for k, val := range row {
			c[k] = val
		}
		c[name] = fromCty(v)
		rows = append(rows, c)
	}
	cols := t.Columns()
	found := false
	for _, c := range cols {
		if c == name {
			found = true
			break
		}
	}
	if !found {
		cols = append(cols, name)
	}
	return NewTable(cols, rows), nil
}

func fromCty(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Bool:
		return v.True()
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	default:
		return v.GoString()
	}
}
