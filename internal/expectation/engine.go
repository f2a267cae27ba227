package expectation

import (
	"context"
	"strconv"
	"strings"

	"strata/internal/compute"
	"strata/internal/errs"
	"strata/internal/logging"
	"strata/internal/partition"
	"strata/internal/telemetry"
)

// Engine evaluates constraints and expectations at the end of exec, before a
// commit is considered final.
type Engine struct {
	Compute compute.Engine
}

// Input is everything one validation pass needs.
type Input struct {
	ActionID     string
	DataObjectID string
	// Dataset is the in-flight output; Job-scope aggregates execute on it
	// in the same pass as the main write, at no extra read cost.
	Dataset  compute.Dataset
	Location string
	// PartitionColumns of the output object; required for JobPartition
	// scope.
	PartitionColumns []string
	// ProcessedPartitions restricts the JobPartition read-back.
	ProcessedPartitions []partition.Values
	Expectations        []Expectation
	Constraints         []Constraint
}

// Validate computes all metrics, checks every constraint and expectation,
// and only then fails: Error-severity failures aggregate into one validation
// error, Warn failures are logged. The returned metrics are the externally
// reported ones, with synthetic helper metrics stripped.
func (e *Engine) Validate(ctx context.Context, in Input) (compute.Metrics, error) {
	metrics := compute.Metrics{}

	// 1. Job scope plus constraints: same pass as the main write.
	jobExprs, err := e.jobExprs(in)
	if err != nil {
		return nil, err
	}
	if len(jobExprs) > 0 {
		m, err := e.Compute.Evaluate(ctx, in.Dataset, jobExprs)
		if err != nil {
			return nil, errs.ConfigWrap(in.ActionID, err, "evaluating job-scope metrics for %s", in.DataObjectID)
		}
		metrics.Merge(m)
	}

	// 2. Read-back for JobPartition / All scope.
	if err := e.readBack(ctx, in, metrics); err != nil {
		return nil, err
	}

	// 3. Judge everything, fail late.
	var errorMsgs []string
	for _, c := range in.Constraints {
		key := "constraint" + Delimiter + c.Name
		if n, ok := metricFloat(metrics[key]); ok && n > 0 {
			telemetry.ExpectationFailures.WithLabelValues("error").Inc()
			errorMsgs = append(errorMsgs,
				"Constraint '"+c.Name+"' failed on "+formatCount(n)+" rows: "+c.Expression)
		}
	}
	vctx := Context{ProcessedPartitions: len(in.ProcessedPartitions)}
	for _, exp := range in.Expectations {
		for _, f := range exp.Validate(vctx, metrics) {
			switch f.Severity {
			case SeverityWarn:
				telemetry.ExpectationFailures.WithLabelValues("warn").Inc()
				logging.L().Warn(f.Message, "action", in.ActionID, "dataObject", in.DataObjectID)
			default:
				telemetry.ExpectationFailures.WithLabelValues("error").Inc()
				errorMsgs = append(errorMsgs, f.Message)
			}
		}
	}

	e.stripSynthetic(in, metrics)

	if len(errorMsgs) > 0 {
		return metrics, errs.Validation(in.DataObjectID, errorMsgs)
	}
	return metrics, nil
}

// jobExprs collects the single-pass aggregates: every constraint's violation
// counter plus the columns of Job-scope expectations.
func (e *Engine) jobExprs(in Input) ([]compute.AggExpr, error) {
	var exprs []compute.AggExpr
	for _, c := range in.Constraints {
		exprs = append(exprs, c.violationExpr())
	}
	for _, exp := range in.Expectations {
		if exp.Scope() != ScopeJob {
			continue
		}
		cols, err := exp.AggColumns()
		if err != nil {
			return nil, errs.ConfigWrap(in.ActionID, err, "expectation %q", exp.Name())
		}
		exprs = append(exprs, cols...)
	}
	return exprs, nil
}

// readBack issues the separate read of the just-written output that
// JobPartition and All scope need. It blocks until the compute collaborator
// materializes results.
func (e *Engine) readBack(ctx context.Context, in Input, metrics compute.Metrics) error {
	var partExprs, allExprs []compute.AggExpr
	for _, exp := range in.Expectations {
		cols, err := exp.AggColumns()
		if err != nil {
			return errs.ConfigWrap(in.ActionID, err, "expectation %q", exp.Name())
		}
		switch exp.Scope() {
		case ScopeJobPartition:
			if len(in.PartitionColumns) == 0 {
				return errs.Config(in.ActionID, "expectation %q has JobPartition scope but %s is not partitioned", exp.Name(), in.DataObjectID)
			}
			partExprs = append(partExprs, cols...)
		case ScopeAll:
			allExprs = append(allExprs, cols...)
		}
	}

	if len(partExprs) > 0 {
		ds, err := e.Compute.Read(ctx, in.Location, in.ProcessedPartitions)
		if err != nil {
			return errs.ConfigWrap(in.ActionID, err, "read back %s", in.DataObjectID)
		}
		grouped, pvs, err := e.Compute.EvaluateByPartition(ctx, ds, in.PartitionColumns, partExprs)
		if err != nil {
			return errs.ConfigWrap(in.ActionID, err, "evaluating partition metrics for %s", in.DataObjectID)
		}
		for _, pv := range pvs {
			suffix := Delimiter + pv.Format(in.PartitionColumns)
			for name, v := range grouped[pv.Format(in.PartitionColumns)] {
				metrics[name+suffix] = v
			}
		}
	}

	if len(allExprs) > 0 {
		ds, err := e.Compute.Read(ctx, in.Location, nil)
		if err != nil {
			return errs.ConfigWrap(in.ActionID, err, "read back %s", in.DataObjectID)
		}
		m, err := e.Compute.Evaluate(ctx, ds, allExprs)
		if err != nil {
			return errs.ConfigWrap(in.ActionID, err, "evaluating table metrics for %s", in.DataObjectID)
		}
		metrics.Merge(m)
	}
	return nil
}

// stripSynthetic drops helper metrics (constraint counters, fraction totals)
// from the reported map, including their partition-suffixed variants.
func (e *Engine) stripSynthetic(in Input, metrics compute.Metrics) {
	var bases []string
	for _, c := range in.Constraints {
		bases = append(bases, "constraint"+Delimiter+c.Name)
	}
	for _, exp := range in.Expectations {
		cols, err := exp.AggColumns()
		if err != nil {
			continue
		}
		for _, col := range cols {
			if col.Synthetic {
				bases = append(bases, col.Name)
			}
		}
	}
	for _, base := range bases {
		delete(metrics, base)
		prefix := base + Delimiter
		for k := range metrics {
			if strings.HasPrefix(k, prefix) {
				delete(metrics, k)
			}
		}
	}
}

func formatCount(n float64) string {
	return strconv.FormatInt(int64(n), 10)
}
