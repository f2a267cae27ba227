package expectation

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"strata/internal/compute"
	"strata/internal/condition"
)

// Agg is the generic aggregate-expression check: one aggregate column,
// compared against a condition over the variable `value`.
type Agg struct {
	name        string
	description string
	scope       Scope
	severity    Severity
	agg         compute.AggExpr
	cond        *condition.Expr
}

func NewAgg(name, description string, scope Scope, severity Severity, agg compute.AggExpr, cond string) (*Agg, error) {
	expr, err := condition.Parse(cond)
	if err != nil {
		return nil, fmt.Errorf("expectation %q: %w", name, err)
	}
	agg.Name = name
	return &Agg{name: name, description: description, scope: scope, severity: severity, agg: agg, cond: expr}, nil
}

func (e *Agg) Name() string        { return e.name }
func (e *Agg) Description() string { return e.description }
func (e *Agg) Scope() Scope        { return e.scope }
func (e *Agg) Severity() Severity  { return e.severity }

func (e *Agg) AggColumns() ([]compute.AggExpr, error) {
	return []compute.AggExpr{e.agg}, nil
}

func (e *Agg) Validate(vctx Context, metrics compute.Metrics) []Failure {
	var failures []Failure
	for _, key := range metricKeys(metrics, e.name) {
		if f, failed := checkCondition(e.name, key, metrics[key], e.cond, e.severity); failed {
			failures = append(failures, f)
		}
	}
	return failures
}

// NewCount is a row-count check: count of rows (optionally filtered)
// compared against cond.
func NewCount(name, description string, scope Scope, severity Severity, filter, cond string) (*Agg, error) {
	return NewAgg(name, description, scope, severity, compute.AggExpr{Func: compute.Count, Filter: filter}, cond)
}

// Fraction checks the ratio of rows matching countCondition to a total
// (optionally restricted by globalCondition). The total rides along as a
// structured synthetic aggregate and is stripped from reported metrics after
// validation; only the computed fraction stays, under the expectation name.
type Fraction struct {
	name            string
	description     string
	scope           Scope
	severity        Severity
	countCondition  string
	globalCondition string
	cond            *condition.Expr
}

func NewFraction(name, description string, scope Scope, severity Severity, countCondition, globalCondition, cond string) (*Fraction, error) {
	if countCondition == "" {
		return nil, fmt.Errorf("expectation %q: count condition is required", name)
	}
	expr, err := condition.Parse(cond)
	if err != nil {
		return nil, fmt.Errorf("expectation %q: %w", name, err)
	}
	return &Fraction{
		name: name, description: description, scope: scope, severity: severity,
		countCondition: countCondition, globalCondition: globalCondition, cond: expr,
	}, nil
}

func (e *Fraction) Name() string        { return e.name }
func (e *Fraction) Description() string { return e.description }
func (e *Fraction) Scope() Scope        { return e.scope }
func (e *Fraction) Severity() Severity  { return e.severity }

func (e *Fraction) totalName() string { return e.name + Delimiter + "total" }

func (e *Fraction) AggColumns() ([]compute.AggExpr, error) {
	return []compute.AggExpr{
		{Name: e.name, Func: compute.Count, Filter: e.countCondition},
		{Name: e.totalName(), Func: compute.Count, Filter: e.globalCondition, Synthetic: true},
	}, nil
}

func (e *Fraction) Validate(vctx Context, metrics compute.Metrics) []Failure {
	var failures []Failure
	for _, key := range metricKeys(metrics, e.name, e.totalName()) {
		totalKey := e.totalName() + key[len(e.name):]
		num, okN := metricFloat(metrics[key])
		tot, okT := metricFloat(metrics[totalKey])
		if !okN || !okT || tot == 0 {
			// zero rows: the fraction is explicitly undefined, never a
			// division fault
			metrics[key] = compute.Undefined
			continue
		}
		frac := num / tot
		metrics[key] = frac
		if f, failed := checkCondition(e.name, key, frac, e.cond, e.severity); failed {
			failures = append(failures, f)
		}
	}
	return failures
}

// AvgPartitionRows checks the average row count per processed partition.
// The average only makes sense for the partitions this run touched, so the
// scope is fixed to Job.
type AvgPartitionRows struct {
	name        string
	description string
	severity    Severity
	cond        *condition.Expr
}

func NewAvgPartitionRows(name, description string, severity Severity, cond string) (*AvgPartitionRows, error) {
	expr, err := condition.Parse(cond)
	if err != nil {
		return nil, fmt.Errorf("expectation %q: %w", name, err)
	}
	return &AvgPartitionRows{name: name, description: description, severity: severity, cond: expr}, nil
}

func (e *AvgPartitionRows) Name() string        { return e.name }
func (e *AvgPartitionRows) Description() string { return e.description }
func (e *AvgPartitionRows) Scope() Scope        { return ScopeJob }
func (e *AvgPartitionRows) Severity() Severity  { return e.severity }

func (e *AvgPartitionRows) AggColumns() ([]compute.AggExpr, error) {
	return []compute.AggExpr{{Name: e.name, Func: compute.Count}}, nil
}

func (e *AvgPartitionRows) Validate(vctx Context, metrics compute.Metrics) []Failure {
	cnt, ok := metricFloat(metrics[e.name])
	if !ok {
		return nil
	}
	if vctx.ProcessedPartitions == 0 {
		metrics[e.name] = compute.Undefined
		return nil
	}
	avg := cnt / float64(vctx.ProcessedPartitions)
	metrics[e.name] = avg
	if f, failed := checkCondition(e.name, e.name, avg, e.cond, e.severity); failed {
		return []Failure{f}
	}
	return nil
}

func checkCondition(name, key string, value any, cond *condition.Expr, severity Severity) (Failure, bool) {
	if _, undefined := value.(compute.UndefinedValue); undefined {
		return Failure{}, false
	}
	ok, err := cond.EvalBool(map[string]cty.Value{"value": condition.ToCty(value)})
	if err != nil {
		return Failure{Name: name, Severity: severity, Message: fmt.Sprintf("Expectation '%s': %v", name, err)}, true
	}
	if ok {
		return Failure{}, false
	}
	return Failure{Name: name, Severity: severity, Message: failureMessage(name, key, value, cond.String())}, true
}

func metricFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}
