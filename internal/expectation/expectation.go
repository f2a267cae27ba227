// Package expectation declares and evaluates data-quality checks:
// constraints are per-row predicates (any failing row is fatal), expectations
// are aggregate-level checks evaluated at Job, JobPartition or All scope.
package expectation

import (
	"fmt"
	"sort"
	"strings"

	"strata/internal/compute"
)

type Scope string

const (
	// ScopeJob: aggregate over this run's output, computed in the same
	// pass as the main write.
	ScopeJob Scope = "Job"
	// ScopeJobPartition: aggregate over this run's output grouped by
	// partition, computed by a read-back restricted to processed
	// partitions.
	ScopeJobPartition Scope = "JobPartition"
	// ScopeAll: aggregate over the entire dataset, computed by an
	// unrestricted read-back.
	ScopeAll Scope = "All"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeJob, nil
	case ScopeJob, ScopeJobPartition, ScopeAll:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown expectation scope %q", s)
}

type Severity string

const (
	SeverityError Severity = "Error"
	SeverityWarn  Severity = "Warn"
)

func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityError, nil
	case SeverityError, SeverityWarn:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown expectation severity %q", s)
}

// Delimiter separates a metric name from its partition suffix, as in
// "rowCount#dt=2024-01-01".
const Delimiter = "#"

// Failure is one failed check.
type Failure struct {
	Name     string
	Severity Severity
	Message  string
}

// Context is the run information Validate may need beyond the metrics map.
type Context struct {
	ProcessedPartitions int
}

// Expectation produces aggregate-expression columns for evaluation and then
// judges the computed metrics. Validate may rewrite entries of metrics (a
// fraction expectation replaces its raw count with the computed ratio).
type Expectation interface {
	Name() string
	Description() string
	Scope() Scope
	Severity() Severity
	// AggColumns returns the aggregate expressions this expectation needs.
	// Synthetic entries are stripped from the reported metrics after
	// validation.
	AggColumns() ([]compute.AggExpr, error)
	Validate(vctx Context, metrics compute.Metrics) []Failure
}

// Constraint is a row-level boolean predicate; rows violating it fail the
// job regardless of scope or severity.
type Constraint struct {
	Name        string
	Description string
	// Expression must hold for every row.
	Expression string
}

// violationExpr counts the rows breaking the constraint.
func (c Constraint) violationExpr() compute.AggExpr {
	return compute.AggExpr{
		Name:      "constraint" + Delimiter + c.Name,
		Func:      compute.Count,
		Filter:    "!(" + c.Expression + ")",
		Synthetic: true,
	}
}

// metricKeys returns the keys of metrics that belong to base: the exact name
// plus any partition-suffixed variant. Keys belonging to a base named in
// exclude are left out, including their own partition-suffixed variants. A
// partition column that happens to be called "total" only ever shows up as a
// suffix on base itself, so it is never mistaken for an excluded sibling.
func metricKeys(metrics compute.Metrics, base string, exclude ...string) []string {
	var keys []string
	if _, ok := metrics[base]; ok {
		keys = append(keys, base)
	}
	prefix := base + Delimiter
scan:
	for k := range metrics {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		for _, ex := range exclude {
			if k == ex || strings.HasPrefix(k, ex+Delimiter) {
				continue scan
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// failureMessage renders the standard failure line.
func failureMessage(name, metricKey string, value any, cond string) string {
	return fmt.Sprintf("Expectation '%s' failed with %s=%v expectation:%s", name, metricKey, value, cond)
}
