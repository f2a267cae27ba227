package expectation

import (
	"context"
	"strings"
	"testing"

	"strata/internal/compute"
	"strata/internal/compute/memory"
	"strata/internal/errs"
	"strata/internal/partition"
)

func writtenTable(eng *memory.Engine, location string, rows []map[string]any) *memory.Table {
	t := memory.NewTable([]string{"dt", "status", "amount"}, rows)
	eng.Put(location, t)
	return t
}

func twoPartitions(eng *memory.Engine, location string) *memory.Table {
	rows := []map[string]any{
		{"dt": "2024-01-01", "status": "ok", "amount": 1},
		{"dt": "2024-01-01", "status": "ok", "amount": 2},
		{"dt": "2024-01-01", "status": "ok", "amount": 3},
		{"dt": "2024-01-02", "status": "ok", "amount": 1},
		{"dt": "2024-01-02", "status": "ok", "amount": 2},
		{"dt": "2024-01-02", "status": "ok", "amount": 3},
		{"dt": "2024-01-02", "status": "ok", "amount": 4},
		{"dt": "2024-01-02", "status": "ok", "amount": 5},
	}
	return writtenTable(eng, location, rows)
}

func TestValidate_JobScopeCount(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	exp, err := NewCount("rowCount", "", ScopeJob, SeverityError, "", "value == 8")
	if err != nil {
		t.Fatalf("new count: %v", err)
	}
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		PartitionColumns: []string{"dt"},
		Expectations:     []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["rowCount"] != int64(8) {
		t.Fatalf("rowCount: got %v", m["rowCount"])
	}
}

func TestValidate_JobPartitionScopeGroupsPerPartition(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	exp, err := NewCount("rowCount", "", ScopeJobPartition, SeverityError, "", "value > 0")
	if err != nil {
		t.Fatalf("new count: %v", err)
	}
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		PartitionColumns:    []string{"dt"},
		ProcessedPartitions: []partition.Values{{"dt": "2024-01-01"}, {"dt": "2024-01-02"}},
		Expectations:        []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["rowCount#dt=2024-01-01"] != int64(3) {
		t.Fatalf("partition 1: got %v", m["rowCount#dt=2024-01-01"])
	}
	if m["rowCount#dt=2024-01-02"] != int64(5) {
		t.Fatalf("partition 2: got %v", m["rowCount#dt=2024-01-02"])
	}
	if _, ok := m["rowCount"]; ok {
		t.Fatal("no un-suffixed aggregate may appear for JobPartition scope")
	}
}

func TestValidate_JobPartitionScopeNeedsPartitionedObject(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	exp, _ := NewCount("rowCount", "", ScopeJobPartition, SeverityError, "", "value > 0")
	e := &Engine{Compute: eng}
	_, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{exp},
	})
	if err == nil || !errs.IsKind(err, errs.KindConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestValidate_Fraction(t *testing.T) {
	eng := memory.NewEngine()
	rows := []map[string]any{
		{"dt": "1", "status": "err", "amount": 1},
		{"dt": "1", "status": "err", "amount": 2},
		{"dt": "1", "status": "err", "amount": 3},
		{"dt": "1", "status": "ok", "amount": 4},
		{"dt": "1", "status": "ok", "amount": 5},
		{"dt": "1", "status": "ok", "amount": 6},
		{"dt": "1", "status": "ok", "amount": 7},
		{"dt": "1", "status": "ok", "amount": 8},
		{"dt": "1", "status": "ok", "amount": 9},
		{"dt": "1", "status": "ok", "amount": 10},
	}
	ds := writtenTable(eng, "tgt", rows)
	exp, err := NewFraction("errRate", "", ScopeJob, SeverityError, `status == "err"`, "", "value < 0.5")
	if err != nil {
		t.Fatalf("new fraction: %v", err)
	}
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["errRate"] != 0.3 {
		t.Fatalf("fraction: got %v", m["errRate"])
	}
	if _, ok := m["errRate#total"]; ok {
		t.Fatal("synthetic total must be stripped from reported metrics")
	}
}

func TestValidate_FractionOverPartitionColumnNamedTotal(t *testing.T) {
	eng := memory.NewEngine()
	rows := []map[string]any{
		{"total": "a", "status": "err"},
		{"total": "a", "status": "ok"},
		{"total": "b", "status": "err"},
	}
	ds := memory.NewTable([]string{"total", "status"}, rows)
	eng.Put("tgt", ds)
	exp, err := NewFraction("errRate", "", ScopeJobPartition, SeverityError, `status == "err"`, "", "value <= 1")
	if err != nil {
		t.Fatalf("new fraction: %v", err)
	}
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		PartitionColumns:    []string{"total"},
		ProcessedPartitions: []partition.Values{{"total": "a"}, {"total": "b"}},
		Expectations:        []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["errRate#total=a"] != 0.5 {
		t.Fatalf("partition a: got %v", m["errRate#total=a"])
	}
	if m["errRate#total=b"] != float64(1) {
		t.Fatalf("partition b: got %v", m["errRate#total=b"])
	}
	for k := range m {
		if strings.HasPrefix(k, "errRate#total#") {
			t.Fatalf("synthetic total %q must be stripped", k)
		}
	}
}

func TestValidate_FractionOverZeroRowsIsUndefined(t *testing.T) {
	eng := memory.NewEngine()
	ds := writtenTable(eng, "tgt", nil)
	exp, _ := NewFraction("errRate", "", ScopeJob, SeverityError, `status == "err"`, "", "value < 0.5")
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("undefined fraction must not fail: %v", err)
	}
	if m["errRate"] != compute.Undefined {
		t.Fatalf("want undefined marker, got %v", m["errRate"])
	}
}

func TestValidate_ConstraintViolation(t *testing.T) {
	eng := memory.NewEngine()
	rows := []map[string]any{
		{"dt": "1", "status": "ok", "amount": 5},
		{"dt": "1", "status": "ok", "amount": -3},
	}
	ds := writtenTable(eng, "tgt", rows)
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Constraints: []Constraint{{Name: "amountPositive", Expression: "amount >= 0"}},
	})
	if err == nil {
		t.Fatal("violated constraint must fail the job")
	}
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "amountPositive") {
		t.Fatalf("message must name the constraint: %v", err)
	}
	if _, ok := m["constraint#amountPositive"]; ok {
		t.Fatal("constraint counter must be stripped from reported metrics")
	}
}

func TestValidate_AllExpectationsCheckedBeforeFailing(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	bad1, _ := NewCount("never1", "", ScopeJob, SeverityError, "", "value < 0")
	bad2, _ := NewCount("never2", "", ScopeJob, SeverityError, "", "value < 0")
	e := &Engine{Compute: eng}
	_, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{bad1, bad2},
	})
	if err == nil {
		t.Fatal("want validation error")
	}
	if !strings.Contains(err.Error(), "never1") || !strings.Contains(err.Error(), "never2") {
		t.Fatalf("both failures must be collected: %v", err)
	}
}

func TestValidate_WarnSeverityDoesNotFail(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	warn, _ := NewCount("soft", "", ScopeJob, SeverityWarn, "", "value < 0")
	e := &Engine{Compute: eng}
	if _, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{warn},
	}); err != nil {
		t.Fatalf("warn severity must not fail the job: %v", err)
	}
}

func TestAvgPartitionRows(t *testing.T) {
	eng := memory.NewEngine()
	ds := twoPartitions(eng, "tgt")
	exp, err := NewAvgPartitionRows("avgRows", "", SeverityError, "value >= 4")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e := &Engine{Compute: eng}
	// 8 rows over 2 processed partitions: average 4
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		PartitionColumns:    []string{"dt"},
		ProcessedPartitions: []partition.Values{{"dt": "2024-01-01"}, {"dt": "2024-01-02"}},
		Expectations:        []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["avgRows"] != float64(4) {
		t.Fatalf("average: got %v", m["avgRows"])
	}
}

func TestAvgPartitionRows_ZeroPartitionsIsUndefined(t *testing.T) {
	eng := memory.NewEngine()
	ds := writtenTable(eng, "tgt", nil)
	exp, _ := NewAvgPartitionRows("avgRows", "", SeverityError, "value >= 4")
	e := &Engine{Compute: eng}
	m, err := e.Validate(context.Background(), Input{
		ActionID: "a", DataObjectID: "tgt", Dataset: ds, Location: "tgt",
		Expectations: []Expectation{exp},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m["avgRows"] != compute.Undefined {
		t.Fatalf("want undefined, got %v", m["avgRows"])
	}
}
