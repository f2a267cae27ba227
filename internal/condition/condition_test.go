package condition

import (
	"testing"

	"github.com/zclconf/go-cty/cty"
)

func TestParse_RejectsBadSyntax(t *testing.T) {
	if _, err := Parse("value >"); err == nil {
		t.Fatal("want parse error")
	}
}

func TestEvalBool(t *testing.T) {
	e, err := Parse("value > 100")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := e.EvalBool(map[string]cty.Value{"value": cty.NumberIntVal(150)})
	if err != nil || !ok {
		t.Fatalf("want true, got %v err %v", ok, err)
	}
	ok, err = e.EvalBool(map[string]cty.Value{"value": cty.NumberIntVal(100)})
	if err != nil || ok {
		t.Fatalf("want false, got %v err %v", ok, err)
	}
}

func TestEvalBool_NonBooleanResult(t *testing.T) {
	e, err := Parse(`"hello"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := e.EvalBool(nil); err == nil {
		t.Fatal("non-boolean expression must error")
	}
}

func TestRowVars(t *testing.T) {
	e, err := Parse(`status == "ok" && amount >= 10`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ok, err := e.EvalBool(RowVars(map[string]any{"status": "ok", "amount": 12.5}))
	if err != nil || !ok {
		t.Fatalf("want row match, got %v err %v", ok, err)
	}
}

func TestEvalBool_MissingVariable(t *testing.T) {
	e, err := Parse("missing > 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := e.EvalBool(map[string]cty.Value{}); err == nil {
		t.Fatal("unknown variable must error")
	}
}
