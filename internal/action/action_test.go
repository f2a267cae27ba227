package action

import (
	"context"
	"testing"

	"strata/internal/catalog"
	"strata/internal/compute"
	"strata/internal/compute/memory"
	"strata/internal/dataobject"
	"strata/internal/errs"
	"strata/internal/execmode"
	"strata/internal/expectation"
	"strata/internal/partition"
	"strata/internal/subfeed"
	"strata/internal/transform"
)

// concat merges every named input into one output table.
type concat struct {
	name   string
	output string
}

func (c *concat) Name() string { return c.name }

func (c *concat) Transform(ctx context.Context, eng compute.Engine, inputs map[string]compute.Dataset, opts transform.Options) (map[string]compute.Dataset, error) {
	var cols []string
	var rows []map[string]any
	for _, ds := range inputs {
		t := ds.(*memory.Table)
		if cols == nil {
			cols = t.Cols
		}
		rows = append(rows, t.Rows...)
	}
	return map[string]compute.Dataset{c.output: memory.NewTable(cols, rows)}, nil
}

func obj(id, location string, cols ...string) *dataobject.DataObject {
	return &dataobject.DataObject{ID: id, Location: location, PartitionColumns: cols}
}

func catalogs(eng *memory.Engine, objs ...*dataobject.DataObject) map[string]catalog.Catalog {
	m := map[string]catalog.Catalog{}
	for _, do := range objs {
		m[do.ID] = eng.Catalog()
	}
	return m
}

func emptyChain(t *testing.T, outputs ...string) *transform.Chain {
	t.Helper()
	ch, err := transform.NewChain(nil, outputs)
	if err != nil {
		t.Fatalf("empty chain: %v", err)
	}
	return ch
}

func feeds(pvs []partition.Values, ids ...string) []*subfeed.SubFeed {
	var out []*subfeed.SubFeed
	for _, id := range ids {
		out = append(out, subfeed.New(id, pvs))
	}
	return out
}

func TestNew_ConfigValidation(t *testing.T) {
	eng := memory.NewEngine()
	src := obj("src", "src")
	tgt := obj("tgt", "tgt")

	if _, err := New(Config{ID: "a", Inputs: []*dataobject.DataObject{src}}); err == nil {
		t.Fatal("missing outputs must fail")
	}
	if _, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng,
	}); err == nil {
		t.Fatal("missing catalogs must fail")
	}
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if a.MainInput().ID != "src" || a.MainOutput().ID != "tgt" {
		t.Fatalf("main defaulting: got %s/%s", a.MainInput().ID, a.MainOutput().ID)
	}
}

func TestNew_BadExecutionCondition(t *testing.T) {
	eng := memory.NewEngine()
	src, tgt := obj("src", "src"), obj("tgt", "tgt")
	_, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
		ExecutionCondition: "inputs.src.",
	})
	if err == nil || !errs.IsKind(err, errs.KindConfig) {
		t.Fatalf("bad condition must fail at configuration time, got %v", err)
	}
}

func TestTwoActionChain_IntermediateAndTarget(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src1", memory.NewTable([]string{"id"}, []map[string]any{{"id": 1}, {"id": 2}}))
	eng.Put("src2", memory.NewTable([]string{"id"}, []map[string]any{{"id": 3}}))

	src1, src2 := obj("src1", "src1"), obj("src2", "src2")
	int1, tgt1 := obj("int1", "int1"), obj("tgt1", "tgt1")

	chainA, err := transform.NewChain([]transform.Stage{{
		Transformer: &concat{name: "merge", output: "int1"},
		Outputs:     []string{"int1"},
	}}, []string{"int1"})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	actA, err := New(Config{
		ID: "A", Inputs: []*dataobject.DataObject{src1, src2}, Outputs: []*dataobject.DataObject{int1},
		MainInputID: "src1",
		Chain:       chainA, Compute: eng, Catalogs: catalogs(eng, src1, src2, int1),
	})
	if err != nil {
		t.Fatalf("action A: %v", err)
	}
	actB, err := New(Config{
		ID: "B", Inputs: []*dataobject.DataObject{int1}, Outputs: []*dataobject.DataObject{tgt1},
		Chain: emptyChain(t, "tgt1"), Compute: eng, Catalogs: catalogs(eng, int1, tgt1),
	})
	if err != nil {
		t.Fatalf("action B: %v", err)
	}

	ctx := context.Background()
	resA, err := actA.Exec(ctx, feeds(nil, "src1", "src2"))
	if err != nil {
		t.Fatalf("exec A: %v", err)
	}
	if len(resA.Outputs) != 1 || resA.Outputs[0].DataObjectID != "int1" {
		t.Fatalf("A outputs: %v", resA.Outputs)
	}
	if got := len(eng.Get("int1").Rows); got != 3 {
		t.Fatalf("intermediate rows: want 3, got %d", got)
	}

	resB, err := actB.Exec(ctx, resA.Outputs)
	if err != nil {
		t.Fatalf("exec B: %v", err)
	}
	if resB.Outputs[0].IsSkipped {
		t.Fatal("B output must not be skipped")
	}
	if got := len(eng.Get("tgt1").Rows); got != 3 {
		t.Fatalf("target rows: want 3, got %d", got)
	}
}

func TestInitExecParity_PartitionValues(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"dt", "v"}, []map[string]any{
		{"dt": "2024-01-01", "v": 1},
		{"dt": "2024-01-02", "v": 2},
	}))
	src, tgt := obj("src", "src", "dt"), obj("tgt", "tgt", "dt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	pvs := []partition.Values{{"dt": "2024-01-01"}}

	initRes, err := a.Init(ctx, feeds(pvs, "src"))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if a.State() != Initialized {
		t.Fatalf("state after init: %v", a.State())
	}
	// init is a dry run: nothing written yet
	if eng.Get("tgt") != nil {
		t.Fatal("init must not write")
	}

	execRes, err := a.Exec(ctx, feeds(pvs, "src"))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	ip := initRes.Outputs[0].PartitionValues
	ep := execRes.Outputs[0].PartitionValues
	if len(ip) != 1 || len(ep) != 1 || ip[0].String() != ep[0].String() {
		t.Fatalf("init/exec partition values differ: %v vs %v", ip, ep)
	}
	if got := len(eng.Get("tgt").Rows); got != 1 {
		t.Fatalf("exec must write only the selected partition, got %d rows", got)
	}
}

func TestExec_RecursiveInputAppearsAfterFirstWrite(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"v"}, []map[string]any{{"v": 1}}))
	src, tgt := obj("src", "src"), obj("tgt", "tgt")

	ch, err := transform.NewChain([]transform.Stage{{
		Transformer: &concat{name: "merge", output: "tgt"},
		Outputs:     []string{"tgt"},
	}}, []string{"tgt"})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		RecursiveInputs: []*dataobject.DataObject{tgt},
		Chain:           ch, Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	// first run: the recursive input does not exist yet and is simply absent
	if _, err := a.Exec(ctx, feeds(nil, "src")); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	if got := len(eng.Get("tgt").Rows); got != 1 {
		t.Fatalf("first run rows: want 1, got %d", got)
	}

	// second run: the previous output feeds back in alongside the new batch
	eng.Put("src", memory.NewTable([]string{"v"}, []map[string]any{{"v": 2}}))
	a.Reset()
	if _, err := a.Exec(ctx, feeds(nil, "src")); err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if got := len(eng.Get("tgt").Rows); got != 2 {
		t.Fatalf("second run must merge old and new rows: want 2, got %d", got)
	}
}

func TestExec_PartialPartitionSpecResolves(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"dt", "region", "v"}, []map[string]any{
		{"dt": "d1", "region": "eu", "v": 1},
		{"dt": "d1", "region": "us", "v": 2},
		{"dt": "d2", "region": "eu", "v": 3},
	}))
	src := obj("src", "src", "dt", "region")
	tgt := obj("tgt", "tgt", "dt", "region")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// only dt given: the catalog supplies the matching region values
	res, err := a.Exec(context.Background(), feeds([]partition.Values{{"dt": "d1"}}, "src"))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if got := len(res.Outputs[0].PartitionValues); got != 2 {
		t.Fatalf("resolved partitions: want 2, got %v", res.Outputs[0].PartitionValues)
	}
	if got := len(eng.Get("tgt").Rows); got != 2 {
		t.Fatalf("only the d1 rows may be written: want 2, got %d", got)
	}
}

func TestSkipPropagation(t *testing.T) {
	eng := memory.NewEngine()
	src, tgt := obj("src", "src"), obj("tgt", "tgt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	skipped := []*subfeed.SubFeed{subfeed.New("src", nil).Skipped()}

	sig, err := a.PreInit(ctx, skipped, nil)
	if err != nil {
		t.Fatalf("pre-init: %v", err)
	}
	if sig != Skip {
		t.Fatalf("skipped input must skip, got %v", sig)
	}
	sig, err = a.PreExec(ctx, skipped)
	if err != nil || sig != Skip {
		t.Fatalf("pre-exec: got %v err %v", sig, err)
	}
	// PostExec tolerates a fully skipped outcome
	outs := []*subfeed.SubFeed{subfeed.New("tgt", nil).Skipped()}
	if err := a.PostExec(ctx, skipped, outs); err != nil {
		t.Fatalf("post-exec after skip: %v", err)
	}
	if a.State() != Completed {
		t.Fatalf("state after post-exec: %v", a.State())
	}
}

func TestExecutionCondition_OverridesDefaultSkip(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"v"}, []map[string]any{{"v": 1}}))
	src, tgt := obj("src", "src"), obj("tgt", "tgt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
		ExecutionCondition: "true",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sig, err := a.PreExec(context.Background(), []*subfeed.SubFeed{subfeed.New("src", nil).Skipped()})
	if err != nil {
		t.Fatalf("pre-exec: %v", err)
	}
	if sig != Proceed {
		t.Fatalf("condition true must proceed despite skipped input, got %v", sig)
	}
}

func TestIgnoreFilterInputs(t *testing.T) {
	eng := memory.NewEngine()
	src, aux, tgt := obj("src", "src"), obj("aux", "aux"), obj("tgt", "tgt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src, aux}, Outputs: []*dataobject.DataObject{tgt},
		MainInputID:        "src",
		Chain:              emptyChain(t, "tgt"),
		Compute:            eng,
		Catalogs:           catalogs(eng, src, aux, tgt),
		IgnoreFilterInputs: []string{"aux"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ins := []*subfeed.SubFeed{subfeed.New("src", nil), subfeed.New("aux", nil).Skipped()}
	sig, err := a.PreExec(context.Background(), ins)
	if err != nil {
		t.Fatalf("pre-exec: %v", err)
	}
	if sig != Proceed {
		t.Fatalf("ignored input skip must not propagate, got %v", sig)
	}
}

func TestExec_UnknownPartitionKeyFailsFast(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"dt", "v"}, nil))
	src, tgt := obj("src", "src", "dt"), obj("tgt", "tgt", "dt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = a.Exec(context.Background(), feeds([]partition.Values{{"country": "de"}}, "src"))
	if err == nil || !errs.IsKind(err, errs.KindConfig) {
		t.Fatalf("unknown partition key must be a config error, got %v", err)
	}
}

func TestExec_UnpartitionedOverwriteGuard(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"dt", "v"}, []map[string]any{{"dt": "1", "v": 1}}))
	src := obj("src", "src") // unpartitioned input
	tgt := obj("tgt", "tgt", "dt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = a.Exec(context.Background(), feeds(nil, "src"))
	if err == nil || !errs.IsKind(err, errs.KindProcessing) {
		t.Fatalf("want processing error for unpartitioned overwrite, got %v", err)
	}

	tgt.AllowOverwriteAll = true
	a.Reset()
	if _, err := a.Exec(context.Background(), feeds(nil, "src")); err != nil {
		t.Fatalf("allow_overwrite_all must permit the write: %v", err)
	}
}

func TestExec_NoDataMode(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"dt", "v"}, nil))
	src, tgt := obj("src", "src", "dt"), obj("tgt", "tgt", "dt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
		Mode: modeFunc(func(ctx context.Context, in execmode.Input) (execmode.Result, error) {
			return execmode.Result{Outcome: execmode.NoData}, nil
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := a.Exec(context.Background(), feeds(nil, "src"))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Signal != NoData {
		t.Fatalf("want no-data signal, got %v", res.Signal)
	}
	if !res.Outputs[0].IsSkipped {
		t.Fatal("no-data outputs must be skipped subfeeds")
	}
}

type modeFunc func(ctx context.Context, in execmode.Input) (execmode.Result, error)

func (f modeFunc) Apply(ctx context.Context, in execmode.Input) (execmode.Result, error) {
	return f(ctx, in)
}

func TestExec_ValidatorFailureSurfaces(t *testing.T) {
	eng := memory.NewEngine()
	eng.Put("src", memory.NewTable([]string{"v"}, []map[string]any{{"v": -1}}))
	src, tgt := obj("src", "src"), obj("tgt", "tgt")
	a, err := New(Config{
		ID: "a", Inputs: []*dataobject.DataObject{src}, Outputs: []*dataobject.DataObject{tgt},
		Chain: emptyChain(t, "tgt"), Compute: eng, Catalogs: catalogs(eng, src, tgt),
		Quality: map[string]Quality{"tgt": {
			Constraints: []expectation.Constraint{{Name: "positive", Expression: "v >= 0"}},
		}},
		Validator: &expectation.Engine{Compute: eng},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = a.Exec(context.Background(), feeds(nil, "src"))
	if err == nil || !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("constraint violation must fail exec, got %v", err)
	}
}
