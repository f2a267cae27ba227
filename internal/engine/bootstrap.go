package engine

import (
	"context"
	"fmt"

	"strata/internal/action"
	"strata/internal/catalog"
	"strata/internal/compute"
	"strata/internal/compute/memory"
	"strata/internal/config"
	"strata/internal/dag"
	"strata/internal/dataobject"
	"strata/internal/execmode"
	"strata/internal/expectation"
	"strata/internal/logging"
	"strata/internal/spec"
	"strata/internal/state"
	"strata/internal/telemetry"
	"strata/internal/transform"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	pl, err := config.LoadPipelineSpec(cfg.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	store, err := state.Open(cfg.State.Driver, cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	eng, err := compute.Open(cfg.Compute.Driver)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("compute: %w", err)
	}
	graph, err := compile(pl, eng, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	telemetry.Expose(cfg.MetricsPort)

	return &Engine{
		orch:  dag.NewOrchestrator(graph, cfg.Workers),
		state: store,
	}, nil
}

// compile turns the parsed pipeline definition into a wired action graph.
// Everything that can fail here is a configuration error; nothing below this
// point touches data. Data objects on a non-default store get their compute
// driver mounted on the router, so the same action can read a file-backed
// input and write a memory-backed output.
func compile(pl spec.File, def compute.Engine, store state.Store) (*dag.Graph, error) {
	objects := dataobject.NewRegistry()
	catalogs := map[string]catalog.Catalog{}
	quality := map[string]action.Quality{}
	router := compute.NewRouter(def)
	drivers := map[string]compute.Engine{}

	for _, ds := range pl.DataObjects {
		do := &dataobject.DataObject{
			ID:                ds.ID,
			Location:          ds.Location,
			PartitionColumns:  ds.PartitionColumns,
			Store:             ds.Store,
			AllowOverwriteAll: ds.AllowOverwriteAll,
		}
		if err := objects.Add(do); err != nil {
			return nil, err
		}
		cat, err := catalogFor(ds.Store, def)
		if err != nil {
			return nil, fmt.Errorf("data object %s: %w", ds.ID, err)
		}
		catalogs[ds.ID] = cat
		if err := mountCompute(router, drivers, ds); err != nil {
			return nil, err
		}

		q, err := buildQuality(ds)
		if err != nil {
			return nil, fmt.Errorf("data object %s: %w", ds.ID, err)
		}
		quality[ds.ID] = q
	}

	graph := dag.NewGraph()
	producer := map[string]string{}

	for _, as := range pl.Actions {
		a, err := buildAction(as, objects, catalogs, quality, router, store)
		if err != nil {
			return nil, err
		}
		if err := graph.AddNode(a); err != nil {
			return nil, err
		}
		for _, out := range as.Outputs {
			if prev, ok := producer[out]; ok {
				return nil, fmt.Errorf("data object %s produced by both %s and %s", out, prev, as.ID)
			}
			producer[out] = as.ID
		}
	}
	for _, as := range pl.Actions {
		for _, in := range as.Inputs {
			if from, ok := producer[in]; ok && from != as.ID {
				if err := graph.AddEdge(from, as.ID); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := graph.DetectCycles(); err != nil {
		return nil, err
	}
	logging.L().Info("pipeline compiled", "actions", len(pl.Actions), "dataObjects", objects.IDs())
	return graph, nil
}

func catalogFor(storeName string, def compute.Engine) (catalog.Catalog, error) {
	if storeName == "" || storeName == "memory" {
		m, ok := def.(*memory.Engine)
		if !ok {
			return nil, fmt.Errorf("store %q needs the memory compute driver, running with %T", storeName, def)
		}
		return m.Catalog(), nil
	}
	return catalog.New(storeName)
}

// mountCompute routes the object's location to the compute driver matching
// its store. A store with a catalog but no compute driver is rejected here,
// before any action could fail reading it mid-run.
func mountCompute(router *compute.Router, drivers map[string]compute.Engine, ds spec.DataObjectSpec) error {
	name := ds.Store
	if name == "" || name == "memory" {
		return nil
	}
	eng, ok := drivers[name]
	if !ok {
		var err error
		if eng, err = compute.Open(name); err != nil {
			return fmt.Errorf("data object %s: %w", ds.ID, err)
		}
		drivers[name] = eng
	}
	router.Mount(ds.Location, eng)
	return nil
}

func buildAction(as spec.ActionSpec, objects *dataobject.Registry, catalogs map[string]catalog.Catalog, quality map[string]action.Quality, eng compute.Engine, store state.Store) (*action.Action, error) {
	resolve := func(ids []string) ([]*dataobject.DataObject, error) {
		out := make([]*dataobject.DataObject, 0, len(ids))
		for _, id := range ids {
			do, err := objects.Get(id)
			if err != nil {
				return nil, fmt.Errorf("action %s: %w", as.ID, err)
			}
			out = append(out, do)
		}
		return out, nil
	}
	inputs, err := resolve(as.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := resolve(as.Outputs)
	if err != nil {
		return nil, err
	}
	recursive, err := resolve(as.RecursiveInputs)
	if err != nil {
		return nil, err
	}

	chain, err := buildChain(as)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", as.ID, err)
	}

	var mode execmode.Mode
	if ms := as.ExecutionMode; ms != nil {
		opts := transform.Options(ms.Options).Clone()
		if ms.ArchivePath != "" {
			opts["archive_path"] = ms.ArchivePath
		}
		if mode, err = execmode.New(ms.Type, opts); err != nil {
			return nil, fmt.Errorf("action %s: %w", as.ID, err)
		}
	}

	actionCatalogs := map[string]catalog.Catalog{}
	actionQuality := map[string]action.Quality{}
	for _, do := range append(append(append([]*dataobject.DataObject{}, inputs...), outputs...), recursive...) {
		actionCatalogs[do.ID] = catalogs[do.ID]
		actionQuality[do.ID] = quality[do.ID]
	}

	return action.New(action.Config{
		ID:                 as.ID,
		Inputs:             inputs,
		Outputs:            outputs,
		RecursiveInputs:    recursive,
		MainInputID:        as.MainInput,
		MainOutputID:       as.MainOutput,
		Chain:              chain,
		Mode:               mode,
		ExecutionCondition: as.ExecutionCondition,
		IgnoreFilterInputs: as.IgnoreFilterInputs,
		Quality:            actionQuality,
		Compute:            eng,
		Catalogs:           actionCatalogs,
		Validator:          &expectation.Engine{Compute: eng},
		StateCell:          execmode.NewCell(store, as.ID),
	})
}

func buildChain(as spec.ActionSpec) (*transform.Chain, error) {
	stages := make([]transform.Stage, 0, len(as.Transformers))
	for _, ts := range as.Transformers {
		tr, err := transform.New(ts.Type, ts.Name, transform.Options(ts.Options))
		if err != nil {
			return nil, err
		}
		stages = append(stages, transform.Stage{
			Transformer: tr,
			Outputs:     ts.Outputs,
			Options:     transform.Options(ts.Options),
			KeyMap:      ts.PartitionMap,
		})
	}
	return transform.NewChain(stages, as.Outputs)
}

func buildQuality(ds spec.DataObjectSpec) (action.Quality, error) {
	var q action.Quality
	for _, es := range ds.Expectations {
		exp, err := buildExpectation(es)
		if err != nil {
			return q, err
		}
		q.Expectations = append(q.Expectations, exp)
	}
	for _, cs := range ds.Constraints {
		if cs.Name == "" || cs.Expression == "" {
			return q, fmt.Errorf("constraint needs name and expression")
		}
		q.Constraints = append(q.Constraints, expectation.Constraint{
			Name:        cs.Name,
			Description: cs.Description,
			Expression:  cs.Expression,
		})
	}
	return q, nil
}

func buildExpectation(es spec.ExpectationSpec) (expectation.Expectation, error) {
	scope, err := expectation.ParseScope(es.Scope)
	if err != nil {
		return nil, err
	}
	severity, err := expectation.ParseSeverity(es.Severity)
	if err != nil {
		return nil, err
	}
	switch es.Type {
	case "count", "":
		return expectation.NewCount(es.Name, es.Description, scope, severity, es.Filter, es.Condition)
	case "agg":
		return expectation.NewAgg(es.Name, es.Description, scope, severity, compute.AggExpr{
			Name:   es.Name,
			Func:   compute.AggFunc(es.Aggregate),
			Column: es.Column,
			Filter: es.Filter,
		}, es.Condition)
	case "fraction":
		return expectation.NewFraction(es.Name, es.Description, scope, severity, es.CountCondition, es.GlobalCondition, es.Condition)
	case "avg_partition_rows":
		return expectation.NewAvgPartitionRows(es.Name, es.Description, severity, es.Condition)
	}
	return nil, fmt.Errorf("unknown expectation type %q", es.Type)
}
