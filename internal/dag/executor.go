package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"strata/internal/action"
	"strata/internal/logging"
	"strata/internal/subfeed"
	"strata/internal/telemetry"
)

// feedStore routes SubFeeds between actions keyed by data object id.
type feedStore struct {
	mu    sync.RWMutex
	feeds map[string]*subfeed.SubFeed
}

func newFeedStore() *feedStore {
	return &feedStore{feeds: map[string]*subfeed.SubFeed{}}
}

// get returns the feed emitted for a data object, or a fresh initial feed
// when no upstream action produces it.
func (s *feedStore) get(dataObjectID string) *subfeed.SubFeed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.feeds[dataObjectID]; ok {
		return f
	}
	return subfeed.New(dataObjectID, nil)
}

func (s *feedStore) put(feeds []*subfeed.SubFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range feeds {
		s.feeds[f.DataObjectID] = f
	}
}

// Orchestrator runs the whole graph: first a sequential init sweep in
// dependency order, then the exec sweep with a bounded worker pool.
type Orchestrator struct {
	graph   *Graph
	workers int
}

func NewOrchestrator(g *Graph, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{graph: g, workers: workers}
}

func (o *Orchestrator) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log := logging.L().With("run_id", runID)

	if err := o.graph.DetectCycles(); err != nil {
		return err
	}
	order := o.graph.TopoOrder()
	log.Info("run starting", "actions", len(order), "workers", o.workers)

	if err := o.initSweep(ctx, order, log); err != nil {
		return err
	}
	for _, n := range order {
		n.Action.Reset()
		n.state.Store(int32(statePending))
	}
	return o.execSweep(ctx, order, log)
}

// initSweep dry-runs every action sequentially so configuration and schema
// problems surface before any data is written. Any failure aborts the run.
func (o *Orchestrator) initSweep(ctx context.Context, order []*Node, log *slog.Logger) error {
	feeds := newFeedStore()
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		a := n.Action
		ins := gatherInputs(a, feeds)

		sig, err := a.PreInit(ctx, ins, nil)
		if err != nil {
			return fmt.Errorf("action %s: pre-init: %w", a.ID(), err)
		}
		if sig == action.Skip {
			feeds.put(skippedOutputs(a))
			log.Debug("action skipped during init", "action", a.ID())
			continue
		}
		res, err := a.Init(ctx, ins)
		if err != nil {
			return fmt.Errorf("action %s: init: %w", a.ID(), err)
		}
		feeds.put(res.Outputs)
	}
	log.Info("init sweep complete")
	return nil
}

// execSweep processes ready nodes concurrently. A node becomes ready once
// all of its dependencies finished; a failed node skips its dependents.
func (o *Orchestrator) execSweep(ctx context.Context, order []*Node, log *slog.Logger) error {
	feeds := newFeedStore()
	ready := make(chan *Node, len(order))
	var wg sync.WaitGroup
	wg.Add(len(order))

	for _, n := range order {
		n.depCount.Store(int32(len(n.deps)))
		if len(n.deps) == 0 {
			ready <- n
		}
	}

	for i := 0; i < o.workers; i++ {
		go func() {
			for n := range ready {
				o.execNode(ctx, n, feeds, ready, &wg, log)
			}
		}()
	}
	wg.Wait()
	close(ready)

	var errs []error
	for _, n := range order {
		if nodeState(n.state.Load()) == stateFailed && n.err != nil {
			errs = append(errs, fmt.Errorf("action %s: %w", n.ID(), n.err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Info("run complete")
	return nil
}

func (o *Orchestrator) execNode(ctx context.Context, n *Node, feeds *feedStore, ready chan<- *Node, wg *sync.WaitGroup, log *slog.Logger) {
	defer wg.Done()
	a := n.Action
	n.state.Store(int32(stateRunning))

	fail := func(err error) {
		n.err = err
		n.state.Store(int32(stateFailed))
		telemetry.ActionsTotal.WithLabelValues("failed").Inc()
		log.Error("action failed", "action", a.ID(), "error", err)
		feeds.put(skippedOutputs(a))
		o.skipDependents(n, feeds, wg, log)
	}
	skip := func(result string, outs []*subfeed.SubFeed) {
		n.state.Store(int32(stateSkipped))
		telemetry.ActionsTotal.WithLabelValues(result).Inc()
		feeds.put(outs)
		log.Info("action skipped", "action", a.ID(), "reason", result)
		o.release(n, ready)
	}

	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}
	ins := gatherInputs(a, feeds)

	sig, err := a.PreExec(ctx, ins)
	if err != nil {
		fail(fmt.Errorf("pre-exec: %w", err))
		return
	}
	if sig == action.Skip {
		skip("skipped", skippedOutputs(a))
		return
	}

	res, err := a.Exec(ctx, ins)
	if err != nil {
		fail(fmt.Errorf("exec: %w", err))
		return
	}
	if res.Signal == action.NoData {
		// the result's outputs carry the mapped partition values; dependents
		// still see them even though nothing was processed
		skip("no_data", res.Outputs)
		return
	}

	feeds.put(res.Outputs)
	if err := a.PostExec(ctx, ins, res.Outputs); err != nil {
		fail(fmt.Errorf("post-exec: %w", err))
		return
	}
	n.state.Store(int32(stateSucceeded))
	telemetry.ActionsTotal.WithLabelValues("succeeded").Inc()
	log.Info("action succeeded", "action", a.ID())
	o.release(n, ready)
}

// release decrements the dependency count of every dependent and enqueues
// the ones that became ready.
func (o *Orchestrator) release(n *Node, ready chan<- *Node) {
	for _, d := range n.dependents {
		if d.depCount.Add(-1) == 0 {
			ready <- d
		}
	}
}

// skipDependents marks the whole downstream subtree skipped without running
// it. A skipped dependent never reaches the ready channel because its failed
// dependency never releases it, so each node here settles the wait group
// exactly once via skipOnce.
func (o *Orchestrator) skipDependents(n *Node, feeds *feedStore, wg *sync.WaitGroup, log *slog.Logger) {
	for _, d := range n.dependents {
		d.skipOnce.Do(func() {
			d.state.Store(int32(stateSkipped))
			telemetry.ActionsTotal.WithLabelValues("upstream_failed").Inc()
			feeds.put(skippedOutputs(d.Action))
			log.Warn("action skipped", "action", d.ID(), "reason", "upstream failure")
			wg.Done()
			o.skipDependents(d, feeds, wg, log)
		})
	}
}

func gatherInputs(a *action.Action, feeds *feedStore) []*subfeed.SubFeed {
	objs := a.Inputs()
	ins := make([]*subfeed.SubFeed, 0, len(objs))
	for _, do := range objs {
		ins = append(ins, feeds.get(do.ID))
	}
	return ins
}

func skippedOutputs(a *action.Action) []*subfeed.SubFeed {
	objs := a.Outputs()
	outs := make([]*subfeed.SubFeed, 0, len(objs))
	for _, do := range objs {
		outs = append(outs, subfeed.New(do.ID, nil).Skipped())
	}
	return outs
}
