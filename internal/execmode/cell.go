package execmode

import (
	"context"
	"fmt"
	"sync"

	"strata/internal/catalog"
	"strata/internal/state"
)

// Cell is the per-action execution-mode state: a durable string slot backed
// by the state store plus an in-memory file accumulator passed from Apply to
// PostExec. One cell belongs to exactly one action instance. The
// orchestrator schedules at most one in-flight execution per action;
// concurrent use by two logically distinct operations is a programming error
// and fails fast instead of corrupting the accumulator.
type Cell struct {
	store state.Store
	key   string

	mu    sync.Mutex
	inUse string // name of the operation currently holding the cell
	files []catalog.File
}

func NewCell(store state.Store, key string) *Cell {
	return &Cell{store: store, key: key}
}

// acquire marks the cell busy for op; a second concurrent operation fails.
func (c *Cell) acquire(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse != "" {
		return fmt.Errorf("state cell %s: concurrent use by %q while held by %q", c.key, op, c.inUse)
	}
	c.inUse = op
	return nil
}

func (c *Cell) release() {
	c.mu.Lock()
	c.inUse = ""
	c.mu.Unlock()
}

// StashFiles records the files observed by Apply for PostExec.
func (c *Cell) StashFiles(files []catalog.File) {
	c.mu.Lock()
	c.files = append([]catalog.File(nil), files...)
	c.mu.Unlock()
}

// TakeFiles hands the stashed files over and clears the accumulator, which
// makes PostExec idempotent.
func (c *Cell) TakeFiles() []catalog.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.files
	c.files = nil
	return f
}

// Load reads the persisted state value, nil when unset.
func (c *Cell) Load(ctx context.Context) (*string, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.Get(ctx, c.key)
}

// Save persists the state value; nil clears it.
func (c *Cell) Save(ctx context.Context, value *string) error {
	if c.store == nil {
		return nil
	}
	return c.store.Set(ctx, c.key, value)
}

// Reset clears cached in-memory state between independent invocations within
// one process. Persisted state is left untouched.
func (c *Cell) Reset() {
	c.mu.Lock()
	c.files = nil
	c.inUse = ""
	c.mu.Unlock()
}
