package memory

import (
	"context"
	"fmt"

	"strata/internal/catalog"
	"strata/internal/partition"
)

// Catalog adapts the engine's table store to the catalog collaborator.
// In-memory tables have no file representation, so the file operations
// report an error instead of pretending to succeed.
type Catalog struct {
	e *Engine
}

func (e *Engine) Catalog() *Catalog { return &Catalog{e: e} }

func (c *Catalog) ListPartitions(ctx context.Context, location string, partitionColumns []string) ([]partition.Values, error) {
	t := c.e.Get(location)
	if t == nil {
		return nil, nil
	}
	return t.PartitionProjection(partitionColumns)
}

func (c *Catalog) ListFiles(ctx context.Context, location string, filter []partition.Values) ([]catalog.File, error) {
	return nil, fmt.Errorf("memory catalog: %s has no file listing", location)
}

func (c *Catalog) DeletePartitions(ctx context.Context, location string, partitionColumns []string, pvs []partition.Values) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	t := c.e.tables[location]
	if t == nil {
		return nil
	}
	var kept []map[string]any
	for _, row := range t.Rows {
		if !matches(row, pvs) {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	return nil
}

func (c *Catalog) DeleteFiles(ctx context.Context, paths []string) error {
	return fmt.Errorf("memory catalog: file deletion not supported")
}

func (c *Catalog) MoveFiles(ctx context.Context, moves map[string]string) error {
	return fmt.Errorf("memory catalog: file moves not supported")
}
