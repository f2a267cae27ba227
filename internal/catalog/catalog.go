// Package catalog declares the storage/catalog collaborator: partition and
// file listings plus the destructive operations the incremental execution
// modes need. Implementations live in subpackages and register themselves
// with the driver registry.
package catalog

import (
	"context"
	"fmt"
	"time"

	"strata/internal/partition"
)

// File describes one stored file.
type File struct {
	Path     string
	Size     int64
	Modified time.Time
}

type Catalog interface {
	// ListPartitions returns the concrete partition-value tuples present
	// at location, projected onto partitionColumns.
	ListPartitions(ctx context.Context, location string, partitionColumns []string) ([]partition.Values, error)
	// ListFiles lists files under location, optionally restricted to the
	// given partition tuples.
	ListFiles(ctx context.Context, location string, filter []partition.Values) ([]File, error)
	DeletePartitions(ctx context.Context, location string, partitionColumns []string, pvs []partition.Values) error
	DeleteFiles(ctx context.Context, paths []string) error
	// MoveFiles relocates src→dst with move (not copy) semantics so a file
	// is never observed twice.
	MoveFiles(ctx context.Context, moves map[string]string) error
}

/*──────── registry ───────*/

type Factory func() Catalog

var reg = map[string]Factory{}

func Register(name string, f Factory) { reg[name] = f }

func New(name string) (Catalog, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown catalog driver %q", name)
}
