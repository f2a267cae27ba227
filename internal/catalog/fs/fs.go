// Package fs is the file-storage catalog driver, backed by the afs abstract
// file service so the same code serves file://, mem://, s3:// and friends.
// Partitioned locations use hive-style layout: <location>/col1=v1/col2=v2/….
package fs

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"

	"strata/internal/catalog"
	"strata/internal/partition"
)

type Catalog struct {
	fs afs.Service
}

func New() *Catalog {
	return &Catalog{fs: afs.New()}
}

func (c *Catalog) ListPartitions(ctx context.Context, location string, partitionColumns []string) ([]partition.Values, error) {
	if len(partitionColumns) == 0 {
		return nil, nil
	}
	var out []partition.Values
	err := c.walkPartitions(ctx, location, partitionColumns, partition.Values{}, func(pv partition.Values, dir string) {
		out = append(out, pv)
	})
	return out, err
}

// walkPartitions descends one hive directory level per partition column.
func (c *Catalog) walkPartitions(ctx context.Context, dir string, cols []string, prefix partition.Values, visit func(partition.Values, string)) error {
	if len(cols) == 0 {
		visit(prefix.Clone(), dir)
		return nil
	}
	objects, err := c.list(ctx, dir)
	if err != nil {
		return err
	}
	for _, o := range objects {
		if !o.IsDir() {
			continue
		}
		col, val, ok := splitHive(o.Name())
		if !ok || col != cols[0] {
			continue
		}
		next := prefix.Clone()
		next[col] = val
		if err := c.walkPartitions(ctx, o.URL(), cols[1:], next, visit); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) ListFiles(ctx context.Context, location string, filter []partition.Values) ([]catalog.File, error) {
	var files []catalog.File
	var walk func(dir string, pv partition.Values) error
	walk = func(dir string, pv partition.Values) error {
		objects, err := c.list(ctx, dir)
		if err != nil {
			return err
		}
		for _, o := range objects {
			if o.IsDir() {
				next := pv
				if col, val, ok := splitHive(o.Name()); ok {
					next = pv.Clone()
					next[col] = val
				}
				if err := walk(o.URL(), next); err != nil {
					return err
				}
				continue
			}
			if len(filter) > 0 && !matchesAny(pv, filter) {
				continue
			}
			files = append(files, catalog.File{Path: o.URL(), Size: o.Size(), Modified: o.ModTime()})
		}
		return nil
	}
	if err := walk(location, partition.Values{}); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Catalog) DeletePartitions(ctx context.Context, location string, partitionColumns []string, pvs []partition.Values) error {
	return c.walkPartitions(ctx, location, partitionColumns, partition.Values{}, func(pv partition.Values, dir string) {
		if matchesAny(pv, pvs) {
			_ = c.fs.Delete(ctx, dir)
		}
	})
}

func (c *Catalog) DeleteFiles(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := c.fs.Delete(ctx, p); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

func (c *Catalog) MoveFiles(ctx context.Context, moves map[string]string) error {
	for src, dst := range moves {
		if err := c.fs.Move(ctx, src, dst); err != nil {
			return fmt.Errorf("move %s -> %s: %w", src, dst, err)
		}
	}
	return nil
}

// list tolerates a missing directory: an empty location simply has no
// partitions or files yet.
func (c *Catalog) list(ctx context.Context, dir string) ([]storage.Object, error) {
	ok, err := c.fs.Exists(ctx, dir)
	if err != nil || !ok {
		return nil, err
	}
	objects, err := c.fs.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []storage.Object
	for _, o := range objects {
		// List reports the directory itself; skip it.
		if strings.TrimSuffix(o.URL(), "/") == strings.TrimSuffix(dir, "/") {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func splitHive(name string) (col, val string, ok bool) {
	name = strings.TrimSuffix(name, "/")
	i := strings.Index(name, "=")
	if i <= 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func matchesAny(pv partition.Values, filter []partition.Values) bool {
	for _, f := range filter {
		if f.IsIncludedIn(pv) {
			return true
		}
	}
	return false
}

func init() {
	catalog.Register("fs", func() catalog.Catalog { return New() })
}
