// Package fs is the file-storage compute driver: it materializes CSV files
// under a location (hive-style partition directories included) into in-memory
// tables and writes tables back as CSV, through the afs abstract file service.
// Dataset-level operations delegate to the in-memory engine, so datasets read
// here mix freely with memory-backed ones in the same pipeline.
package fs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"

	"strata/internal/compute"
	"strata/internal/compute/memory"
	"strata/internal/partition"
)

type Engine struct {
	fs  afs.Service
	mem *memory.Engine
}

func New() *Engine {
	return &Engine{fs: afs.New(), mem: memory.NewEngine()}
}

// Read collects every CSV file under location. Partition values are taken
// from the hive directory path and added as columns; a missing location is an
// empty dataset, not an error, because a landing directory legitimately
// starts out empty.
func (e *Engine) Read(ctx context.Context, location string, filter []partition.Values) (compute.Dataset, error) {
	var cols []string
	var rows []map[string]any

	var walk func(dir string, pv partition.Values) error
	walk = func(dir string, pv partition.Values) error {
		objects, err := e.list(ctx, dir)
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
			if !strings.HasSuffix(o.Name(), ".csv") {
				continue
			}
			fileCols, fileRows, err := e.readFile(ctx, o.URL(), pv)
			if err != nil {
				return err
			}
			cols = mergeCols(cols, fileCols)
			rows = append(rows, fileRows...)
		}
		return nil
	}
	if err := walk(location, partition.Values{}); err != nil {
		return nil, err
	}

	if len(filter) > 0 {
		var kept []map[string]any
		for _, row := range rows {
			if rowMatches(row, filter) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return memory.NewTable(cols, rows), nil
}

// Write persists the table as CSV: one file per partition directory, with the
// partition columns carried by the path rather than the file content.
func (e *Engine) Write(ctx context.Context, ds compute.Dataset, location string, partitionColumns []string, mode compute.SaveMode) error {
	src, ok := ds.(*memory.Table)
	if !ok {
		return fmt.Errorf("write %s: expected *memory.Table, got %T", location, ds)
	}
	if len(partitionColumns) == 0 {
		if mode == compute.Overwrite {
			if err := e.deleteCSV(ctx, location); err != nil {
				return err
			}
		}
		return e.writeFile(ctx, location, src.Cols, src.Rows, nil)
	}

	groups := map[string][]map[string]any{}
	dirs := map[string]partition.Values{}
	for _, row := range src.Rows {
		pv := partition.Values{}
		for _, c := range partitionColumns {
			pv[c] = fmt.Sprint(row[c])
		}
		key := pv.Format(partitionColumns)
		groups[key] = append(groups[key], row)
		dirs[key] = pv
	}
	for key, partRows := range groups {
		dir := strings.TrimSuffix(location, "/") + "/" + key
		if mode == compute.Overwrite {
			if err := e.deleteCSV(ctx, dir); err != nil {
				return err
			}
		}
		if err := e.writeFile(ctx, dir, src.Cols, partRows, dirs[key]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) Evaluate(ctx context.Context, ds compute.Dataset, exprs []compute.AggExpr) (compute.Metrics, error) {
	return e.mem.Evaluate(ctx, ds, exprs)
}

func (e *Engine) EvaluateByPartition(ctx context.Context, ds compute.Dataset, groupBy []string, exprs []compute.AggExpr) (map[string]compute.Metrics, []partition.Values, error) {
	return e.mem.EvaluateByPartition(ctx, ds, groupBy, exprs)
}

func (e *Engine) Filter(ctx context.Context, ds compute.Dataset, predicate string) (compute.Dataset, error) {
	return e.mem.Filter(ctx, ds, predicate)
}

func (e *Engine) WithColumn(ctx context.Context, ds compute.Dataset, name, expr string) (compute.Dataset, error) {
	return e.mem.WithColumn(ctx, ds, name, expr)
}

func (e *Engine) readFile(ctx context.Context, url string, pv partition.Values) ([]string, []map[string]any, error) {
	data, err := e.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", url, err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", url, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	header := records[0]
	cols := append([]string(nil), header...)
	for _, k := range pv.Keys() {
		cols = mergeCols(cols, []string{k})
	}
	var rows []map[string]any
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header)+len(pv))
		for i, c := range header {
			if i < len(rec) {
				row[c] = coerce(rec[i])
			}
		}
		for k, v := range pv {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

func (e *Engine) writeFile(ctx context.Context, dir string, cols []string, rows []map[string]any, pv partition.Values) error {
	header := make([]string, 0, len(cols))
	for _, c := range cols {
		// partition values live in the directory name
		if _, partitioned := pv[c]; !partitioned {
			header = append(header, c)
		}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, c := range header {
			if v, ok := row[c]; ok && v != nil {
				rec[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	url := strings.TrimSuffix(dir, "/") + "/part-" + uuid.NewString() + ".csv"
	if err := e.fs.Upload(ctx, url, 0o644, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("write %s: %w", url, err)
	}
	return nil
}

func (e *Engine) deleteCSV(ctx context.Context, dir string) error {
	objects, err := e.list(ctx, dir)
	if err != nil {
		return err
	}
	for _, o := range objects {
		if o.IsDir() || !strings.HasSuffix(o.Name(), ".csv") {
			continue
		}
		if err := e.fs.Delete(ctx, o.URL()); err != nil {
			return fmt.Errorf("delete %s: %w", o.URL(), err)
		}
	}
	return nil
}

// list tolerates a missing directory, and skips the directory's own entry.
func (e *Engine) list(ctx context.Context, dir string) ([]storage.Object, error) {
	ok, err := e.fs.Exists(ctx, dir)
	if err != nil || !ok {
		return nil, err
	}
	objects, err := e.fs.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []storage.Object
	for _, o := range objects {
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

func rowMatches(row map[string]any, filter []partition.Values) bool {
	for _, pv := range filter {
		ok := true
		for k, want := range pv {
			if fmt.Sprint(row[k]) != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// coerce parses numeric-looking CSV fields so aggregates and predicates work
// on them; everything else stays a string.
func coerce(s string) any {
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func mergeCols(cols, add []string) []string {
	for _, c := range add {
		found := false
		for _, have := range cols {
			if have == c {
				found = true
				break
			}
		}
		if !found {
			cols = append(cols, c)
		}
	}
	return cols
}

func init() {
	compute.Register("fs", func() (compute.Engine, error) { return New(), nil })
}
