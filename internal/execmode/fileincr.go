package execmode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"strata/internal/catalog"
	"strata/internal/logging"
	"strata/internal/transform"
)

// FileIncrementalMove processes whatever files are present at the main
// input, then in PostExec either deletes them or moves them to an archive
// path so a subsequent run only sees new files. Move (not copy) semantics
// guarantee a file is never processed twice.
type FileIncrementalMove struct {
	archivePath string
}

func NewFileIncrementalMove(opts transform.Options) (Mode, error) {
	return &FileIncrementalMove{archivePath: opts["archive_path"]}, nil
}

func (m *FileIncrementalMove) Apply(ctx context.Context, in Input) (Result, error) {
	if err := in.State.acquire("apply"); err != nil {
		return Result{}, err
	}
	defer in.State.release()

	files, err := in.InputCatalog.ListFiles(ctx, in.MainInput.Location, in.InputPartitionValues)
	if err != nil {
		return Result{}, fmt.Errorf("action %s: list files: %w", in.ActionID, err)
	}
	if len(files) == 0 {
		return Result{Outcome: NoData}, nil
	}
	in.State.StashFiles(files)
	return Result{
		Outcome:         Process,
		PartitionValues: in.InputPartitionValues,
		Options:         transform.Options{"files_observed": strconv.Itoa(len(files))},
	}, nil
}

// PostExec runs after a successful write. Taking the stashed files clears
// the accumulator, so a repeated call is a no-op.
func (m *FileIncrementalMove) PostExec(ctx context.Context, in Input) error {
	if err := in.State.acquire("postExec"); err != nil {
		return err
	}
	defer in.State.release()

	files := in.State.TakeFiles()
	if len(files) == 0 {
		return nil
	}
	if m.archivePath != "" {
		moves := make(map[string]string, len(files))
		for _, f := range files {
			moves[f.Path] = archiveTarget(m.archivePath, in.MainInput.Location, f)
		}
		if err := in.InputCatalog.MoveFiles(ctx, moves); err != nil {
			return fmt.Errorf("action %s: archive files: %w", in.ActionID, err)
		}
	} else {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		if err := in.InputCatalog.DeleteFiles(ctx, paths); err != nil {
			return fmt.Errorf("action %s: delete files: %w", in.ActionID, err)
		}
	}

	// Bookkeeping for operators: when the last batch was consumed. The
	// watermark only moves forward; a clock skew between sources must not
	// roll it back.
	var latest time.Time
	for _, f := range files {
		if f.Modified.After(latest) {
			latest = f.Modified
		}
	}
	if prev, err := in.State.Load(ctx); err != nil {
		logging.L().Warn("loading incremental state failed", "action", in.ActionID, "error", err)
	} else if prev != nil {
		if t, err := time.Parse(time.RFC3339, *prev); err == nil && t.After(latest) {
			latest = t
		}
	}
	ts := latest.UTC().Format(time.RFC3339)
	if err := in.State.Save(ctx, &ts); err != nil {
		logging.L().Warn("persisting incremental state failed", "action", in.ActionID, "error", err)
	}
	return nil
}

func archiveTarget(archivePath, location string, f catalog.File) string {
	rel := strings.TrimPrefix(f.Path, strings.TrimSuffix(location, "/"))
	rel = strings.TrimPrefix(rel, "/")
	return strings.TrimSuffix(archivePath, "/") + "/" + rel
}

func init() {
	Register("file_incremental_move", NewFileIncrementalMove)
}
