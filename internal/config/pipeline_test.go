package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	return path
}

func TestLoadPipelineSpec(t *testing.T) {
	path := writeSpec(t, `schema_version: v1
data_objects:
  - id: src
    store: memory
    location: src
  - id: tgt
    store: memory
    location: tgt
    partition_columns: [dt]
    expectations:
      - name: rowCount
        type: count
        scope: JobPartition
        condition: "value > 0"
    constraints:
      - name: amountPositive
        expression: "amount >= 0"
actions:
  - id: copy
    inputs: [src]
    outputs: [tgt]
    execution_mode:
      type: partition_diff
    transformers:
      - name: drop_small
        type: filter
        outputs: [tgt]
        options:
          input: src
          output: tgt
          filter: "amount > 0"
`)
	cfg, err := LoadPipelineSpec(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("schema: got %q", cfg.SchemaVersion)
	}
	if len(cfg.DataObjects) != 2 || len(cfg.Actions) != 1 {
		t.Fatalf("parsed shape: %d objects, %d actions", len(cfg.DataObjects), len(cfg.Actions))
	}
	a := cfg.Actions[0]
	if a.ExecutionMode == nil || a.ExecutionMode.Type != "partition_diff" {
		t.Fatalf("execution mode: %+v", a.ExecutionMode)
	}
	if len(a.Transformers) != 1 || a.Transformers[0].Options["filter"] != "amount > 0" {
		t.Fatalf("transformers: %+v", a.Transformers)
	}
	tgt := cfg.DataObjects[1]
	if len(tgt.Expectations) != 1 || tgt.Expectations[0].Scope != "JobPartition" {
		t.Fatalf("expectations: %+v", tgt.Expectations)
	}
}

func TestLoadPipelineSpec_DefaultsSchemaVersion(t *testing.T) {
	path := writeSpec(t, "data_objects: []\nactions: []\n")
	cfg, err := LoadPipelineSpec(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want defaulted schema, got %q", cfg.SchemaVersion)
	}
}

func TestLoadPipelineSpec_UnsupportedSchema(t *testing.T) {
	path := writeSpec(t, "schema_version: v999\n")
	if _, err := LoadPipelineSpec(path); err == nil {
		t.Fatal("want unsupported schema error")
	}
}

func TestLoadPipelineSpec_DanglingReference(t *testing.T) {
	path := writeSpec(t, `data_objects:
  - id: src
actions:
  - id: copy
    inputs: [src]
    outputs: [missing]
`)
	if _, err := LoadPipelineSpec(path); err == nil {
		t.Fatal("want dangling reference error")
	}
}

func TestLoadPipelineSpec_DuplicateIDs(t *testing.T) {
	path := writeSpec(t, `data_objects:
  - id: src
  - id: src
`)
	if _, err := LoadPipelineSpec(path); err == nil {
		t.Fatal("want duplicate id error")
	}
}

func TestLoadPipelineSpec_RecursiveInputMustBeOutput(t *testing.T) {
	path := writeSpec(t, `data_objects:
  - id: src
  - id: tgt
actions:
  - id: agg
    inputs: [src]
    outputs: [tgt]
    recursive_inputs: [src]
`)
	if _, err := LoadPipelineSpec(path); err == nil {
		t.Fatal("recursive input that is not an output must fail")
	}

	good := writeSpec(t, `data_objects:
  - id: src
  - id: tgt
actions:
  - id: agg
    inputs: [src]
    outputs: [tgt]
    recursive_inputs: [tgt]
`)
	if _, err := LoadPipelineSpec(good); err != nil {
		t.Fatalf("valid recursive input rejected: %v", err)
	}
}
