package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"strata/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version and the
// basic cross-references, and returns the parsed spec.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate catches dangling ids before anything is instantiated.
func validate(cfg spec.File) error {
	objects := map[string]bool{}
	for _, do := range cfg.DataObjects {
		if do.ID == "" {
			return fmt.Errorf("data object without id")
		}
		if objects[do.ID] {
			return fmt.Errorf("duplicate data object id %q", do.ID)
		}
		objects[do.ID] = true
	}
	actions := map[string]bool{}
	for _, a := range cfg.Actions {
		if a.ID == "" {
			return fmt.Errorf("action without id")
		}
		if actions[a.ID] {
			return fmt.Errorf("duplicate action id %q", a.ID)
		}
		actions[a.ID] = true
		for _, id := range append(append(append([]string{}, a.Inputs...), a.Outputs...), a.RecursiveInputs...) {
			if !objects[id] {
				return fmt.Errorf("action %s references unknown data object %q", a.ID, id)
			}
		}
		for _, id := range a.RecursiveInputs {
			found := false
			for _, out := range a.Outputs {
				if out == id {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("action %s: recursive input %q must also be an output", a.ID, id)
			}
		}
	}
	return nil
}
