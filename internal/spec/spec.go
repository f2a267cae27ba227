package spec

// File is the parsed pipeline definition: named data objects wired into a
// DAG of actions.
type File struct {
	SchemaVersion string `yaml:"schema_version"`

	DataObjects []DataObjectSpec `yaml:"data_objects"`
	Actions     []ActionSpec     `yaml:"actions"`
}

type DataObjectSpec struct {
	ID string `yaml:"id"`
	// Store names the catalog driver ("memory", "fs", …).
	Store             string   `yaml:"store"`
	Location          string   `yaml:"location"`
	PartitionColumns  []string `yaml:"partition_columns"`
	AllowOverwriteAll bool     `yaml:"allow_overwrite_all"`

	Expectations []ExpectationSpec `yaml:"expectations"`
	Constraints  []ConstraintSpec  `yaml:"constraints"`
}

type ExpectationSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // "count", "fraction", "agg", "avg_partition_rows"
	Description string `yaml:"description"`
	Scope       string `yaml:"scope"`    // Job|JobPartition|All, default Job
	Severity    string `yaml:"severity"` // Error|Warn, default Error
	// Condition over the computed metric, variable `value`.
	Condition string `yaml:"condition"`

	// count / agg
	Filter string `yaml:"filter"`
	// agg
	Aggregate string `yaml:"aggregate"`
	Column    string `yaml:"column"`
	// fraction
	CountCondition  string `yaml:"count_condition"`
	GlobalCondition string `yaml:"global_condition"`
}

type ConstraintSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Expression  string `yaml:"expression"`
}

type ActionSpec struct {
	ID              string   `yaml:"id"`
	Inputs          []string `yaml:"inputs"`
	Outputs         []string `yaml:"outputs"`
	RecursiveInputs []string `yaml:"recursive_inputs"`
	MainInput       string   `yaml:"main_input"`
	MainOutput      string   `yaml:"main_output"`

	ExecutionCondition string   `yaml:"execution_condition"`
	IgnoreFilterInputs []string `yaml:"ignore_filter_inputs"`

	ExecutionMode *ExecutionModeSpec `yaml:"execution_mode"`

	// Ordered transformer chain.
	Transformers []TransformerSpec `yaml:"transformers"`
}

type ExecutionModeSpec struct {
	Type        string            `yaml:"type"` // registry key, e.g. "partition_diff"
	ArchivePath string            `yaml:"archive_path"`
	Options     map[string]string `yaml:"options"`
}

type TransformerSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // registry key, e.g. "filter", "add_column"
	// Outputs declares the dataset names this stage produces; checked
	// against the action's outputs at load time.
	Outputs []string `yaml:"outputs"`
	// PartitionMap renames partition keys (input key → output key).
	PartitionMap map[string]string `yaml:"partition_map"`
	Options      map[string]string `yaml:"options"`
}
