package engine

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type StateCfg struct {
	Driver string `koanf:"driver"` // memory|sqlite
	DSN    string `koanf:"dsn"`
}

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type ComputeCfg struct {
	Driver string `koanf:"driver"` // memory|fs
}

type Config struct {
	PipelinePath string     `koanf:"pipeline_path"`
	MetricsPort  int        `koanf:"metrics_port"`
	Workers      int        `koanf:"workers"`
	State        StateCfg   `koanf:"state"`
	Compute      ComputeCfg `koanf:"compute"`
	Log          LogCfg     `koanf:"log"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `STRATA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("STRATA__", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "STRATA__")), "__", ".")
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PipelinePath == "" {
		cfg.PipelinePath = "pipeline.yml"
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9100
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.State.Driver == "" {
		cfg.State.Driver = "memory"
	}
	if cfg.Compute.Driver == "" {
		cfg.Compute.Driver = "memory"
	}
}
