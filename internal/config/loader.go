package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llamabridge/internal/bridge"
	"llamabridge/internal/common/fsutil"
)

// EnvPath names the environment variable the C surface reads its config path from.
const EnvPath = "LLAMABRIDGE_CONFIG"

// Config holds runtime parameters for the bridge and its tooling.
// Zero values mean "unspecified" and are replaced by defaults downstream.
type Config struct {
	ContextSize   int      `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads       int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers     int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	MMap          *bool    `json:"mmap" yaml:"mmap" toml:"mmap"`
	MaxTokensCap  int      `json:"max_tokens_cap" yaml:"max_tokens_cap" toml:"max_tokens_cap"`
	Temperature   float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	RepeatPenalty float32  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	Seed          int      `json:"seed" yaml:"seed" toml:"seed"`
	Stop          []string `json:"stop" yaml:"stop" toml:"stop"`

	MemoryBudgetMB int  `json:"memory_budget_mb" yaml:"memory_budget_mb" toml:"memory_budget_mb"`
	MemoryMarginMB int  `json:"memory_margin_mb" yaml:"memory_margin_mb" toml:"memory_margin_mb"`
	KeepSuperseded bool `json:"keep_superseded" yaml:"keep_superseded" toml:"keep_superseded"`

	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait       Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	DrainTimeout  Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
}

// Duration is a time.Duration written as a Go duration string ("2m", "500ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by LLAMABRIDGE_CONFIG. An unset variable
// yields the zero Config.
func LoadFromEnv() (Config, error) {
	p := strings.TrimSpace(os.Getenv(EnvPath))
	if p == "" {
		return Config{}, nil
	}
	cfg, err := Load(p)
	if err != nil {
		return cfg, fmt.Errorf("%s=%s: %w", EnvPath, p, err)
	}
	return cfg, nil
}

// BridgeConfig maps c onto bridge tunables. Engine, Logger, Metrics and
// Publisher are left for the caller.
func (c Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		ContextSize:    c.ContextSize,
		GPULayers:      c.GPULayers,
		MMap:           c.MMap,
		Threads:        c.Threads,
		Temperature:    c.Temperature,
		TopP:           c.TopP,
		TopK:           c.TopK,
		RepeatPenalty:  c.RepeatPenalty,
		Seed:           c.Seed,
		Stop:           c.Stop,
		MaxTokensCap:   c.MaxTokensCap,
		BudgetMB:       c.MemoryBudgetMB,
		MarginMB:       c.MemoryMarginMB,
		KeepSuperseded: c.KeepSuperseded,
		MaxQueueDepth:  c.MaxQueueDepth,
		MaxWait:        time.Duration(c.MaxWait),
		DrainTimeout:   time.Duration(c.DrainTimeout),
	}
}
