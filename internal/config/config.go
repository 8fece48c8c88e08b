package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"vramd/internal/common/fsutil"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by defaults in Normalize.
type Config struct {
	Addr        string        `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir   string        `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DeviceIndex int           `json:"device_index" yaml:"device_index" toml:"device_index"`
	IdleTimeout Duration `json:"idle_timeout" yaml:"idle_timeout" toml:"idle_timeout"`

	Llama  LlamaConfig            `json:"llama" yaml:"llama" toml:"llama"`
	Tools  ToolsConfig            `json:"tools" yaml:"tools" toml:"tools"`
	Models map[string]ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// LlamaConfig controls how backend llama-server processes are launched.
type LlamaConfig struct {
	Bin       string `json:"bin" yaml:"bin" toml:"bin"`
	Host      string `json:"host" yaml:"host" toml:"host"`
	PortStart int    `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd   int    `json:"port_end" yaml:"port_end" toml:"port_end"`
	Threads   int    `json:"threads" yaml:"threads" toml:"threads"`
	NGL       int    `json:"ngl" yaml:"ngl" toml:"ngl"`
	// Line substring that marks the backend as ready to serve.
	ReadyMarker  string        `json:"ready_marker" yaml:"ready_marker" toml:"ready_marker"`
	StartTimeout Duration      `json:"start_timeout" yaml:"start_timeout" toml:"start_timeout"`
	StopGrace    Duration      `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`
}

// ToolsConfig names the external tools consulted for memory figures.
type ToolsConfig struct {
	EstimatorBin string `json:"estimator_bin" yaml:"estimator_bin" toml:"estimator_bin"`
	MonitorBin   string `json:"monitor_bin" yaml:"monitor_bin" toml:"monitor_bin"`
}

// ModelConfig is the static descriptor for one named model.
type ModelConfig struct {
	File string `json:"file" yaml:"file" toml:"file"`
	// Fixed backend port; 0 picks a free port from the configured range.
	Port int `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	// nil defaults to true. Models with unloadable=false are never evicted.
	Unloadable *bool `json:"unloadable,omitempty" yaml:"unloadable,omitempty" toml:"unloadable,omitempty"`
	// Whether the backend is started with embeddings support.
	Embeddings bool         `json:"embeddings,omitempty" yaml:"embeddings,omitempty" toml:"embeddings,omitempty"`
	Params     ModelParams  `json:"params" yaml:"params" toml:"params"`
	Draft      *DraftConfig `json:"draft,omitempty" yaml:"draft,omitempty" toml:"draft,omitempty"`
}

// ModelParams are the sampling and cache parameters passed to llama-server.
type ModelParams struct {
	Context        ContextSize `json:"context" yaml:"context" toml:"context"`
	Temperature    float64     `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK           int         `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP           float64     `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP           float64     `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty  float64     `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	CacheTypeK     string      `json:"cache_type_k" yaml:"cache_type_k" toml:"cache_type_k"`
	CacheTypeV     string      `json:"cache_type_v" yaml:"cache_type_v" toml:"cache_type_v"`
	FlashAttention bool        `json:"flash_attention" yaml:"flash_attention" toml:"flash_attention"`
	Jinja          bool        `json:"jinja" yaml:"jinja" toml:"jinja"`
}

// DraftConfig configures a speculative-decoding draft model.
type DraftConfig struct {
	File       string `json:"file" yaml:"file" toml:"file"`
	CacheTypeK string `json:"cache_type_k" yaml:"cache_type_k" toml:"cache_type_k"`
	CacheTypeV string `json:"cache_type_v" yaml:"cache_type_v" toml:"cache_type_v"`
}

// Defaults applied by Normalize when fields are unset.
const (
	DefaultAddr         = ":3000"
	DefaultIdleTimeout  = Duration(5 * time.Minute)
	DefaultLlamaBin     = "llama-server"
	DefaultLlamaHost    = "127.0.0.1"
	DefaultPortStart    = 30000
	DefaultPortEnd      = 30063
	DefaultReadyMarker  = "server is listening on"
	DefaultStartTimeout = Duration(120 * time.Second)
	DefaultStopGrace    = Duration(30 * time.Second)
	DefaultEstimatorBin = "gguf-parser"
	DefaultMonitorBin   = "rocm-smi"
)

// cache quant types accepted by llama-server --cache-type-k/--cache-type-v.
var validCacheTypes = map[string]bool{
	"": true, // unset, backend default
	"f32": true, "f16": true, "bf16": true,
	"q8_0": true, "q4_0": true, "q4_1": true,
	"iq4_nl": true, "q5_0": true, "q5_1": true,
}

// Normalize fills defaults and resolves model file paths against ModelsDir.
func (c *Config) Normalize() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Llama.Bin == "" {
		c.Llama.Bin = DefaultLlamaBin
	}
	if c.Llama.Host == "" {
		c.Llama.Host = DefaultLlamaHost
	}
	if c.Llama.PortStart <= 0 {
		c.Llama.PortStart = DefaultPortStart
	}
	if c.Llama.PortEnd < c.Llama.PortStart {
		c.Llama.PortEnd = DefaultPortEnd
	}
	if c.Llama.ReadyMarker == "" {
		c.Llama.ReadyMarker = DefaultReadyMarker
	}
	if c.Llama.StartTimeout <= 0 {
		c.Llama.StartTimeout = DefaultStartTimeout
	}
	if c.Llama.StopGrace <= 0 {
		c.Llama.StopGrace = DefaultStopGrace
	}
	if c.Tools.EstimatorBin == "" {
		c.Tools.EstimatorBin = DefaultEstimatorBin
	}
	if c.Tools.MonitorBin == "" {
		c.Tools.MonitorBin = DefaultMonitorBin
	}
	dir, err := fsutil.ExpandHome(c.ModelsDir)
	if err != nil {
		return err
	}
	c.ModelsDir = dir
	return c.validate()
}

func (c *Config) validate() error {
	for name, m := range c.Models {
		if m.File == "" {
			return fmt.Errorf("model %q: file is required", name)
		}
		if !validCacheTypes[m.Params.CacheTypeK] {
			return fmt.Errorf("model %q: invalid cache_type_k %q", name, m.Params.CacheTypeK)
		}
		if !validCacheTypes[m.Params.CacheTypeV] {
			return fmt.Errorf("model %q: invalid cache_type_v %q", name, m.Params.CacheTypeV)
		}
		if d := m.Draft; d != nil {
			if d.File == "" {
				return fmt.Errorf("model %q: draft file is required", name)
			}
			if !validCacheTypes[d.CacheTypeK] || !validCacheTypes[d.CacheTypeV] {
				return fmt.Errorf("model %q: invalid draft cache type", name)
			}
		}
	}
	return nil
}

// ModelPath resolves a configured model file against ModelsDir.
func (c *Config) ModelPath(file string) string {
	if filepath.IsAbs(file) || c.ModelsDir == "" {
		return file
	}
	return filepath.Join(c.ModelsDir, file)
}

// ModelNames returns the configured model identifiers, sorted.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsUnloadable reports whether a model may be chosen for eviction.
func (m ModelConfig) IsUnloadable() bool {
	return m.Unloadable == nil || *m.Unloadable
}
