package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"vramd/internal/common/fsutil"
)

// Load reads a configuration file based on its extension and applies
// defaults. Supports: .yaml/.yml, .json, .toml. If the file does not exist
// a default configuration is written there first, in the same format, so a
// first run leaves an editable file behind.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	if !fsutil.PathExists(path) {
		if err := writeDefault(path); err != nil {
			return cfg, err
		}
	}
	b, err := os.ReadFile(path)
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
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a configuration with one commented-out example model.
func Default() Config {
	return Config{
		Addr:        DefaultAddr,
		ModelsDir:   "~/models/llm",
		IdleTimeout: DefaultIdleTimeout,
		Llama: LlamaConfig{
			Bin:          DefaultLlamaBin,
			Host:         DefaultLlamaHost,
			PortStart:    DefaultPortStart,
			PortEnd:      DefaultPortEnd,
			ReadyMarker:  DefaultReadyMarker,
			StartTimeout: DefaultStartTimeout,
			StopGrace:    DefaultStopGrace,
		},
		Tools: ToolsConfig{
			EstimatorBin: DefaultEstimatorBin,
			MonitorBin:   DefaultMonitorBin,
		},
		Models: map[string]ModelConfig{
			"llama-3.1-8b": {
				File: "llama-3.1-8b-instruct-Q4_K_M.gguf",
				Params: ModelParams{
					Context:       ContextSize(8 * 1024),
					Temperature:   0.8,
					TopK:          40,
					TopP:          0.9,
					MinP:          0.1,
					RepeatPenalty: 1.0,
				},
			},
		},
	}
}

func writeDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	cfg := Default()
	var b []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	case ".json":
		b, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		b, err = toml.Marshal(cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
