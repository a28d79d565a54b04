package main

import (
	"os"
	"path/filepath"

	"github.com/ifBars/orchestrix/internal/mcp"
	"gopkg.in/yaml.v3"
)

// Config is orchestrix's on-disk configuration: a YAML file with the
// same "load then let env vars win" idiom the teacher's internal/config
// uses, trimmed down to what this CLI actually needs.
type Config struct {
	Workspace string `yaml:"workspace"`

	DatabasePath string `yaml:"database_path"`

	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	SkillsGlobalDir  string `yaml:"skills_global_dir"`
	PresetsGlobalDir string `yaml:"presets_global_dir"`

	MCP mcp.Config `yaml:"mcp"`

	// OTLPEndpoint is the OTLP gRPC collector address spans are shipped
	// to (e.g. "localhost:4317"). Left empty, tracing is a local no-op.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// defaultConfigPath is where loadConfig looks when --config isn't
// given.
const defaultConfigPath = "orchestrix.yaml"

// loadConfig reads path (defaulting to defaultConfigPath); a missing
// file is not an error, since every field has a workable zero value or
// an env var fallback.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	cfg := &Config{
		Workspace:       ".",
		DatabasePath:    ".orchestrix/orchestrix.db",
		DefaultProvider: "anthropic",
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("APP_DATA_DIR"); v != "" {
		cfg.DatabasePath = filepath.Join(v, "orchestrix.db")
	}
	if v := os.Getenv("ORCHESTRIX_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("ORCHESTRIX_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	return cfg, nil
}
