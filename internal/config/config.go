package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the reagent daemon.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Storage   StorageConfig   `json:"storage"`
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	Model         string `json:"model"`
	MaxIterations int    `json:"max_iterations"`
	ExtraPrompt   string `json:"extra_prompt,omitempty"`
}

// ProviderConfig is the per-provider connection block. API keys are read from
// env only, never persisted to the config file.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Gemini    ProviderConfig `json:"gemini"`
}

// GatewayConfig configures the HTTP server.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"`
}

// SandboxConfig configures the Python executor.
type SandboxConfig struct {
	Python         string `json:"python"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// StorageConfig locates the data directories.
type StorageConfig struct {
	DataDir      string `json:"data_dir"`      // conversations + bookmarks
	WorkspaceDir string `json:"workspace_dir"` // per-conversation outputs
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".reagent")
	return &Config{
		Agent: AgentConfig{
			Model:         "claude-sonnet-4-5-20250929",
			MaxIterations: 100,
		},
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18790,
			RateLimitRPM: 20,
		},
		Sandbox: SandboxConfig{
			Python:         "python3",
			TimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			DataDir:      base,
			WorkspaceDir: filepath.Join(base, "outputs"),
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env takes precedence
// over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("REAGENT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("REAGENT_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("REAGENT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("REAGENT_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)

	envStr("REAGENT_MODEL", &c.Agent.Model)
	envStr("REAGENT_DATA_DIR", &c.Storage.DataDir)
	envStr("REAGENT_WORKSPACE_DIR", &c.Storage.WorkspaceDir)
	envStr("REAGENT_PYTHON", &c.Sandbox.Python)

	envStr("REAGENT_HOST", &c.Gateway.Host)
	if v := os.Getenv("REAGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reagent", "config.json")
}
