package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Agent.MaxIterations != 100 {
		t.Errorf("max iterations = %d", cfg.Agent.MaxIterations)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{
		// local dev setup
		gateway: { port: 9999 },
		agent: { model: "gemini-2.5-pro" },
	}`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Agent.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	// Untouched sections keep defaults.
	if cfg.Sandbox.Python != "python3" {
		t.Errorf("python = %q", cfg.Sandbox.Python)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{agent: {model: "gpt-4o"}}`), 0644)

	t.Setenv("REAGENT_MODEL", "claude-sonnet-4-5-20250929")
	t.Setenv("REAGENT_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("REAGENT_PORT", "7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Model != "claude-sonnet-4-5-20250929" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestBadPortEnvIgnored(t *testing.T) {
	t.Setenv("REAGENT_PORT", "not-a-port")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestAPIKeyNeverFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{providers: {openai: {APIKey: "leaked", api_base: "https://gw.example.com/v1"}}}`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		t.Errorf("api key read from file: %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Providers.OpenAI.APIBase != "https://gw.example.com/v1" {
		t.Errorf("api base = %q", cfg.Providers.OpenAI.APIBase)
	}
}
