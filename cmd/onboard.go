package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/reagentd/reagent/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

var providerEnvKeys = map[string]string{
	"anthropic": "REAGENT_ANTHROPIC_API_KEY",
	"openai":    "REAGENT_OPENAI_API_KEY",
	"gemini":    "REAGENT_GEMINI_API_KEY",
}

var providerModelHints = map[string]string{
	"anthropic": "claude-sonnet-4-5-20250929",
	"openai":    "gpt-4o",
	"gemini":    "gemini-2.5-pro",
}

func runOnboard() {
	cfg := config.Default()

	provider := "anthropic"
	model := ""
	portStr := strconv.Itoa(cfg.Gateway.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default provider").
				Options(huh.NewOptions("anthropic", "openai", "gemini")...).
				Value(&provider),
			huh.NewInput().
				Title("Default model (empty for the provider default)").
				Value(&model),
			huh.NewInput().
				Title("Gateway port").
				Value(&portStr).
				Validate(func(s string) error {
					if p, err := strconv.Atoi(s); err != nil || p <= 0 || p > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "onboard aborted:", err)
		os.Exit(1)
	}

	if model == "" {
		model = providerModelHints[provider]
	}
	cfg.Agent.Model = model
	cfg.Gateway.Port, _ = strconv.Atoi(portStr)

	path := resolveConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintln(os.Stderr, "create config dir:", err)
		os.Exit(1)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal config:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		fmt.Fprintln(os.Stderr, "write config:", err)
		os.Exit(1)
	}

	fmt.Println("wrote", path)
	fmt.Println()
	fmt.Println("API keys are read from the environment, never the config file. Add to your shell profile:")
	fmt.Printf("  export %s=...\n", providerEnvKeys[provider])
	fmt.Println()
	fmt.Println("Then start the daemon with: reagent gateway")
}
