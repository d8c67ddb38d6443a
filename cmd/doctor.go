package cmd

import (
	"fmt"
	"os"
	"os/exec"
	stdruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/reagentd/reagent/internal/config"
)

func doctorCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(rebuild)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild-index", false, "rescan conversation files and rewrite the index")
	return cmd
}

func runDoctor(rebuild bool) {
	fmt.Println("reagent doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", stdruntime.GOOS, stdruntime.GOARCH)
	fmt.Printf("  Go:       %s\n", stdruntime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println("  Providers:")
	check := func(name, key string) {
		if key != "" {
			fmt.Printf("    %-10s key set\n", name+":")
		} else {
			fmt.Printf("    %-10s no key\n", name+":")
		}
	}
	check("openai", cfg.Providers.OpenAI.APIKey)
	check("anthropic", cfg.Providers.Anthropic.APIKey)
	check("gemini", cfg.Providers.Gemini.APIKey)

	fmt.Printf("  Python:   %s", cfg.Sandbox.Python)
	if path, err := exec.LookPath(cfg.Sandbox.Python); err != nil {
		fmt.Println(" (NOT FOUND — code_executor will fail)")
	} else {
		fmt.Printf(" (%s)\n", path)
	}

	fmt.Printf("  Data dir: %s", cfg.Storage.DataDir)
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		fmt.Printf(" (NOT WRITABLE: %v)\n", err)
		return
	}
	fmt.Println(" (OK)")

	rt, err := buildStores()
	if err != nil {
		fmt.Printf("  Store open error: %s\n", err)
		return
	}
	defer rt.Close()

	if rebuild {
		fmt.Print("  Rebuilding conversation index...")
		if err := rt.store.RebuildIndex(); err != nil {
			fmt.Printf(" FAILED: %v\n", err)
			return
		}
		fmt.Println(" OK")
	}
	fmt.Println("\nall checks passed")
}
