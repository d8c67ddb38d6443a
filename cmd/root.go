package cmd

import (
	"fmt"
	"os"
	stdruntime "runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/reagentd/reagent/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "reagent",
	Short: "reagent — tool-using LLM agent daemon",
	Long:  "reagent runs an LLM agent loop with a sandboxed Python executor, per-user conversation storage and an SSE gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.reagent/config.json or $REAGENT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reagent %s (%s/%s, %s)\n", Version, stdruntime.GOOS, stdruntime.GOARCH, stdruntime.Version())
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("REAGENT_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath()
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
