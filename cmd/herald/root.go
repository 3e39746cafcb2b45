package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the linker in release builds.
var version = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Rate-limited message dispatch across chat platforms",
	Long: `herald journals outbound messages, paces them against per-platform
rate limits, retries transient delivery failures with exponential backoff,
and watches each platform for mentions of the configured account.

Platform credentials live in an encrypted vault managed with the vault
subcommands; the daemon itself is driven by herald.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the herald version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("herald " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", `config file path (default "herald.yaml")`)
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(versionCmd)
}
