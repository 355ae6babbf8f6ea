// Package commands implements the airdcppd CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "airdcppd",
	Short: "AirDC++ core daemon",
	Long: `airdcppd runs the AirDC++ core: the shared-file index with
incremental refresh and change monitoring, the Tiger-tree hashing pool,
the search matcher and the upload dispatcher.

Use "airdcppd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		rootCmd.PrintErrf("error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"YAML config file (default: none; built-in defaults and AIRDCPP_* environment apply)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "airdcppd %s (%s)\n", Version, Commit)
	},
}
