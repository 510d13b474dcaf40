package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenCyphal/libuavcan/config"
)

var envPath string

// cfg is populated by rootCmd's PersistentPreRunE before any subcommand
// runs, so every child command can fall back to its values instead of
// forcing the operator to repeat every flag on the command line.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cyphalctl",
	Short: "cyphalctl inspects and monitors a running libuavcan node.",
	Long: `cyphalctl inspects and monitors a running libuavcan node: it can
dump a persisted transfer-id map offline, or tail the JSON snapshots a
monitoring.Server exposes over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(envPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "path to a .env file of LIBUAVCAN_* overrides")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
