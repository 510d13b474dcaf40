package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenCyphal/libuavcan/persistence"
)

var transferIDDBPath string

var transferIDCmd = &cobra.Command{
	Use:   "transferid",
	Short: "Inspect a persisted transfer-id map.",
}

var transferIDDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every (port, node, kind) -> next-transfer-id record.",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := transferIDDBPath
		if dbPath == "" {
			dbPath = cfg.TransferIDDBPath
		}
		if dbPath == "" {
			return fmt.Errorf("no database path: pass --db or set LIBUAVCAN_TRANSFER_ID_DB_PATH")
		}

		m, err := persistence.NewSQLiteTransferIDMap(dbPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", dbPath, err)
		}
		defer m.Close()

		records, err := m.All()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "no records")
			return nil
		}

		fmt.Fprintf(out, "%-8s %-8s %-10s %s\n", "PORT", "NODE", "KIND", "NEXT")
		for _, r := range records {
			fmt.Fprintf(out, "%-8d %-8d %-10s %d\n", r.Key.Port, r.Key.Node, r.Key.Kind, r.Next)
		}
		return nil
	},
}

func init() {
	transferIDDumpCmd.Flags().StringVar(&transferIDDBPath, "db", "", "path to the transfer-id SQLite database (default LIBUAVCAN_TRANSFER_ID_DB_PATH)")

	transferIDCmd.AddCommand(transferIDDumpCmd)
	rootCmd.AddCommand(transferIDCmd)
}
