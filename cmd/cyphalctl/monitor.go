package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenCyphal/libuavcan/monitoring"
)

var (
	monitorAddr     string
	monitorOpen     bool
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Tail a running monitoring.Server's JSON snapshots.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if monitorAddr == "" {
			monitorAddr = fmt.Sprintf("localhost:%d", cfg.MonitoringPort)
		}

		if monitorOpen {
			if err := monitoring.Open(monitorAddr); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "open browser:", err)
			}
		}

		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			if err := printTransportSnapshot(cmd, monitorAddr); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			<-ticker.C
		}
	},
}

func printTransportSnapshot(cmd *cobra.Command, addr string) error {
	resp, err := http.Get("http://" + addr + "/api/transports")
	if err != nil {
		return fmt.Errorf("fetch transport snapshot: %w", err)
	}
	defer resp.Body.Close()

	var snapshots []struct {
		Name             string `json:"name"`
		TxQueueLen       int    `json:"tx_queue_len"`
		TxQueueDropped   uint64 `json:"tx_queue_dropped"`
		MessageSessions  int    `json:"message_sessions"`
		RequestSessions  int    `json:"request_sessions"`
		ResponseSessions int    `json:"response_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return fmt.Errorf("decode transport snapshot: %w", err)
	}

	for _, s := range snapshots {
		fmt.Fprintf(cmd.OutOrStdout(),
			"%s: tx_queue=%d dropped=%d sessions(msg=%d req=%d resp=%d)\n",
			s.Name, s.TxQueueLen, s.TxQueueDropped,
			s.MessageSessions, s.RequestSessions, s.ResponseSessions)
	}
	return nil
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "", "address of a running monitoring.Server (default localhost:<LIBUAVCAN_MONITORING_PORT>)")
	monitorCmd.Flags().BoolVar(&monitorOpen, "open", false, "open the monitoring dashboard in a browser")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "polling interval")

	rootCmd.AddCommand(monitorCmd)
}
