// Package config loads the tunables a libuavcan node is constructed with —
// session timeouts, queue depths, and the monitoring/persistence knobs
// wired up in cmd/cyphalctl — from environment variables, optionally
// seeded from a .env file via github.com/joho/godotenv the way a
// twelve-factor service picks up local overrides in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/OpenCyphal/libuavcan/executor"
)

// Config aggregates every tunable spec.md section 6 and section 5 name,
// loaded once by the constructor caller and passed down explicitly —
// no package-level globals, per section 5's "no shared state beyond the
// pool".
type Config struct {
	// TransferIDTimeout bounds how long a partially reassembled transfer
	// waits for its next frame before Reassembler.EvictStale drops it.
	TransferIDTimeout executor.Duration
	// DefaultResponseTimeout is the deadline presentation.Endpoint arms
	// for a Client.Request when the caller does not supply one of its own.
	DefaultResponseTimeout executor.Duration
	// TxQueueCapacity is the number of pending frames/datagrams
	// transport.can.TxQueue and transport.udp.TxQueue hold. When full, a
	// push evicts the lowest-priority entry only if it outranks it;
	// otherwise the push fails with ErrCapacity.
	TxQueueCapacity int
	// MonitoringPort is the TCP port monitoring.Server.WithPortNumber
	// binds to; 0 lets the OS assign an ephemeral port.
	MonitoringPort int
	// TransferIDDBPath is the SQLite file persistence.SQLiteTransferIDMap
	// opens; empty means no persistence, callers fall back to
	// presentation.NewInMemoryTransferIDMap.
	TransferIDDBPath string
}

// defaults apply to every field the environment leaves unset: a 2 s
// transfer-id timeout, a 1 s response timeout and a TX queue of 64 entries.
var defaults = Config{
	TransferIDTimeout:      executor.Duration(2 * time.Second),
	DefaultResponseTimeout: executor.Duration(time.Second),
	TxQueueCapacity:        64,
	MonitoringPort:         0,
	TransferIDDBPath:       "",
}

// Load reads envPath (if non-empty) into the process environment via
// godotenv, then builds a Config from LIBUAVCAN_-prefixed environment
// variables, falling back to defaults for anything unset. A missing
// envPath is not an error — godotenv.Load is only ever used for local
// development overrides, so its absence in production (where real
// environment variables are set directly) is expected.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	cfg := defaults

	if v, ok := os.LookupEnv("LIBUAVCAN_TRANSFER_ID_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("LIBUAVCAN_TRANSFER_ID_TIMEOUT: %w", err)
		}
		cfg.TransferIDTimeout = executor.Duration(d)
	}

	if v, ok := os.LookupEnv("LIBUAVCAN_DEFAULT_RESPONSE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("LIBUAVCAN_DEFAULT_RESPONSE_TIMEOUT: %w", err)
		}
		cfg.DefaultResponseTimeout = executor.Duration(d)
	}

	if v, ok := os.LookupEnv("LIBUAVCAN_TX_QUEUE_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("LIBUAVCAN_TX_QUEUE_CAPACITY: %w", err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("LIBUAVCAN_TX_QUEUE_CAPACITY: must be positive, got %d", n)
		}
		cfg.TxQueueCapacity = n
	}

	if v, ok := os.LookupEnv("LIBUAVCAN_MONITORING_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("LIBUAVCAN_MONITORING_PORT: %w", err)
		}
		cfg.MonitoringPort = n
	}

	if v, ok := os.LookupEnv("LIBUAVCAN_TRANSFER_ID_DB_PATH"); ok {
		cfg.TransferIDDBPath = v
	}

	return &cfg, nil
}
