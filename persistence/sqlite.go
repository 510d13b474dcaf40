// Package persistence implements the optional transfer-id storage
// spec.md section 6 names: a durable record keyed by (port-id, node-id,
// kind) whose value is the next transfer-id to assign. Grounded on the
// teacher's tracing.SQLiteTraceWriter, which pairs github.com/mattn/go-sqlite3
// with github.com/tebeka/atexit for durable-write-on-exit semantics —
// here adapted from a batched append-only trace log to a small upserted
// key-value table, since transfer-id records are read once at publisher
// construction and written once at destruction, never streamed.
package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tebeka/atexit"

	"github.com/OpenCyphal/libuavcan/presentation"
	"github.com/OpenCyphal/libuavcan/types"
)

// SQLiteTransferIDMap implements presentation.TransferIDMap against a
// SQLite table `transfer_id (port_id, node_id, kind, next_transfer_id)`.
type SQLiteTransferIDMap struct {
	db        *sql.DB
	loadStmt  *sql.Stmt
	storeStmt *sql.Stmt
}

// NewSQLiteTransferIDMap opens (creating if necessary) the database at
// path and registers an exit hook that closes it, guaranteeing pending
// writes are flushed to disk even if the embedder never calls Close.
func NewSQLiteTransferIDMap(path string) (*SQLiteTransferIDMap, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open transfer-id database: %w", err)
	}

	m := &SQLiteTransferIDMap{db: db}
	if err := m.init(); err != nil {
		db.Close()
		return nil, err
	}

	atexit.Register(func() { m.Close() })

	return m, nil
}

func (m *SQLiteTransferIDMap) init() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS transfer_id (
			port_id          INTEGER NOT NULL,
			node_id          INTEGER NOT NULL,
			kind             INTEGER NOT NULL,
			next_transfer_id INTEGER NOT NULL,
			PRIMARY KEY (port_id, node_id, kind)
		)
	`)
	if err != nil {
		return fmt.Errorf("create transfer_id table: %w", err)
	}

	loadStmt, err := m.db.Prepare(`
		SELECT next_transfer_id FROM transfer_id
		WHERE port_id = ? AND node_id = ? AND kind = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare load statement: %w", err)
	}
	m.loadStmt = loadStmt

	storeStmt, err := m.db.Prepare(`
		INSERT INTO transfer_id (port_id, node_id, kind, next_transfer_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (port_id, node_id, kind)
		DO UPDATE SET next_transfer_id = excluded.next_transfer_id
	`)
	if err != nil {
		return fmt.Errorf("prepare store statement: %w", err)
	}
	m.storeStmt = storeStmt

	return nil
}

// Load returns the stored next-transfer-id for key, if any row exists.
func (m *SQLiteTransferIDMap) Load(key presentation.TransferIDKey) (types.TransferID, bool) {
	var next uint64
	err := m.loadStmt.QueryRow(key.Port, key.Node, key.Kind).Scan(&next)
	if err != nil {
		return 0, false
	}
	return types.TransferID(next), true
}

// Store upserts the next-transfer-id for key.
func (m *SQLiteTransferIDMap) Store(key presentation.TransferIDKey, next types.TransferID) {
	_, err := m.storeStmt.Exec(key.Port, key.Node, key.Kind, uint64(next))
	if err != nil {
		panic(fmt.Errorf("store transfer-id for %+v: %w", key, err))
	}
}

// Close releases the underlying database handle. Safe to call more than
// once (e.g. once explicitly and once via the atexit hook).
func (m *SQLiteTransferIDMap) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// Record is one row of the transfer_id table, exported for cyphalctl's
// inspection subcommand.
type Record struct {
	Key  presentation.TransferIDKey
	Next types.TransferID
}

// All returns every stored (key, next-transfer-id) pair, ordered by
// port-id, node-id, kind. Used by cyphalctl to dump a persistence file
// without embedding a whole node.
func (m *SQLiteTransferIDMap) All() ([]Record, error) {
	rows, err := m.db.Query(`
		SELECT port_id, node_id, kind, next_transfer_id FROM transfer_id
		ORDER BY port_id, node_id, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("list transfer-id records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var kind uint8
		var next uint64
		if err := rows.Scan(&rec.Key.Port, &rec.Key.Node, &kind, &next); err != nil {
			return nil, fmt.Errorf("scan transfer-id record: %w", err)
		}
		rec.Key.Kind = types.Kind(kind)
		rec.Next = types.TransferID(next)
		out = append(out, rec)
	}
	return out, rows.Err()
}
