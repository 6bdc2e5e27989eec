package datastore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"vpnmon/pkg/sysinfo"
	"vpnmon/pkg/tunnel"
)

// DB persists attempt outcomes and the per-host heartbeat.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the result database and bootstraps the
// schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	// WAL keeps the writer from blocking readers poking at the file.
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")

	wrapped := &DB{db}
	if err := wrapped.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

func (db *DB) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS vpn_test_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        attempt_id TEXT NOT NULL,
        computer_identifier TEXT NOT NULL,
        system_username TEXT,
        public_ip_address TEXT,
        vpn_server_name TEXT NOT NULL,
        vpn_server_ip TEXT NOT NULL,
        connection_successful BOOLEAN NOT NULL,
        connection_time_ms INTEGER NOT NULL,
        error_message TEXT,
        operating_system TEXT,
        monitor_version TEXT,
        test_timestamp DATETIME NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_results_server_timestamp
        ON vpn_test_results(vpn_server_name, test_timestamp);

    CREATE TABLE IF NOT EXISTS monitor_instances (
        computer_identifier TEXT PRIMARY KEY,
        system_username TEXT,
        operating_system TEXT,
        monitor_version TEXT,
        first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
        last_seen DATETIME NOT NULL,
        total_tests_run INTEGER NOT NULL DEFAULT 0
    );
    `

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// RecordResult inserts one test-result row and bumps the heartbeat row for
// the monitoring host in a single transaction. The cumulative test count
// increases by exactly one per call.
func (db *DB) RecordResult(ctx context.Context, host *sysinfo.Host, outcome *tunnel.Outcome) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errorMessage := sql.NullString{}
	if outcome.ErrorDetail != "" {
		errorMessage = sql.NullString{String: outcome.ErrorDetail, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO vpn_test_results
            (attempt_id, computer_identifier, system_username, public_ip_address,
             vpn_server_name, vpn_server_ip, connection_successful, connection_time_ms,
             error_message, operating_system, monitor_version, test_timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.AttemptID,
		host.Identifier,
		host.Username,
		host.PublicIP,
		outcome.Server.Name,
		outcome.Server.Address,
		outcome.Success,
		outcome.LatencyMillis(),
		errorMessage,
		host.OS,
		host.Version,
		outcome.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert test result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO monitor_instances
            (computer_identifier, system_username, operating_system, monitor_version, last_seen, total_tests_run)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, 1)
        ON CONFLICT(computer_identifier) DO UPDATE SET
            last_seen = CURRENT_TIMESTAMP,
            total_tests_run = total_tests_run + 1,
            monitor_version = excluded.monitor_version,
            operating_system = excluded.operating_system`,
		host.Identifier,
		host.Username,
		host.OS,
		host.Version,
	); err != nil {
		return fmt.Errorf("failed to upsert monitor instance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

// TotalTestsRun returns the cumulative test count for a monitoring host, or
// zero if the host has never recorded a result.
func (db *DB) TotalTestsRun(ctx context.Context, identifier string) (int64, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT total_tests_run FROM monitor_instances WHERE computer_identifier = ?`,
		identifier,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query monitor instance: %w", err)
	}
	return total, nil
}
