package metrics

import (
	"database/sql"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS metrics_history (
	       id                INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms      INTEGER NOT NULL,
	       messages_received INTEGER NOT NULL CHECK (messages_received >= 0),
	       messages_sent     INTEGER NOT NULL CHECK (messages_sent >= 0),
	       decode_errors     INTEGER NOT NULL CHECK (decode_errors >= 0),
	       send_errors       INTEGER NOT NULL CHECK (send_errors >= 0),
	       dropped_frames    INTEGER NOT NULL CHECK (dropped_frames >= 0),
	       avg_latency_ms    REAL NOT NULL,
	       connections       INTEGER NOT NULL CHECK (connections >= 0),
	       memory_usage      INTEGER NOT NULL,
	       throughput        REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_metrics_history_ts ON metrics_history (timestamp_ms);`

	insertSnapshotSQL = `
    INSERT INTO metrics_history (
        timestamp_ms,
        messages_received, messages_sent,
        decode_errors, send_errors, dropped_frames,
        avg_latency_ms, connections, memory_usage, throughput
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	recordVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`
	latestVersionSQL = `SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`
	tableExistsSQL   = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
)

// InitSchema creates the history tables and records SchemaVersion in
// a single transaction.
func InitSchema(db *sql.DB, log logger.Logger) error {
	err := withTx(db, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return errors.New().Wrap(ErrSchemaInitFailed, err).WithMessage("create tables")
		}
		if _, err := tx.Exec(recordVersionSQL, SchemaVersion); err != nil {
			return errors.New().Wrap(ErrSchemaInitFailed, err).WithMessage("record schema version")
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Metrics history schema initialized")
	return nil
}

// withTx runs fn inside a transaction, rolling back unless fn succeeds
// and the commit goes through.
func withTx(db *sql.DB, log logger.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	return nil
}

// GetSchemaVersion returns the recorded schema version, or 0 for an
// empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := tableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	err = db.QueryRow(latestVersionSQL).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errors.New().Wrap(ErrSchemaValidationFailed, err).WithMessage("read schema version")
	}
	return version, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, name).Scan(&exists); err != nil {
		return false, errors.New().Wrap(ErrSchemaValidationFailed, err).WithData(name)
	}
	return exists, nil
}
