package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/drivevault/drivevault/internal/logging"
)

// DB is the reconciliation ledger. It records, per vault-relative path,
// the state both sides had the last time that file was synchronized, and
// carries the change-tracking cursor alongside it.
type DB struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the index database. An unreadable or corrupt
// database is discarded and recreated empty: the worst outcome of a lost
// index is a full re-reconciliation, never data loss.
func Open(path string, logger logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	instance, err := open(path, logger)
	if err != nil {
		logger.Warn("index database unreadable, starting from an empty index",
			logging.F("path", path),
			logging.F("error", err.Error()),
		)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, rmErr
		}
		return open(path, logger)
	}
	return instance, nil
}

func open(path string, logger logging.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db, logger: logger}
	if err := instance.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Catches truncated or garbage files that still open
	var ok string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&ok); err != nil || ok != "ok" {
		_ = db.Close()
		if err == nil {
			err = errCorruptDatabase
		}
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	path TEXT PRIMARY KEY,
	remote_id TEXT NOT NULL UNIQUE,
	is_dir INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	local_mtime_ms INTEGER NOT NULL DEFAULT 0,
	remote_mtime TEXT NOT NULL DEFAULT '',
	remote_md5 TEXT NOT NULL DEFAULT '',
	last_synced_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tracker_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	page_token TEXT NOT NULL DEFAULT '',
	folder_id TEXT NOT NULL DEFAULT '',
	updated_ms INTEGER NOT NULL DEFAULT 0,
	disabled INTEGER NOT NULL DEFAULT 0,
	bootstrap_history TEXT NOT NULL DEFAULT '[]',
	last_full_listing_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
