package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/drivevault/drivevault/internal/utils"
)

const entryColumns = "path, remote_id, is_dir, size, local_mtime_ms, remote_mtime, remote_md5, last_synced_ms"

// ListEntries returns every entry ordered by path
func (d *DB) ListEntries(ctx context.Context) (entries []Entry, err error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetByPath returns the entry for a vault-relative path, or nil
func (d *DB) GetByPath(ctx context.Context, path string) (*Entry, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE path = ?`, path)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetByRemoteID returns the entry owning a remote id, or nil
func (d *DB) GetByRemoteID(ctx context.Context, remoteID string) (*Entry, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE remote_id = ?`, remoteID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put inserts or updates an entry. A second path claiming a remote id
// already owned by a different path means the index no longer describes
// reality, which is reported as INDEX_CORRUPT rather than silently
// reassigned.
func (d *DB) Put(ctx context.Context, entry Entry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			remote_id=excluded.remote_id,
			is_dir=excluded.is_dir,
			size=excluded.size,
			local_mtime_ms=excluded.local_mtime_ms,
			remote_mtime=excluded.remote_mtime,
			remote_md5=excluded.remote_md5,
			last_synced_ms=excluded.last_synced_ms
	`, entry.Path, entry.RemoteID, boolToInt(entry.IsDir), entry.Size,
		entry.LocalMTimeMS, entry.RemoteMTime, entry.RemoteMD5, entry.LastSyncedMS)
	if err != nil && isUniqueViolation(err) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeIndexCorrupt,
			fmt.Sprintf("remote id %s is already mapped to another path; index entry for %s rejected",
				entry.RemoteID, entry.Path)).Build())
	}
	return err
}

// Delete removes the entry for a path. Missing paths are not an error.
func (d *DB) Delete(ctx context.Context, path string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, path)
	return err
}

// ReplaceAll swaps the full entry set in one transaction
func (d *DB) ReplaceAll(ctx context.Context, entries []Entry) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, entry := range entries {
		_, err = stmt.ExecContext(ctx, entry.Path, entry.RemoteID, boolToInt(entry.IsDir), entry.Size,
			entry.LocalMTimeMS, entry.RemoteMTime, entry.RemoteMD5, entry.LastSyncedMS)
		if err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return utils.NewAppError(utils.NewCLIError(utils.ErrCodeIndexCorrupt,
					fmt.Sprintf("duplicate remote id while rewriting index entry %s", entry.Path)).Build())
			}
			return err
		}
	}

	return tx.Commit()
}

// CountEntries returns the number of tracked paths
func (d *DB) CountEntries(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (Entry, error) {
	var entry Entry
	var isDir int
	err := scanner.Scan(&entry.Path, &entry.RemoteID, &isDir, &entry.Size,
		&entry.LocalMTimeMS, &entry.RemoteMTime, &entry.RemoteMD5, &entry.LastSyncedMS)
	if err != nil {
		return Entry{}, err
	}
	entry.IsDir = isDir != 0
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
