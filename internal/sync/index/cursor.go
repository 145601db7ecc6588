package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
)

// GetTrackerState returns the persisted change-tracking state. A fresh
// database yields the zero state (uninitialized tracker).
func (d *DB) GetTrackerState(ctx context.Context) (*TrackerState, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT page_token, folder_id, updated_ms, disabled, bootstrap_history, last_full_listing_ms
		FROM tracker_state WHERE id = 1
	`)

	var state TrackerState
	var disabled int
	var history string
	err := row.Scan(&state.PageToken, &state.FolderID, &state.UpdatedMS, &disabled, &history, &state.LastFullListingMS)
	if err == sql.ErrNoRows {
		return &TrackerState{}, nil
	}
	if err != nil {
		return nil, err
	}
	state.Disabled = disabled != 0
	if history != "" {
		_ = json.Unmarshal([]byte(history), &state.BootstrapHistory)
	}
	return &state, nil
}

// SaveTrackerState persists the change-tracking state
func (d *DB) SaveTrackerState(ctx context.Context, state TrackerState) error {
	history, err := json.Marshal(state.BootstrapHistory)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO tracker_state (id, page_token, folder_id, updated_ms, disabled, bootstrap_history, last_full_listing_ms)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			page_token=excluded.page_token,
			folder_id=excluded.folder_id,
			updated_ms=excluded.updated_ms,
			disabled=excluded.disabled,
			bootstrap_history=excluded.bootstrap_history,
			last_full_listing_ms=excluded.last_full_listing_ms
	`, state.PageToken, state.FolderID, state.UpdatedMS, boolToInt(state.Disabled), string(history), state.LastFullListingMS)
	return err
}

// ResetTrackerState drops the cursor entirely; the next sync starts the
// tracker from scratch
func (d *DB) ResetTrackerState(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tracker_state WHERE id = 1`)
	return err
}

// GetLastSyncMS returns the completion time of the last successful sync
// in unix milliseconds, or zero when no sync has completed
func (d *DB) GetLastSyncMS(ctx context.Context) (int64, error) {
	value, err := d.getMeta(ctx, "last_sync_ms")
	if err != nil || value == "" {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// SetLastSyncMS records the completion time of a successful sync
func (d *DB) SetLastSyncMS(ctx context.Context, ms int64) error {
	return d.setMeta(ctx, "last_sync_ms", strconv.FormatInt(ms, 10))
}

func (d *DB) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (d *DB) setMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	return err
}
