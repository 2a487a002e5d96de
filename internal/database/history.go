package database

import (
	"context"
	"time"
)

// UnresolvedEdits returns to_edit ledger entries with no later restore
// row for the same original path, oldest first. These are the files
// still sitting in _Edit folders.
func (d *Database) UnresolvedEdits(ctx context.Context) ([]MoveHistoryEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("unresolved_edits", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, qErr := d.db.QueryContext(ctx, `
		SELECT e.id, e.op, e.original_path, e.new_path, e.created_at
		FROM move_history e
		WHERE e.op = 'to_edit'
		  AND NOT EXISTS (
			SELECT 1 FROM move_history r
			WHERE r.op = 'restore'
			  AND r.original_path = e.original_path
			  AND r.id > e.id
		  )
		ORDER BY e.id
	`)
	if qErr != nil {
		err = qErr
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []MoveHistoryEntry
	for rows.Next() {
		var entry MoveHistoryEntry
		var createdAt int64
		if scanErr := rows.Scan(&entry.ID, &entry.Op, &entry.OriginalPath, &entry.NewPath, &createdAt); scanErr != nil {
			err = scanErr
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MoveHistory returns the full ledger for a library path, oldest first.
func (d *Database) MoveHistory(ctx context.Context, originalPath string) ([]MoveHistoryEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("move_history", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, qErr := d.db.QueryContext(ctx, `
		SELECT id, op, original_path, new_path, created_at
		FROM move_history
		WHERE original_path = ?
		ORDER BY id
	`, originalPath)
	if qErr != nil {
		err = qErr
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []MoveHistoryEntry
	for rows.Next() {
		var entry MoveHistoryEntry
		var createdAt int64
		if scanErr := rows.Scan(&entry.ID, &entry.Op, &entry.OriginalPath, &entry.NewPath, &createdAt); scanErr != nil {
			err = scanErr
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return entries, nil
}
