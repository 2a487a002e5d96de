package database

import (
	"context"
	"database/sql"
	"time"
)

// StartScanRun records the beginning of a scan in the audit table.
func (d *Database) StartScanRun(ctx context.Context, run *ScanRun) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("start_scan_run", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO scan_history (id, folder, scan_type, started_at, status)
		VALUES (?, ?, ?, ?, 'running')
	`, run.ID, run.Folder, run.ScanType, run.StartedAt.Unix())
	return err
}

// FinishScanRun records a scan's outcome.
func (d *Database) FinishScanRun(ctx context.Context, run *ScanRun) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_scan_run", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Unix()
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE scan_history
		SET finished_at = ?, added = ?, updated = ?, removed = ?, errors = ?, status = ?
		WHERE id = ?
	`, finished, run.Added, run.Updated, run.Removed, run.Errors, run.Status, run.ID)
	return err
}

// RecentScanRuns returns the newest scan runs, most recent first.
func (d *Database) RecentScanRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("recent_scan_runs", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	rows, qErr := d.db.QueryContext(ctx, `
		SELECT id, folder, scan_type, started_at, finished_at, added, updated, removed, errors, status
		FROM scan_history
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if qErr != nil {
		err = qErr
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []ScanRun
	for rows.Next() {
		var run ScanRun
		var startedAt int64
		var finishedAt sql.NullInt64
		if scanErr := rows.Scan(
			&run.ID, &run.Folder, &run.ScanType, &startedAt, &finishedAt,
			&run.Added, &run.Updated, &run.Removed, &run.Errors, &run.Status,
		); scanErr != nil {
			err = scanErr
			return nil, err
		}
		run.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0)
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return runs, nil
}
