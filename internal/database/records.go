package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const recordColumns = `path, file_type, size, mod_time, fingerprint, date_taken,
	camera_make, camera_model, orientation, latitude, longitude,
	location_name, location_city, location_country,
	favorite, rating, state, missing_since, last_indexed`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*MediaRecord, error) {
	var rec MediaRecord
	var modTime, lastIndexed int64
	var dateTaken, missingSince sql.NullInt64
	var favorite int

	err := row.Scan(
		&rec.Path, &rec.FileType, &rec.Size, &modTime, &rec.Fingerprint, &dateTaken,
		&rec.CameraMake, &rec.CameraModel, &rec.Orientation, &rec.Latitude, &rec.Longitude,
		&rec.LocationName, &rec.LocationCity, &rec.LocationCountry,
		&favorite, &rec.Rating, &rec.State, &missingSince, &lastIndexed,
	)
	if err != nil {
		return nil, err
	}

	rec.ModTime = time.Unix(modTime, 0)
	rec.LastIndexed = time.Unix(lastIndexed, 0)
	rec.Favorite = favorite != 0
	if dateTaken.Valid {
		t := time.Unix(dateTaken.Int64, 0)
		rec.DateTaken = &t
	}
	if missingSince.Valid {
		t := time.Unix(missingSince.Int64, 0)
		rec.MissingSince = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// UpsertRecord inserts or refreshes one record.
// The update half is guarded on mod_time so a write carrying stale
// filesystem state never clobbers a newer row. Favorite, rating and
// state are deliberately absent from the update set; a refresh keeps
// them. A rating extracted from the file seeds the row on first
// insert only. A successful refresh also clears any removal
// tombstone.
func (d *Database) UpsertRecord(ctx context.Context, rec *MediaRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_record", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
	INSERT INTO media_files (
		path, file_type, size, mod_time, fingerprint, date_taken,
		camera_make, camera_model, orientation, latitude, longitude,
		location_name, location_city, location_country, rating, last_indexed
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(path) DO UPDATE SET
		file_type = excluded.file_type,
		size = excluded.size,
		mod_time = excluded.mod_time,
		fingerprint = excluded.fingerprint,
		date_taken = excluded.date_taken,
		camera_make = excluded.camera_make,
		camera_model = excluded.camera_model,
		orientation = excluded.orientation,
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		location_name = excluded.location_name,
		location_city = excluded.location_city,
		location_country = excluded.location_country,
		missing_since = NULL,
		last_indexed = excluded.last_indexed
	WHERE excluded.mod_time >= media_files.mod_time
	`

	_, err = d.db.ExecContext(ctx, query,
		rec.Path, rec.FileType, rec.Size, rec.ModTime.Unix(), rec.Fingerprint,
		nullTime(rec.DateTaken), rec.CameraMake, rec.CameraModel, rec.Orientation,
		rec.Latitude, rec.Longitude,
		rec.LocationName, rec.LocationCity, rec.LocationCountry, rec.Rating,
	)
	return err
}

// GetRecord returns the record for a path, or ErrNotFound.
func (d *Database) GetRecord(ctx context.Context, path string) (*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_record", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM media_files WHERE path = ?", recordColumns), path)

	rec, scanErr := scanRecord(row)
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = ErrNotFound
			return nil, err
		}
		err = scanErr
		return nil, err
	}
	return rec, nil
}

// ListStamps returns fingerprint state for every active record under
// folder, keyed by path. The scanner diffs a walk against this map.
func (d *Database) ListStamps(ctx context.Context, folder string) (map[string]FileStamp, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_stamps", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pattern, escape := prefixPattern(folder)
	rows, qErr := d.db.QueryContext(ctx, `
		SELECT path, fingerprint, missing_since IS NOT NULL
		FROM media_files
		WHERE state = 'active' AND path LIKE ? ESCAPE ?
	`, pattern, escape)
	if qErr != nil {
		err = qErr
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	stamps := make(map[string]FileStamp)
	for rows.Next() {
		var path string
		var stamp FileStamp
		if scanErr := rows.Scan(&path, &stamp.Fingerprint, &stamp.Missing); scanErr != nil {
			err = scanErr
			return nil, err
		}
		stamps[path] = stamp
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return stamps, nil
}

// Tombstone marks the given paths as missing (first scan miss).
// Paths already tombstoned keep their original timestamp.
func (d *Database) Tombstone(ctx context.Context, paths []string, seen time.Time) error {
	if len(paths) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("tombstone", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE media_files SET missing_since = ?
		WHERE missing_since IS NULL AND state = 'active' AND path IN (%s)
	`, placeholders(len(paths)))

	args := make([]interface{}, 0, len(paths)+1)
	args = append(args, seen.Unix())
	for _, p := range paths {
		args = append(args, p)
	}
	_, err = d.db.ExecContext(ctx, query, args...)
	return err
}

// Purge hard-deletes tombstoned records (second consecutive scan miss).
// Returns the number of rows removed.
func (d *Database) Purge(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("purge", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM media_files
		WHERE missing_since IS NOT NULL AND path IN (%s)
	`, placeholders(len(paths)))

	args := make([]interface{}, 0, len(paths))
	for _, p := range paths {
		args = append(args, p)
	}
	result, execErr := d.db.ExecContext(ctx, query, args...)
	if execErr != nil {
		err = execErr
		return 0, err
	}
	return result.RowsAffected()
}

// ClearTombstones resurrects records whose files reappeared unchanged.
func (d *Database) ClearTombstones(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("clear_tombstones", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE media_files SET missing_since = NULL WHERE path IN (%s)
	`, placeholders(len(paths)))

	args := make([]interface{}, 0, len(paths))
	for _, p := range paths {
		args = append(args, p)
	}
	_, err = d.db.ExecContext(ctx, query, args...)
	return err
}

// SetFavorite flips the favorite flag and returns the updated record.
func (d *Database) SetFavorite(ctx context.Context, path string, favorite bool) (*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_favorite", start, err) }()

	d.mu.Lock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	fav := 0
	if favorite {
		fav = 1
	}
	result, execErr := d.db.ExecContext(ctx,
		"UPDATE media_files SET favorite = ? WHERE path = ?", fav, path)
	d.mu.Unlock()
	if execErr != nil {
		err = execErr
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = ErrNotFound
		return nil, err
	}

	return d.GetRecord(ctx, path)
}

// SetRating stores a 0-5 rating; nil clears it.
func (d *Database) SetRating(ctx context.Context, path string, rating *int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_rating", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var val interface{}
	if rating != nil {
		val = *rating
	}
	result, execErr := d.db.ExecContext(ctx,
		"UPDATE media_files SET rating = ? WHERE path = ?", val, path)
	if execErr != nil {
		err = execErr
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

// UpdateLocation stores resolved geocode fields on a record.
func (d *Database) UpdateLocation(ctx context.Context, path string, loc Location) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_location", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, execErr := d.db.ExecContext(ctx, `
		UPDATE media_files
		SET location_name = ?, location_city = ?, location_country = ?
		WHERE path = ?
	`, loc.Name, loc.City, loc.Country, path)
	if execErr != nil {
		err = execErr
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

// ApplyMove atomically rewrites a record's path and state and appends
// the matching ledger entry. The filesystem move has already happened
// when this runs; a failure here heals on the next reconcile pass.
func (d *Database) ApplyMove(ctx context.Context, op MoveOp, originalPath, newPath string, state RecordState) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("apply_move", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, txErr := d.db.BeginTx(ctx, nil)
	if txErr != nil {
		err = txErr
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
		}
	}()

	result, execErr := tx.ExecContext(ctx, `
		UPDATE media_files SET path = ?, state = ?, missing_since = NULL WHERE path = ?
	`, newPath, state, originalPath)
	if execErr != nil {
		err = execErr
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = ErrNotFound
		return err
	}

	// Ledger rows key on the library path. A restore row therefore
	// carries the path the file returned to, so id ordering resolves
	// the earlier to_edit entry for that same path.
	entryOriginal, entryNew := originalPath, newPath
	if op == OpRestore {
		entryOriginal = newPath
	}

	if _, execErr := tx.ExecContext(ctx, `
		INSERT INTO move_history (op, original_path, new_path, created_at)
		VALUES (?, ?, ?, strftime('%s', 'now'))
	`, op, entryOriginal, entryNew); execErr != nil {
		err = execErr
		return err
	}

	err = tx.Commit()
	return err
}

// placeholders returns "?, ?, ..." for n bound parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// prefixPattern builds a LIKE pattern matching paths inside folder,
// escaping LIKE metacharacters in the folder itself.
func prefixPattern(folder string) (pattern, escape string) {
	const esc = `\`
	folder = strings.TrimSuffix(folder, "/")
	r := strings.NewReplacer(esc, esc+esc, "%", esc+"%", "_", esc+"_")
	return r.Replace(folder) + "/%", esc
}
