package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RandomItems returns a uniform random sample of active records
// matching every filter in q. Tombstoned, edited and junked records
// are never eligible. When the post-exclusion pool holds fewer than
// q.Count records, everything left is returned and Exhausted is set.
func (d *Database) RandomItems(ctx context.Context, q RandomQuery) (*RandomResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("random_items", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count := q.Count
	if count <= 0 {
		count = 10
	}

	where := []string{"state = 'active'", "missing_since IS NULL"}
	args := []interface{}{}

	if q.FolderPrefix != "" {
		pattern, escape := prefixPattern(q.FolderPrefix)
		where = append(where, "path LIKE ? ESCAPE ?")
		args = append(args, pattern, escape)
	}
	if q.FileType != "" {
		where = append(where, "file_type = ?")
		args = append(args, q.FileType)
	}
	if q.DateFrom != nil {
		where = append(where, "date_taken >= ?")
		args = append(args, q.DateFrom.Unix())
	}
	if q.DateTo != nil {
		where = append(where, "date_taken <= ?")
		args = append(args, q.DateTo.Unix())
	}
	if q.FavoritesOnly {
		where = append(where, "favorite = 1")
	}
	if len(q.Exclude) > 0 {
		where = append(where, fmt.Sprintf("path NOT IN (%s)", placeholders(len(q.Exclude))))
		for _, p := range q.Exclude {
			args = append(args, p)
		}
	}

	query := fmt.Sprintf(`
		SELECT %s FROM media_files
		WHERE %s
		ORDER BY RANDOM()
		LIMIT ?
	`, recordColumns, strings.Join(where, " AND "))
	args = append(args, count)

	rows, qErr := d.db.QueryContext(ctx, query, args...)
	if qErr != nil {
		err = qErr
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	result := &RandomResult{Items: []MediaRecord{}}
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		result.Items = append(result.Items, *rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	result.Exhausted = len(result.Items) < count
	return result, nil
}

// GetStats summarizes the index for the status endpoint.
func (d *Database) GetStats(ctx context.Context) (*Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats Stats
	err = d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(file_type = 'image'), 0),
			COALESCE(SUM(file_type = 'video'), 0),
			COALESCE(SUM(favorite), 0),
			COALESCE(SUM(latitude IS NOT NULL AND longitude IS NOT NULL), 0),
			COALESCE(SUM(state = 'edited'), 0),
			COALESCE(SUM(state = 'junked'), 0)
		FROM media_files
	`).Scan(
		&stats.TotalFiles, &stats.Images, &stats.Videos, &stats.Favorites,
		&stats.WithLocation, &stats.Edited, &stats.Junked,
	)
	if err != nil {
		return nil, err
	}

	if err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM geocode_cache").Scan(&stats.GeocodeEntries); err != nil {
		return nil, err
	}
	return &stats, nil
}
