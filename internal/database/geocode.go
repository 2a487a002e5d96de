package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetGeocode looks up a cached reverse-geocode result for a rounded
// coordinate bucket. A hit bumps the hit counter. Returns ErrNotFound
// on a miss.
func (d *Database) GetGeocode(ctx context.Context, latBucket, lonBucket float64, precision int) (*Location, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_geocode", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var loc Location
	scanErr := d.db.QueryRowContext(ctx, `
		SELECT location_name, city, country
		FROM geocode_cache
		WHERE lat_bucket = ? AND lon_bucket = ? AND precision = ?
	`, latBucket, lonBucket, precision).Scan(&loc.Name, &loc.City, &loc.Country)
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = ErrNotFound
			return nil, err
		}
		err = scanErr
		return nil, err
	}

	if _, execErr := d.db.ExecContext(ctx, `
		UPDATE geocode_cache SET hits = hits + 1
		WHERE lat_bucket = ? AND lon_bucket = ? AND precision = ?
	`, latBucket, lonBucket, precision); execErr != nil {
		// The lookup already succeeded; a failed counter bump is not
		// worth failing the caller over.
		err = execErr
		return &loc, nil
	}
	return &loc, nil
}

// PutGeocode stores a successful reverse-geocode result. Only
// successes are ever written; a repeat write refreshes the fields.
func (d *Database) PutGeocode(ctx context.Context, latBucket, lonBucket float64, precision int, loc Location) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("put_geocode", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (lat_bucket, lon_bucket, precision, location_name, city, country, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(lat_bucket, lon_bucket, precision) DO UPDATE SET
			location_name = excluded.location_name,
			city = excluded.city,
			country = excluded.country
	`, latBucket, lonBucket, precision, loc.Name, loc.City, loc.Country)
	return err
}
