package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages all index storage for the media index.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New creates a new Database instance.
// dbPath is the full path to the database file; the parent directory
// must already exist and be writable (startup.LoadConfig validates this).
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnosePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// WAL mode plus busy_timeout to avoid "database is locked" errors
	// when the scanner and action handlers write concurrently.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- One row per indexed media file, keyed by its current real path.
	CREATE TABLE IF NOT EXISTS media_files (
		path TEXT PRIMARY KEY,
		file_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mod_time INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		date_taken INTEGER,
		camera_make TEXT NOT NULL DEFAULT '',
		camera_model TEXT NOT NULL DEFAULT '',
		orientation INTEGER NOT NULL DEFAULT 0,
		latitude REAL,
		longitude REAL,
		location_name TEXT NOT NULL DEFAULT '',
		location_city TEXT NOT NULL DEFAULT '',
		location_country TEXT NOT NULL DEFAULT '',
		favorite INTEGER NOT NULL DEFAULT 0,
		rating INTEGER,
		state TEXT NOT NULL DEFAULT 'active',
		missing_since INTEGER,
		last_indexed INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_media_files_type ON media_files(file_type);
	CREATE INDEX IF NOT EXISTS idx_media_files_state ON media_files(state);
	CREATE INDEX IF NOT EXISTS idx_media_files_date_taken ON media_files(date_taken);
	CREATE INDEX IF NOT EXISTS idx_media_files_favorite ON media_files(favorite);

	-- Append-only ledger of action-initiated moves. Rows are never
	-- updated or deleted; restores are resolved by id ordering.
	CREATE TABLE IF NOT EXISTS move_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		original_path TEXT NOT NULL,
		new_path TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_move_history_original ON move_history(original_path, id);

	-- Reverse-geocode results keyed by rounded coordinate bucket.
	-- Entries never expire; failures are never stored.
	CREATE TABLE IF NOT EXISTS geocode_cache (
		lat_bucket REAL NOT NULL,
		lon_bucket REAL NOT NULL,
		precision INTEGER NOT NULL,
		location_name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		hits INTEGER NOT NULL DEFAULT 0,
		cached_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(lat_bucket, lon_bucket, precision)
	);

	-- Audit of scan runs.
	CREATE TABLE IF NOT EXISTS scan_history (
		id TEXT PRIMARY KEY,
		folder TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		added INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return d.runMigrations(ctx)
}

// runMigrations applies additive schema migrations.
func (d *Database) runMigrations(ctx context.Context) error {
	// Migration 1: rating column (older indexes predate embedded ratings)
	var ratingExists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('media_files')
		WHERE name='rating'
	`).Scan(&ratingExists)
	if err != nil {
		return fmt.Errorf("failed to check for rating column: %w", err)
	}

	if !ratingExists {
		logging.Info("Migrating database: adding rating column to media_files table")
		if _, err := d.db.ExecContext(ctx, `ALTER TABLE media_files ADD COLUMN rating INTEGER`); err != nil {
			return fmt.Errorf("failed to add rating column: %w", err)
		}
	}

	// Migration 2: missing_since column for two-phase removal
	var missingExists bool
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('media_files')
		WHERE name='missing_since'
	`).Scan(&missingExists)
	if err != nil {
		return fmt.Errorf("failed to check for missing_since column: %w", err)
	}

	if !missingExists {
		logging.Info("Migrating database: adding missing_since column to media_files table")
		if _, err := d.db.ExecContext(ctx, `ALTER TABLE media_files ADD COLUMN missing_since INTEGER`); err != nil {
			return fmt.Errorf("failed to add missing_since column: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Vacuum optimizes the database.
func (d *Database) Vacuum() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// UpdateSizeMetrics reports the on-disk size of the database files.
func (d *Database) UpdateSizeMetrics() {
	for _, f := range []struct{ label, suffix string }{
		{"main", ""},
		{"wal", "-wal"},
		{"shm", "-shm"},
	} {
		if info, err := os.Stat(d.dbPath + f.suffix); err == nil {
			metrics.DBSizeBytes.WithLabelValues(f.label).Set(float64(info.Size()))
		}
	}
}

// recordQuery records query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// diagnosePermissions checks database directory and file permissions
func diagnosePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}
	return nil
}
