// Package scanner keeps the media index consistent with the
// filesystem: full reconcile passes over a tree, single-path steps
// driven by watcher events, and two-phase removal of vanished files.
package scanner

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"media-index/internal/database"
	"media-index/internal/exif"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
	"media-index/internal/pathlock"
)

const (
	// EditDirName is the sibling subfolder holding files pulled out
	// for editing. The scanner never descends into it.
	EditDirName = "_Edit"
	// JunkDirName is the sibling subfolder holding soft-deleted files.
	JunkDirName = "_Junk"
)

// ErrScanInProgress is returned when a reconcile pass is requested
// while another is still running.
var ErrScanInProgress = errors.New("scan already in progress")

// Extractor reads capture metadata from a media file.
type Extractor interface {
	Extract(path string, fileType mediatypes.FileType) (*exif.Metadata, error)
}

// Geocoder resolves GPS coordinates to a place.
type Geocoder interface {
	Resolve(ctx context.Context, lat, lon float64) (*database.Location, error)
}

// Config carries scanner tuning.
type Config struct {
	Root           string
	Workers        int
	StabilityDelay time.Duration
}

// Scanner reconciles a media tree against the index.
type Scanner struct {
	db             *database.Database
	extractor      Extractor
	geocoder       Geocoder
	locks          *pathlock.Locker
	moves          *MoveRegistry
	root           string
	workers        int
	stabilityDelay time.Duration

	tracker *stateTracker
	scanMu  sync.Mutex
	running bool
}

// New builds a Scanner. geocoder may be nil to index without place
// resolution.
func New(db *database.Database, extractor Extractor, geocoder Geocoder, locks *pathlock.Locker, cfg Config) *Scanner {
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	return &Scanner{
		db:             db,
		extractor:      extractor,
		geocoder:       geocoder,
		locks:          locks,
		moves:          NewMoveRegistry(),
		root:           cfg.Root,
		workers:        workers,
		stabilityDelay: cfg.StabilityDelay,
		tracker:        newStateTracker(),
	}
}

// Moves exposes the registry the action coordinator announces its
// renames through.
func (s *Scanner) Moves() *MoveRegistry {
	return s.moves
}

// Root returns the library root the scanner covers.
func (s *Scanner) Root() string {
	return s.root
}

// State returns a snapshot of the scanner's current condition.
func (s *Scanner) State() State {
	return s.tracker.snapshot()
}

// fileKey is what the walk collects per candidate file.
type fileKey struct {
	path        string
	fileType    mediatypes.FileType
	size        int64
	modTime     time.Time
	fingerprint string
}

// Reconcile walks folder (the whole root when folder is empty), diffs
// it against the index and applies the difference. force re-extracts
// metadata even for files whose fingerprint is unchanged. Per-file
// failures are collected into the result; only setup failures abort
// the pass.
func (s *Scanner) Reconcile(ctx context.Context, folder string, force bool) (*ScanResult, error) {
	if folder == "" {
		folder = s.root
	}
	folder = filepath.Clean(folder)
	if !withinRoot(s.root, folder) {
		return nil, fmt.Errorf("folder %s is outside the media root", folder)
	}

	s.scanMu.Lock()
	if s.running {
		s.scanMu.Unlock()
		return nil, ErrScanInProgress
	}
	s.running = true
	s.scanMu.Unlock()
	defer func() {
		s.scanMu.Lock()
		s.running = false
		s.scanMu.Unlock()
	}()

	scanType := "incremental"
	if folder == s.root {
		scanType = "full"
	}

	start := time.Now()
	result := &ScanResult{ScanID: uuid.NewString(), Folder: folder}

	s.tracker.setPhase(PhaseScanning)
	metrics.ScannerIsRunning.Set(1)
	defer func() {
		s.tracker.setPhase(PhaseIdle)
		metrics.ScannerIsRunning.Set(0)
	}()

	run := &database.ScanRun{
		ID:        result.ScanID,
		Folder:    folder,
		ScanType:  scanType,
		StartedAt: start,
	}
	if err := s.db.StartScanRun(ctx, run); err != nil {
		metrics.ScannerRunsTotal.WithLabelValues(scanType, "error").Inc()
		return nil, fmt.Errorf("failed to record scan start: %w", err)
	}

	logging.Info("Scan %s started: folder=%s type=%s force=%v", result.ScanID, folder, scanType, force)

	err := s.reconcile(ctx, folder, force, result)

	result.Duration = time.Since(start).Seconds()
	status := "completed"
	if err != nil {
		status = "failed"
	}

	now := time.Now()
	run.FinishedAt = &now
	run.Added = result.Added
	run.Updated = result.Updated
	run.Removed = result.Removed
	run.Errors = len(result.Errors)
	run.Status = status
	if finishErr := s.db.FinishScanRun(context.WithoutCancel(ctx), run); finishErr != nil {
		logging.Warn("failed to record scan finish for %s: %v", result.ScanID, finishErr)
	}

	metrics.ScannerRunsTotal.WithLabelValues(scanType, status).Inc()
	if err != nil {
		return nil, err
	}

	metrics.ScannerLastRunTimestamp.Set(float64(now.Unix()))
	metrics.ScannerLastRunDuration.Set(result.Duration)
	s.tracker.recordResult(result, now)

	logging.Info("Scan %s finished in %.2fs: added=%d updated=%d removed=%d unchanged=%d errors=%d",
		result.ScanID, result.Duration, result.Added, result.Updated, result.Removed,
		result.Unchanged, len(result.Errors))
	return result, nil
}

func (s *Scanner) reconcile(ctx context.Context, folder string, force bool, result *ScanResult) error {
	stamps, err := s.db.ListStamps(ctx, folder)
	if err != nil {
		return fmt.Errorf("failed to load index state: %w", err)
	}

	var (
		toProcess  []fileKey
		reappeared []string
		seen       = make(map[string]bool, len(stamps))
		errMu      sync.Mutex
	)
	addError := func(path string, err error) {
		errMu.Lock()
		result.Errors = append(result.Errors, ScanError{Path: path, Error: err.Error()})
		errMu.Unlock()
		metrics.ScannerErrors.Inc()
	}

	walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			addError(path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != folder && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Symlinks are not followed, so link cycles cannot trap
			// the walk. The skip is surfaced in the result rather
			// than silently dropped.
			addError(path, errors.New("symbolic link skipped, not followed"))
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !mediatypes.IsMediaFile(ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			addError(path, err)
			return nil
		}

		key := fileKey{
			path:        path,
			fileType:    mediatypes.GetFileType(ext),
			size:        info.Size(),
			modTime:     info.ModTime(),
			fingerprint: Fingerprint(path, info.Size(), info.ModTime()),
		}

		seen[path] = true
		stamp, known := stamps[path]
		switch {
		case !known:
			toProcess = append(toProcess, key)
		case stamp.Fingerprint != key.fingerprint || force:
			toProcess = append(toProcess, key)
		default:
			result.Unchanged++
			metrics.ScannerFilesTotal.WithLabelValues("unchanged").Inc()
			if stamp.Missing {
				reappeared = append(reappeared, path)
			}
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk failed: %w", walkErr)
	}

	var added, updated int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, key := range toProcess {
		if gctx.Err() != nil {
			break
		}
		key := key
		_, known := stamps[key.path]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := s.processFile(gctx, key); err != nil {
				addError(key.path, err)
				return nil
			}
			if known {
				atomic.AddInt64(&updated, 1)
				metrics.ScannerFilesTotal.WithLabelValues("updated").Inc()
			} else {
				atomic.AddInt64(&added, 1)
				metrics.ScannerFilesTotal.WithLabelValues("added").Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scan cancelled: %w", err)
	}
	result.Added = int(added)
	result.Updated = int(updated)

	// Anything indexed but not walked is missing: first miss gets a
	// tombstone, second consecutive miss is deleted for real.
	var firstMiss, secondMiss []string
	for path, stamp := range stamps {
		if seen[path] {
			continue
		}
		if stamp.Missing {
			secondMiss = append(secondMiss, path)
		} else {
			firstMiss = append(firstMiss, path)
		}
	}

	if err := s.db.ClearTombstones(ctx, reappeared); err != nil {
		return fmt.Errorf("failed to clear tombstones: %w", err)
	}
	if err := s.db.Tombstone(ctx, firstMiss, time.Now()); err != nil {
		return fmt.Errorf("failed to tombstone missing files: %w", err)
	}
	removed, err := s.db.Purge(ctx, secondMiss)
	if err != nil {
		return fmt.Errorf("failed to purge missing files: %w", err)
	}
	result.Removed = int(removed)
	if removed > 0 {
		metrics.ScannerFilesTotal.WithLabelValues("removed").Add(float64(removed))
	}
	return nil
}

// processFile extracts metadata for one file and writes its record.
// The per-path lock keeps it from racing an action-initiated move.
func (s *Scanner) processFile(ctx context.Context, key fileKey) error {
	s.locks.Lock(key.path)
	defer s.locks.Unlock(key.path)

	info, err := os.Stat(key.path)
	if err != nil {
		// Vanished between walk and processing; the next pass will
		// tombstone it.
		return fmt.Errorf("failed to stat: %w", err)
	}

	// A file still being copied in shows a moving mtime. Give it a
	// moment and re-check before reading metadata out of it.
	if s.stabilityDelay > 0 {
		select {
		case <-time.After(s.stabilityDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		again, err := os.Stat(key.path)
		if err != nil {
			return fmt.Errorf("failed to re-stat: %w", err)
		}
		if again.Size() != info.Size() || !again.ModTime().Equal(info.ModTime()) {
			return fmt.Errorf("file still changing, skipping this pass")
		}
	}

	rec := &database.MediaRecord{
		Path:        key.path,
		FileType:    key.fileType,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Fingerprint: Fingerprint(key.path, info.Size(), info.ModTime()),
	}

	meta, extractErr := s.extractor.Extract(key.path, key.fileType)
	if meta != nil {
		rec.DateTaken = meta.DateTaken
		rec.CameraMake = meta.CameraMake
		rec.CameraModel = meta.CameraModel
		rec.Orientation = meta.Orientation
		rec.Rating = meta.Rating
		rec.Latitude = meta.Latitude
		rec.Longitude = meta.Longitude
	}
	if rec.DateTaken == nil {
		// Capture date unknown; fall back to filesystem time so date
		// filters still see the file.
		t := info.ModTime()
		rec.DateTaken = &t
	}

	if rec.Latitude != nil && rec.Longitude != nil && s.geocoder != nil {
		loc, err := s.geocoder.Resolve(ctx, *rec.Latitude, *rec.Longitude)
		if err != nil {
			logging.Debug("geocode skipped for %s: %v", key.path, err)
		} else {
			rec.LocationName = loc.Name
			rec.LocationCity = loc.City
			rec.LocationCountry = loc.Country
		}
	}

	if err := s.db.UpsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	if extractErr != nil {
		return fmt.Errorf("metadata extraction failed: %w", extractErr)
	}
	return nil
}

// ReconcilePath brings a single path in line with the filesystem.
// Watcher events land here after debouncing.
func (s *Scanner) ReconcilePath(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if !withinRoot(s.root, path) || underActionDir(path) {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !mediatypes.IsMediaFile(ext) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone. First miss tombstones; a later full pass deletes.
			logging.Debug("watch: tombstoning %s", path)
			return s.db.Tombstone(ctx, []string{path}, time.Now())
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}

	key := fileKey{
		path:     path,
		fileType: mediatypes.GetFileType(ext),
		size:     info.Size(),
		modTime:  info.ModTime(),
	}
	if err := s.processFile(ctx, key); err != nil {
		return fmt.Errorf("failed to reconcile %s: %w", path, err)
	}
	return nil
}

// RunPeriodic reruns a full reconcile every interval until ctx ends.
func (s *Scanner) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, "", false); err != nil && !errors.Is(err, ErrScanInProgress) {
				logging.Error("periodic scan failed: %v", err)
			}
		}
	}
}

// Fingerprint derives the change-detection stamp for a file. Content
// is never read; size and mtime shifts are what mark a file dirty.
func Fingerprint(path string, size int64, modTime time.Time) string {
	h := md5.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, size, modTime.Unix())))
	return fmt.Sprintf("%x", h)
}

// skipDir reports whether a directory is outside scan scope: hidden
// directories and the action folders.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == EditDirName || name == JunkDirName
}

// underActionDir reports whether path sits inside an _Edit or _Junk
// folder.
func underActionDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == EditDirName || part == JunkDirName {
			return true
		}
	}
	return false
}

// withinRoot reports whether path is root itself or inside it.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
