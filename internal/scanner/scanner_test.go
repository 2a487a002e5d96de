package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-index/internal/database"
	"media-index/internal/exif"
	"media-index/internal/mediatypes"
	"media-index/internal/pathlock"
)

// countingExtractor records which paths were extracted and can serve
// canned metadata.
type countingExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	meta  map[string]*exif.Metadata
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{
		calls: make(map[string]int),
		meta:  make(map[string]*exif.Metadata),
	}
}

func (e *countingExtractor) Extract(path string, _ mediatypes.FileType) (*exif.Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[path]++
	if m, ok := e.meta[path]; ok {
		return m, nil
	}
	return &exif.Metadata{}, nil
}

func (e *countingExtractor) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

func (e *countingExtractor) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = make(map[string]int)
}

func testScanner(t *testing.T) (*Scanner, *countingExtractor, *database.Database, string) {
	t.Helper()

	root := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})

	ext := newCountingExtractor()
	s := New(db, ext, nil, pathlock.New(), Config{
		Root:    root,
		Workers: 2,
	})
	return s, ext, db, root
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("content of "+path), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestReconcileFullScan(t *testing.T) {
	s, ext, db, root := testScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "sub", "b.mp4"))
	writeFile(t, filepath.Join(root, "sub", "c.png"))
	writeFile(t, filepath.Join(root, "notes.txt"))

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Added != 3 {
		t.Errorf("Added = %d, want 3", result.Added)
	}
	if result.Updated != 0 || result.Removed != 0 {
		t.Errorf("Updated/Removed = %d/%d, want 0/0", result.Updated, result.Removed)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}
	if ext.total() != 3 {
		t.Errorf("extractor ran %d times, want 3", ext.total())
	}

	rec, err := db.GetRecord(ctx, filepath.Join(root, "sub", "b.mp4"))
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.FileType != mediatypes.FileTypeVideo {
		t.Errorf("file_type = %q, want video", rec.FileType)
	}
	if rec.DateTaken == nil {
		t.Error("date_taken not defaulted to mod time")
	}
}

func TestReconcileSecondScanIsIdempotent(t *testing.T) {
	s, ext, _, root := testScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.jpg"))

	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	ext.reset()

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if result.Added != 0 || result.Updated != 0 || result.Removed != 0 {
		t.Errorf("second scan = %+v, want all zero counts", result)
	}
	if result.Unchanged != 2 {
		t.Errorf("Unchanged = %d, want 2", result.Unchanged)
	}
	if ext.total() != 0 {
		t.Errorf("extractor ran %d times on an unchanged tree, want 0", ext.total())
	}
}

func TestReconcileDetectsUpdate(t *testing.T) {
	s, ext, _, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "a.jpg")
	writeFile(t, path)
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	ext.reset()

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	if ext.total() != 1 {
		t.Errorf("extractor ran %d times, want 1", ext.total())
	}
}

func TestReconcileForceRescansEverything(t *testing.T) {
	s, ext, _, root := testScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.jpg"))
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	ext.reset()

	result, err := s.Reconcile(ctx, "", true)
	if err != nil {
		t.Fatalf("forced Reconcile failed: %v", err)
	}
	if result.Updated != 2 {
		t.Errorf("Updated = %d, want 2 under force", result.Updated)
	}
	if ext.total() != 2 {
		t.Errorf("extractor ran %d times under force, want 2", ext.total())
	}
}

func TestReconcileTwoPhaseRemoval(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "a.jpg")
	writeFile(t, path)
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// First miss: tombstoned, not deleted.
	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d after first miss, want 0", result.Removed)
	}
	rec, err := db.GetRecord(ctx, path)
	if err != nil {
		t.Fatalf("record gone after a single miss: %v", err)
	}
	if rec.MissingSince == nil {
		t.Error("missing_since not set after first miss")
	}

	// Second consecutive miss: hard delete.
	result, err = s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("third Reconcile failed: %v", err)
	}
	if result.Removed != 1 {
		t.Errorf("Removed = %d after second miss, want 1", result.Removed)
	}
	if _, err := db.GetRecord(ctx, path); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("record still present after second miss: %v", err)
	}
}

func TestReconcileReappearedFileKeepsRecord(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "a.jpg")
	writeFile(t, path)
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("miss Reconcile failed: %v", err)
	}

	// Put the identical file back (same size and mtime, so the
	// fingerprint matches the tombstoned row).
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("reappearance Reconcile failed: %v", err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d, want 0 for a reappeared file", result.Removed)
	}

	rec, err := db.GetRecord(ctx, path)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.MissingSince != nil {
		t.Error("tombstone not cleared for reappeared file")
	}
}

func TestReconcileRecordsSymlinkAsError(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	target := filepath.Join(root, "real.jpg")
	link := filepath.Join(root, "link.jpg")
	writeFile(t, target)
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Added != 1 {
		t.Errorf("Added = %d, want 1 (the real file only)", result.Added)
	}

	// The link is skipped, and the skip shows up in the result.
	found := false
	for _, e := range result.Errors {
		if e.Path == link {
			found = true
		}
	}
	if !found {
		t.Errorf("no error entry for skipped symlink, errors = %v", result.Errors)
	}
	if _, err := db.GetRecord(ctx, link); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("symlink was indexed: %v", err)
	}
}

func TestReconcileSeedsExtractedRating(t *testing.T) {
	s, ext, db, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "rated.jpg")
	writeFile(t, path)
	rating := 4
	ext.meta[path] = &exif.Metadata{Rating: &rating}

	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	rec, err := db.GetRecord(ctx, path)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Rating == nil || *rec.Rating != 4 {
		t.Errorf("Rating = %v, want embedded 4", rec.Rating)
	}
}

func TestConcurrentScanAndWatchStep(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "hot.jpg")
	writeFile(t, path)

	// A full pass and a burst of watch-driven steps race on the same
	// file. The shared path lock must leave exactly one consistent
	// record behind.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := s.Reconcile(ctx, "", false); err != nil {
			t.Errorf("Reconcile failed: %v", err)
		}
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.ReconcilePath(ctx, path); err != nil {
				t.Errorf("ReconcilePath failed: %v", err)
			}
		}()
	}
	wg.Wait()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	rec, err := db.GetRecord(ctx, path)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Fingerprint != Fingerprint(path, info.Size(), info.ModTime()) {
		t.Errorf("fingerprint = %q, want the on-disk state's", rec.Fingerprint)
	}
	if rec.Size != info.Size() {
		t.Errorf("size = %d, want %d", rec.Size, info.Size())
	}
	if rec.DateTaken == nil {
		t.Error("date_taken missing from raced record")
	}
	if rec.MissingSince != nil {
		t.Error("raced record carries a tombstone")
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want exactly 1 row", stats.TotalFiles)
	}
}

func TestReconcileSkipsActionAndHiddenDirs(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "keep.jpg"))
	writeFile(t, filepath.Join(root, EditDirName, "editing.jpg"))
	writeFile(t, filepath.Join(root, JunkDirName, "junked.jpg"))
	writeFile(t, filepath.Join(root, ".hidden", "secret.jpg"))

	result, err := s.Reconcile(ctx, "", false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Added != 1 {
		t.Errorf("Added = %d, want 1 (only keep.jpg)", result.Added)
	}

	for _, path := range []string{
		filepath.Join(root, EditDirName, "editing.jpg"),
		filepath.Join(root, JunkDirName, "junked.jpg"),
		filepath.Join(root, ".hidden", "secret.jpg"),
	} {
		if _, err := db.GetRecord(ctx, path); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("%s was indexed, want skipped", path)
		}
	}
}

func TestReconcileSubfolderLeavesSiblingsAlone(t *testing.T) {
	s, _, db, root := testScanner(t)
	ctx := context.Background()

	inside := filepath.Join(root, "sub", "in.jpg")
	outside := filepath.Join(root, "other", "out.jpg")
	writeFile(t, inside)
	writeFile(t, outside)
	if _, err := s.Reconcile(ctx, "", false); err != nil {
		t.Fatalf("full Reconcile failed: %v", err)
	}

	// Delete the sibling, then scan only "sub". The sibling's record
	// must be untouched.
	if err := os.Remove(outside); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Reconcile(ctx, filepath.Join(root, "sub"), false); err != nil {
		t.Fatalf("subfolder Reconcile failed: %v", err)
	}

	rec, err := db.GetRecord(ctx, outside)
	if err != nil {
		t.Fatalf("sibling record gone: %v", err)
	}
	if rec.MissingSince != nil {
		t.Error("sibling tombstoned by a scan of a different folder")
	}
}

func TestReconcileRejectsOutsideFolder(t *testing.T) {
	s, _, _, _ := testScanner(t)

	if _, err := s.Reconcile(context.Background(), "/somewhere/else", false); err == nil {
		t.Error("Reconcile accepted a folder outside the root")
	}
}

func TestReconcilePath(t *testing.T) {
	s, ext, db, root := testScanner(t)
	ctx := context.Background()

	path := filepath.Join(root, "w.jpg")
	writeFile(t, path)

	if err := s.ReconcilePath(ctx, path); err != nil {
		t.Fatalf("ReconcilePath failed: %v", err)
	}
	if _, err := db.GetRecord(ctx, path); err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if ext.total() != 1 {
		t.Errorf("extractor ran %d times, want 1", ext.total())
	}

	// Deletion tombstones.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.ReconcilePath(ctx, path); err != nil {
		t.Fatalf("ReconcilePath after delete failed: %v", err)
	}
	rec, err := db.GetRecord(ctx, path)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.MissingSince == nil {
		t.Error("missing_since not set by watch-driven removal")
	}
}

func TestReconcilePathIgnoresNonMedia(t *testing.T) {
	s, ext, _, root := testScanner(t)

	path := filepath.Join(root, "readme.txt")
	writeFile(t, path)
	if err := s.ReconcilePath(context.Background(), path); err != nil {
		t.Fatalf("ReconcilePath failed: %v", err)
	}
	if ext.total() != 0 {
		t.Error("extractor ran for a non-media file")
	}
}

func TestFingerprint(t *testing.T) {
	now := time.Now()
	a := Fingerprint("/media/a.jpg", 100, now)
	if a != Fingerprint("/media/a.jpg", 100, now) {
		t.Error("fingerprint not deterministic")
	}
	if a == Fingerprint("/media/a.jpg", 101, now) {
		t.Error("size change did not alter fingerprint")
	}
	if a == Fingerprint("/media/a.jpg", 100, now.Add(time.Second)) {
		t.Error("mtime change did not alter fingerprint")
	}
	if a == Fingerprint("/media/b.jpg", 100, now) {
		t.Error("path change did not alter fingerprint")
	}
}

func TestSkipDir(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{EditDirName, true},
		{JunkDirName, true},
		{".git", true},
		{"photos", false},
		{"_other", false},
	}
	for _, tt := range tests {
		if got := skipDir(tt.name); got != tt.want {
			t.Errorf("skipDir(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUnderActionDir(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/media/photos/_Edit/a.jpg", true},
		{"/media/_Junk/b.jpg", true},
		{"/media/photos/a.jpg", false},
		{"/media/_Editorial/a.jpg", false},
	}
	for _, tt := range tests {
		if got := underActionDir(tt.path); got != tt.want {
			t.Errorf("underActionDir(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWithinRoot(t *testing.T) {
	tests := []struct {
		root string
		path string
		want bool
	}{
		{"/media", "/media", true},
		{"/media", "/media/sub/a.jpg", true},
		{"/media", "/other", false},
		{"/media", "/media2/a.jpg", false},
	}
	for _, tt := range tests {
		if got := withinRoot(tt.root, tt.path); got != tt.want {
			t.Errorf("withinRoot(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
