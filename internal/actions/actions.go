// Package actions moves files through the edit/junk lifecycle and
// keeps the index and the move ledger in step with every move.
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-index/internal/database"
	"media-index/internal/exif"
	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/pathlock"
	"media-index/internal/scanner"
)

var (
	// ErrAlreadyEdited is returned when a file is already in an
	// _Edit folder.
	ErrAlreadyEdited = errors.New("file is already marked for edit")
	// ErrConflict is returned when a move cannot proceed because the
	// involved path is occupied or the file is in the wrong state.
	ErrConflict = errors.New("conflicting file state")
)

// Coordinator performs file actions. Every move follows the same
// order: filesystem rename first, then record and ledger in one
// store transaction. A crash between the two leaves a moved file the
// next reconcile pass picks up.
type Coordinator struct {
	db    *database.Database
	locks *pathlock.Locker
	moves *scanner.MoveRegistry
	root  string
}

// New builds a Coordinator sharing the scanner's path locks and move
// registry.
func New(db *database.Database, locks *pathlock.Locker, moves *scanner.MoveRegistry, root string) *Coordinator {
	return &Coordinator{db: db, locks: locks, moves: moves, root: root}
}

// RestoreConflict describes one edit entry that could not be
// restored. The entry stays unresolved and the file stays in _Edit.
type RestoreConflict struct {
	OriginalPath string `json:"original_path"`
	EditPath     string `json:"edit_path"`
	Reason       string `json:"reason"`
}

// RestoreResult summarizes a restore pass.
type RestoreResult struct {
	Restored  int               `json:"restored"`
	Conflicts []RestoreConflict `json:"conflicts"`
}

// MarkForEdit moves a file into the _Edit subfolder next to it and
// records the move. Already-edited files return ErrAlreadyEdited;
// junked files return ErrConflict.
func (c *Coordinator) MarkForEdit(ctx context.Context, path string) (*database.MediaRecord, error) {
	return c.moveAside(ctx, path, scanner.EditDirName, database.OpToEdit, database.StateEdited, "edit")
}

// DeleteMedia moves a file into the _Junk subfolder next to it. The
// move is recorded in the ledger but junked files are not restorable
// through the engine.
func (c *Coordinator) DeleteMedia(ctx context.Context, path string) (*database.MediaRecord, error) {
	return c.moveAside(ctx, path, scanner.JunkDirName, database.OpToJunk, database.StateJunked, "junk")
}

func (c *Coordinator) moveAside(ctx context.Context, path, dirName string, op database.MoveOp, state database.RecordState, action string) (*database.MediaRecord, error) {
	path = filepath.Clean(path)
	if !c.withinRoot(path) {
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("%s is outside the media root", path)
	}

	c.locks.Lock(path)
	defer c.locks.Unlock(path)

	rec, err := c.db.GetRecord(ctx, path)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		return nil, err
	}
	switch rec.State {
	case database.StateEdited:
		metrics.ActionsTotal.WithLabelValues(action, "conflict").Inc()
		if op == database.OpToEdit {
			return nil, ErrAlreadyEdited
		}
		return nil, fmt.Errorf("%w: %s is marked for edit", ErrConflict, path)
	case database.StateJunked:
		metrics.ActionsTotal.WithLabelValues(action, "conflict").Inc()
		return nil, fmt.Errorf("%w: %s is already junked", ErrConflict, path)
	}

	destDir := filepath.Join(filepath.Dir(path), dirName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	dest := availableName(filepath.Join(destDir, filepath.Base(path)))

	// Announce before renaming so the watcher cannot race the
	// registration.
	c.moves.Expect(path, dest)

	if err := os.Rename(path, dest); err != nil {
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("failed to move %s: %w", path, err)
	}

	if err := c.db.ApplyMove(ctx, op, path, dest, state); err != nil {
		// The file has moved; the record is stale until the next
		// reconcile pass notices.
		metrics.ActionsTotal.WithLabelValues(action, "error").Inc()
		logging.Error("move of %s succeeded but recording it failed: %v", path, err)
		return nil, fmt.Errorf("failed to record move: %w", err)
	}

	metrics.ActionsTotal.WithLabelValues(action, "success").Inc()
	logging.Info("Moved %s to %s", path, dest)
	return c.db.GetRecord(ctx, dest)
}

// RestoreEditedFiles walks every unresolved edit entry and moves the
// file back to its original location. An occupied original path is
// reported as a conflict and the entry stays unresolved.
func (c *Coordinator) RestoreEditedFiles(ctx context.Context) (*RestoreResult, error) {
	entries, err := c.db.UnresolvedEdits(ctx)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("restore", "error").Inc()
		return nil, fmt.Errorf("failed to load unresolved edits: %w", err)
	}

	result := &RestoreResult{Conflicts: []RestoreConflict{}}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if conflict := c.restoreOne(ctx, entry); conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
		} else {
			result.Restored++
		}
	}

	metrics.ActionsTotal.WithLabelValues("restore", "success").Inc()
	logging.Info("Restore pass: %d restored, %d conflicts", result.Restored, len(result.Conflicts))
	return result, nil
}

func (c *Coordinator) restoreOne(ctx context.Context, entry database.MoveHistoryEntry) *RestoreConflict {
	c.locks.Lock(entry.OriginalPath)
	defer c.locks.Unlock(entry.OriginalPath)
	c.locks.Lock(entry.NewPath)
	defer c.locks.Unlock(entry.NewPath)

	if _, err := os.Stat(entry.NewPath); err != nil {
		return &RestoreConflict{
			OriginalPath: entry.OriginalPath,
			EditPath:     entry.NewPath,
			Reason:       fmt.Sprintf("edited file missing: %v", err),
		}
	}
	if _, err := os.Stat(entry.OriginalPath); err == nil {
		return &RestoreConflict{
			OriginalPath: entry.OriginalPath,
			EditPath:     entry.NewPath,
			Reason:       "original path is occupied",
		}
	}

	c.moves.Expect(entry.NewPath, entry.OriginalPath)

	if err := os.Rename(entry.NewPath, entry.OriginalPath); err != nil {
		return &RestoreConflict{
			OriginalPath: entry.OriginalPath,
			EditPath:     entry.NewPath,
			Reason:       fmt.Sprintf("move failed: %v", err),
		}
	}

	if err := c.db.ApplyMove(ctx, database.OpRestore, entry.NewPath, entry.OriginalPath, database.StateActive); err != nil {
		logging.Error("restore of %s succeeded but recording it failed: %v", entry.OriginalPath, err)
		return &RestoreConflict{
			OriginalPath: entry.OriginalPath,
			EditPath:     entry.NewPath,
			Reason:       fmt.Sprintf("recording move failed: %v", err),
		}
	}
	return nil
}

// MarkFavorite flips the favorite flag. The index row is the source
// of truth; a matching rating is additionally embedded in the file
// when a tool for that is installed, and an embed failure only logs.
func (c *Coordinator) MarkFavorite(ctx context.Context, path string, favorite bool) (*database.MediaRecord, error) {
	path = filepath.Clean(path)

	c.locks.Lock(path)
	defer c.locks.Unlock(path)

	rec, err := c.db.SetFavorite(ctx, path, favorite)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("favorite", "error").Inc()
		return nil, err
	}

	rating := 0
	if favorite {
		rating = 5
	}
	if err := c.db.SetRating(ctx, path, &rating); err != nil {
		logging.Warn("failed to store rating for %s: %v", path, err)
	} else {
		rec.Rating = &rating
	}

	if err := exif.EmbedRating(ctx, path, rating); err != nil {
		if errors.Is(err, exif.ErrNoTool) {
			logging.Debug("rating not embedded in %s: %v", path, err)
		} else {
			logging.Warn("rating not embedded in %s: %v", path, err)
		}
	}

	metrics.ActionsTotal.WithLabelValues("favorite", "success").Inc()
	return rec, nil
}

// withinRoot reports whether path sits inside the media root.
func (c *Coordinator) withinRoot(path string) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// availableName returns path, or the first numbered variant of it
// that does not exist yet.
func availableName(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
