package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
)

// Watcher feeds filesystem events into single-path reconcile steps.
// Events are debounced per path so editor save bursts and slow copies
// collapse into one step after the tree goes quiet.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	watched int
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher builds a Watcher over the scanner's root.
func NewWatcher(s *Scanner, debounce time.Duration) *Watcher {
	return &Watcher{
		scanner:  s,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Start begins watching every non-hidden directory under the root and
// launches the event loop. It returns once the watches are in place.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.fsw = fsw

	if err := w.addTree(w.scanner.Root()); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logging.Error("failed to close watcher after setup failure: %v", closeErr)
		}
		return err
	}

	logging.Info("Watching %d directories under %s (debounce %v)", w.watched, w.scanner.Root(), w.debounce)
	w.scanner.tracker.setPhase(PhaseWatching)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop tears the watcher down and cancels pending debounce timers.
func (w *Watcher) Stop() {
	close(w.done)
	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			logging.Error("failed to close filesystem watcher: %v", err)
		}
	}

	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.scanner.tracker.setPhase(PhaseIdle)
}

// addTree registers watches for dir and every eligible directory
// below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("watch setup: cannot access %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.watched++
		metrics.WatchedDirectories.Set(float64(w.watched))
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			metrics.WatcherErrors.Inc()
			logging.Error("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	metrics.WatcherEventsTotal.WithLabelValues(event.Op.String()).Inc()
	path := filepath.Clean(event.Name)

	// Moves the action coordinator announced are its own doing; the
	// store was already updated in the same step as the rename.
	if w.scanner.Moves().Consume(path) {
		metrics.WatcherSuppressedMoves.Inc()
		logging.Debug("watch: ignoring self-initiated move of %s", path)
		return
	}

	if strings.HasPrefix(filepath.Base(path), ".") || underActionDir(path) {
		return
	}

	// New directories need watches of their own before their content
	// starts producing events.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(path)) {
				if err := w.addTree(path); err != nil {
					logging.Warn("failed to watch new directory %s: %v", path, err)
				}
				// Files that arrived with the directory predate its
				// watch; sweep them explicitly.
				w.scheduleDirSweep(ctx, path)
			}
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !mediatypes.IsMediaFile(ext) {
		return
	}
	w.schedule(ctx, path)
}

// schedule arms (or re-arms) the debounce timer for path. The
// reconcile step runs only after the path stays quiet for the full
// window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		if err := w.scanner.ReconcilePath(ctx, path); err != nil {
			logging.Error("watch: reconcile of %s failed: %v", path, err)
		}
	})
}

// scheduleDirSweep debounces every media file already inside a newly
// created directory.
func (w *Watcher) scheduleDirSweep(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Warn("failed to sweep new directory %s: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.schedule(ctx, filepath.Join(dir, entry.Name()))
	}
}
