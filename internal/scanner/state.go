package scanner

import (
	"sync"
	"time"
)

// Phase is what the scanner is currently doing.
type Phase string

const (
	// PhaseIdle means no scan is running and no watcher is active.
	PhaseIdle Phase = "idle"
	// PhaseScanning means a reconcile pass is in progress.
	PhaseScanning Phase = "scanning"
	// PhaseWatching means the filesystem watcher is active.
	PhaseWatching Phase = "watching"
)

// ScanError is one per-file failure collected during a scan.
type ScanError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScanResult summarizes one reconcile pass.
type ScanResult struct {
	ScanID    string      `json:"scan_id"`
	Folder    string      `json:"folder"`
	Added     int         `json:"added"`
	Updated   int         `json:"updated"`
	Removed   int         `json:"removed"`
	Unchanged int         `json:"unchanged"`
	Errors    []ScanError `json:"errors"`
	Duration  float64     `json:"duration_seconds"`
}

// State is the scanner's externally visible condition.
type State struct {
	Phase      Phase      `json:"phase"`
	LastScan   *time.Time `json:"last_scan,omitempty"`
	LastResult *ScanResult `json:"last_result,omitempty"`
}

type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func newStateTracker() *stateTracker {
	return &stateTracker{state: State{Phase: PhaseIdle}}
}

func (t *stateTracker) setPhase(p Phase) {
	t.mu.Lock()
	t.state.Phase = p
	t.mu.Unlock()
}

func (t *stateTracker) recordResult(r *ScanResult, finished time.Time) {
	t.mu.Lock()
	t.state.LastScan = &finished
	t.state.LastResult = r
	t.mu.Unlock()
}

func (t *stateTracker) snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// moveTTL bounds how long an announced move stays suppressible, so a
// registration with no matching event cannot mask a real change later.
const moveTTL = 10 * time.Second

// MoveRegistry records filesystem moves the action coordinator is
// about to make, so the watcher can tell them apart from external
// changes.
type MoveRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMoveRegistry returns an empty registry.
func NewMoveRegistry() *MoveRegistry {
	return &MoveRegistry{entries: make(map[string]time.Time)}
}

// Expect registers paths as belonging to an imminent self-initiated
// move. Both ends of a rename should be registered.
func (r *MoveRegistry) Expect(paths ...string) {
	now := time.Now()
	r.mu.Lock()
	for _, p := range paths {
		r.entries[p] = now
	}
	r.mu.Unlock()
}

// Consume reports whether path belongs to a registered move, removing
// the registration. Stale registrations do not match.
func (r *MoveRegistry) Consume(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.entries[path]
	if !ok {
		return false
	}
	delete(r.entries, path)
	return time.Since(at) <= moveTTL
}
