// Package pathlock serializes work on individual file paths. The
// scanner and the action coordinator share one Locker so a reconcile
// step and a move can never interleave on the same file.
package pathlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker provides per-key mutual exclusion. The zero value is not
// usable; call New.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for path, creating it on first use.
func (l *Locker) Lock(path string) {
	l.mu.Lock()
	e, ok := l.locks[path]
	if !ok {
		e = &entry{}
		l.locks[path] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for path. The entry is dropped once no
// goroutine holds or waits on it, so the map stays bounded by the
// number of in-flight paths.
func (l *Locker) Unlock(path string) {
	l.mu.Lock()
	e, ok := l.locks[path]
	if !ok {
		l.mu.Unlock()
		panic("pathlock: unlock of unheld path " + path)
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, path)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}
