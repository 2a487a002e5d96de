package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"media-index/internal/database"
)

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	entries map[string]database.Location
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]database.Location)}
}

func storeKey(lat, lon float64, precision int) string {
	return fmt.Sprintf("%v|%v|%d", lat, lon, precision)
}

func (s *memStore) GetGeocode(_ context.Context, lat, lon float64, precision int) (*database.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.entries[storeKey(lat, lon, precision)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &loc, nil
}

func (s *memStore) PutGeocode(_ context.Context, lat, lon float64, precision int, loc database.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(lat, lon, precision)] = loc
	return nil
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fakeClient counts calls and serves a fixed answer or error.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	loc   *database.Location
	err   error
	delay time.Duration
}

func (c *fakeClient) ReverseGeocode(_ context.Context, _, _ float64) (*database.Location, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	loc := *c.loc
	return &loc, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestResolveCachesByBucket(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{loc: &database.Location{Name: "Louvre", City: "Paris", Country: "France"}}
	r := New(store, client, 4, time.Millisecond, 4)
	ctx := context.Background()

	first, err := r.Resolve(ctx, 48.86061, 2.33764)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.City != "Paris" {
		t.Errorf("City = %q, want Paris", first.City)
	}

	// Coordinates that round to the same bucket hit the cache.
	second, err := r.Resolve(ctx, 48.86059, 2.33762)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if second.Name != "Louvre" {
		t.Errorf("Name = %q, want cached Louvre", second.Name)
	}
	if client.callCount() != 1 {
		t.Errorf("external calls = %d, want 1 for one bucket", client.callCount())
	}

	// A different bucket means a fresh call.
	if _, err := r.Resolve(ctx, 51.5007, -0.1246); err != nil {
		t.Fatalf("distinct bucket Resolve failed: %v", err)
	}
	if client.callCount() != 2 {
		t.Errorf("external calls = %d, want 2 for two buckets", client.callCount())
	}
}

func TestResolveFailureNotCached(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{err: errors.New("upstream down")}
	r := New(store, client, 4, time.Millisecond, 4)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, 10, 20); err == nil {
		t.Fatal("Resolve succeeded against a failing client")
	}
	if store.size() != 0 {
		t.Error("failure was written to the cache")
	}

	// Recovery: the next attempt goes out again instead of replaying a
	// cached failure.
	client.mu.Lock()
	client.err = nil
	client.loc = &database.Location{City: "Lagos", Country: "Nigeria"}
	client.mu.Unlock()

	loc, err := r.Resolve(ctx, 10, 20)
	if err != nil {
		t.Fatalf("Resolve after recovery failed: %v", err)
	}
	if loc.City != "Lagos" {
		t.Errorf("City = %q, want Lagos", loc.City)
	}
	if client.callCount() != 2 {
		t.Errorf("external calls = %d, want 2", client.callCount())
	}
}

func TestResolveQueueOverflow(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{
		loc:   &database.Location{City: "Oslo"},
		delay: 100 * time.Millisecond,
	}
	// One slot and a slow client: the second distinct lookup finds the
	// queue full and fails fast.
	r := New(store, client, 4, time.Millisecond, 1)
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = r.Resolve(ctx, 59.91, 10.75)
		close(done)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := r.Resolve(ctx, 35.68, 139.69)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve error = %v, want ErrUnavailable", err)
	}
	<-done
}

func TestResolveConcurrentMissesCollapse(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{
		loc:   &database.Location{City: "Kyoto"},
		delay: 30 * time.Millisecond,
	}
	r := New(store, client, 4, time.Millisecond, 8)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(ctx, 35.0116, 135.7681); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if client.callCount() != 1 {
		t.Errorf("external calls = %d, want 1 for concurrent same-bucket misses", client.callCount())
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		v    float64
		n    int
		want float64
	}{
		{48.86061, 4, 48.8606},
		{48.86068, 4, 48.8607},
		{-0.12463, 4, -0.1246},
		{135.7681, 0, 136},
		{12.34, 2, 12.34},
	}
	for _, tt := range tests {
		if got := roundTo(tt.v, tt.n); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("roundTo(%v, %d) = %v, want %v", tt.v, tt.n, got, tt.want)
		}
	}
}
