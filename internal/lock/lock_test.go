package lock

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/repository"
)

// fakeStore keeps lock rows in memory with the same semantics as the
// context_locks table: one row per context, insert fails while a row exists.
type fakeStore struct {
	rows    map[string]time.Time
	inserts int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]time.Time)}
}

func (s *fakeStore) DeleteStale(_ context.Context, contextID string, cutoff time.Time) error {
	if at, ok := s.rows[contextID]; ok && at.Before(cutoff) {
		delete(s.rows, contextID)
	}
	return nil
}

func (s *fakeStore) Insert(_ context.Context, contextID string, at time.Time) error {
	s.inserts++
	if _, ok := s.rows[contextID]; ok {
		return repository.ErrLockHeld
	}
	s.rows[contextID] = at
	return nil
}

func (s *fakeStore) Delete(_ context.Context, contextID string) error {
	s.deletes++
	delete(s.rows, contextID)
	return nil
}

func newTestManager(store Store) *Manager {
	m := NewManager(store, zerolog.Nop())
	m.sleep = func(time.Duration) {} // no real waiting in tests
	return m
}

func TestManagerTryLock(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires a free context", func(t *testing.T) {
		store := newFakeStore()
		m := newTestManager(store)

		ok, err := m.TryLock(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("TryLock failed: %v", err)
		}
		if !ok {
			t.Fatal("expected acquisition to succeed")
		}
		if _, held := store.rows["ctx-1"]; !held {
			t.Error("expected lock row to exist")
		}
	})

	t.Run("refuses a held context", func(t *testing.T) {
		store := newFakeStore()
		holder := newTestManager(store)
		if ok, _ := holder.TryLock(ctx, "ctx-1"); !ok {
			t.Fatal("setup: first acquisition should succeed")
		}

		other := newTestManager(store)
		ok, err := other.TryLock(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("TryLock failed: %v", err)
		}
		if ok {
			t.Error("expected acquisition to fail while held")
		}
	})

	t.Run("reclaims a stale row", func(t *testing.T) {
		store := newFakeStore()
		store.rows["ctx-1"] = time.Now().Add(-time.Minute) // crashed holder

		m := newTestManager(store)
		ok, err := m.TryLock(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("TryLock failed: %v", err)
		}
		if !ok {
			t.Error("expected stale row to be reclaimed")
		}
	})

	t.Run("does not reclaim a fresh row", func(t *testing.T) {
		store := newFakeStore()
		store.rows["ctx-1"] = time.Now() // active holder

		m := newTestManager(store)
		ok, err := m.TryLock(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("TryLock failed: %v", err)
		}
		if ok {
			t.Error("expected fresh row to block acquisition")
		}
	})

	t.Run("detects re-entrant acquisition", func(t *testing.T) {
		store := newFakeStore()
		m := newTestManager(store)
		if ok, _ := m.TryLock(ctx, "ctx-1"); !ok {
			t.Fatal("setup: first acquisition should succeed")
		}

		ok, err := m.TryLock(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("TryLock failed: %v", err)
		}
		if ok {
			t.Error("re-entrant acquisition must not succeed")
		}
	})
}

func TestManagerLock(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up after the attempt bound", func(t *testing.T) {
		store := newFakeStore()
		holder := newTestManager(store)
		if ok, _ := holder.TryLock(ctx, "ctx-1"); !ok {
			t.Fatal("setup: first acquisition should succeed")
		}

		waiter := newTestManager(store)
		before := store.inserts
		if waiter.Lock(ctx, "ctx-1") {
			t.Fatal("expected Lock to give up on a held context")
		}
		if got := store.inserts - before; got != DefaultAttempts {
			t.Errorf("expected %d attempts, got %d", DefaultAttempts, got)
		}
	})

	t.Run("succeeds once the holder releases", func(t *testing.T) {
		store := newFakeStore()
		holder := newTestManager(store)
		if ok, _ := holder.TryLock(ctx, "ctx-1"); !ok {
			t.Fatal("setup: first acquisition should succeed")
		}

		waiter := newTestManager(store)
		tries := 0
		waiter.sleep = func(time.Duration) {
			tries++
			if tries == 3 {
				holder.Unlock(ctx, "ctx-1")
			}
		}
		if !waiter.Lock(ctx, "ctx-1") {
			t.Error("expected Lock to succeed after release")
		}
	})

	t.Run("stops retrying when the context is cancelled", func(t *testing.T) {
		store := newFakeStore()
		holder := newTestManager(store)
		if ok, _ := holder.TryLock(ctx, "ctx-1"); !ok {
			t.Fatal("setup: first acquisition should succeed")
		}

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		waiter := newTestManager(store)
		before := store.inserts
		if waiter.Lock(cancelled, "ctx-1") {
			t.Fatal("expected Lock to fail under a cancelled context")
		}
		if got := store.inserts - before; got != 1 {
			t.Errorf("expected a single attempt, got %d", got)
		}
	})
}

func TestManagerUnlock(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestManager(store)

	if ok, _ := m.TryLock(ctx, "ctx-1"); !ok {
		t.Fatal("setup: acquisition should succeed")
	}
	m.Unlock(ctx, "ctx-1")

	if _, held := store.rows["ctx-1"]; held {
		t.Error("expected lock row to be deleted")
	}
	// After release the same manager may acquire again.
	if ok, _ := m.TryLock(ctx, "ctx-1"); !ok {
		t.Error("expected re-acquisition after release to succeed")
	}
}
