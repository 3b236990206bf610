// Package lock implements the advisory per-context lock that serializes
// roster reconciliation and directory group mutation across processes.
// The lock is a row in the context_locks table: inserting the row acquires
// it, deleting releases it, and rows older than the staleness bound are
// reclaimed so a crashed holder cannot wedge a context.
package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/repository"
)

// Store is the persistence behind the lock, satisfied by
// repository.LockRepo.
type Store interface {
	DeleteStale(ctx context.Context, contextID string, cutoff time.Time) error
	Insert(ctx context.Context, contextID string, at time.Time) error
	Delete(ctx context.Context, contextID string) error
}

// Defaults matching the reference deployment.
const (
	DefaultStaleAfter = 5 * time.Second
	DefaultAttempts   = 10
	DefaultBackoff    = 250 * time.Millisecond
)

// Manager grants exclusive time-bounded locks on contexts.  A Manager is
// owned by exactly one worker (the scheduler goroutine, or one request in
// flight): the held set it carries detects that worker re-acquiring a
// context it already holds, which is always a bug and is logged loudly
// rather than deadlocking or silently succeeding.
type Manager struct {
	store      Store
	staleAfter time.Duration
	attempts   int
	backoff    time.Duration
	held       map[string]struct{}
	log        zerolog.Logger
	now        func() time.Time
	sleep      func(time.Duration)
}

// NewManager returns a Manager for one worker with reference timing
// parameters.
func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		staleAfter: DefaultStaleAfter,
		attempts:   DefaultAttempts,
		backoff:    DefaultBackoff,
		held:       make(map[string]struct{}),
		log:        log,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// TryLock makes a single acquisition attempt.  It first reclaims any stale
// row left by a crashed holder, then inserts its own.  false means another
// holder is active; the caller should defer the work to a later pass.
func (m *Manager) TryLock(ctx context.Context, contextID string) (bool, error) {
	if _, ok := m.held[contextID]; ok {
		// Re-entrant acquisition indicates a defect in the caller, not a
		// supported mode.  Refuse and keep going.
		m.log.Error().Str("context_id", contextID).
			Msg("re-entrant lock acquisition attempted")
		return false, nil
	}
	now := m.now().UTC()
	if err := m.store.DeleteStale(ctx, contextID, now.Add(-m.staleAfter)); err != nil {
		return false, err
	}
	err := m.store.Insert(ctx, contextID, now)
	if err == repository.ErrLockHeld {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.held[contextID] = struct{}{}
	return true, nil
}

// Lock retries TryLock with fixed backoff up to the attempt bound.  It
// never blocks indefinitely: false means the caller must give up and let
// the next scheduling pass retry.
func (m *Manager) Lock(ctx context.Context, contextID string) bool {
	for i := 0; i < m.attempts; i++ {
		ok, err := m.TryLock(ctx, contextID)
		if err != nil {
			m.log.Warn().Err(err).Str("context_id", contextID).Msg("lock attempt failed")
		}
		if ok {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		m.sleep(m.backoff)
	}
	return false
}

// Unlock deletes the lock row unconditionally and forgets the held entry.
func (m *Manager) Unlock(ctx context.Context, contextID string) {
	delete(m.held, contextID)
	if err := m.store.Delete(ctx, contextID); err != nil {
		m.log.Warn().Err(err).Str("context_id", contextID).Msg("lock release failed")
	}
}
