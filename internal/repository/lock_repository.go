package repository

import (
	"context"
	"database/sql"
	"time"
)

// LockRepo provides data access to the context_locks table.  The single
// atomic primitive is the insert: the primary key on context_id makes the
// second inserter fail with a duplicate-entry error, which is translated
// to ErrLockHeld.
type LockRepo struct {
	db *sql.DB
}

// NewLockRepo returns a new LockRepo bound to the given database.
func NewLockRepo(db *sql.DB) *LockRepo { return &LockRepo{db: db} }

// DeleteStale removes a lock row older than the staleness cutoff so that
// a crashed holder cannot block a context forever.
func (r *LockRepo) DeleteStale(ctx context.Context, contextID string, cutoff time.Time) error {
	const q = `DELETE FROM context_locks WHERE context_id = ? AND acquired_at < ?`
	_, err := r.db.ExecContext(ctx, q, contextID, cutoff.UTC())
	return err
}

// Insert attempts to acquire the lock by creating the row.  ErrLockHeld
// means another holder's row already exists.
func (r *LockRepo) Insert(ctx context.Context, contextID string, at time.Time) error {
	const q = `INSERT INTO context_locks (context_id, acquired_at) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, q, contextID, at.UTC()); err != nil {
		if isDuplicateKey(err) {
			return ErrLockHeld
		}
		return err
	}
	return nil
}

// Delete releases the lock unconditionally.
func (r *LockRepo) Delete(ctx context.Context, contextID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM context_locks WHERE context_id = ?`, contextID)
	return err
}
