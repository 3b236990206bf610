package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// SyncQueueRepo provides data access to the sync_queue table.  Entries are
// appended, never updated; the consumer reads them in id order and deletes
// everything at or below the watermark of the last entry it attempted.
type SyncQueueRepo struct {
	db *sql.DB
}

// NewSyncQueueRepo returns a new SyncQueueRepo bound to the given database.
func NewSyncQueueRepo(db *sql.DB) *SyncQueueRepo { return &SyncQueueRepo{db: db} }

// Enqueue appends one fact.
func (r *SyncQueueRepo) Enqueue(ctx context.Context, action, arg1, arg2 string) error {
	const q = `INSERT INTO sync_queue (action, arg1, arg2) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, action, arg1, arg2)
	return err
}

// ListBatch returns up to limit entries in id order.
func (r *SyncQueueRepo) ListBatch(ctx context.Context, limit int) ([]model.SyncQueueEntry, error) {
	const q = `SELECT id, action, arg1, COALESCE(arg2, '')
	           FROM sync_queue ORDER BY id ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.SyncQueueEntry, 0)
	for rows.Next() {
		var e model.SyncQueueEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Arg1, &e.Arg2); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteUpTo removes every entry with id <= watermark.  Entries newer than
// the last attempted one stay queued for the next pass.
func (r *SyncQueueRepo) DeleteUpTo(ctx context.Context, watermark uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id <= ?`, watermark)
	return err
}
