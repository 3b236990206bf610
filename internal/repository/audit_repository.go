package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// AuditRepo appends rows to the audit_events table.  No method on this
// repository ever updates or deletes; the trail is strictly append-only.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns a new AuditRepo bound to the given database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one immutable event row.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditEvent) error {
	const q = `INSERT INTO audit_events (id, kind, at, actor, payload) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.Kind, e.At.UTC(), e.Actor, e.Payload)
	return err
}
