package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// SectionRepo provides data access to the sections and rosters tables.
// Sections are created with first-seen semantics: the first roster
// observed for a stem creates the section, and later rosters for the same
// stem attach to it.  All timestamps are stored in UTC.
type SectionRepo struct {
	db *sql.DB
}

// NewSectionRepo returns a new SectionRepo bound to the given database.
func NewSectionRepo(db *sql.DB) *SectionRepo { return &SectionRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions that
// span repositories.
func (r *SectionRepo) DB() *sql.DB { return r.db }

const sectionCols = `id, context_id, stem, provisioned, split,
	last_sync_requested_time, last_sync_time`

// scanSection reads one section row.  The two sync columns are nullable
// DATETIMEs and must go through sql.NullTime; the zero time stands in for
// NULL on the model.
func scanSection(row interface{ Scan(...any) error }) (*model.Section, error) {
	var s model.Section
	var requested, synced sql.NullTime
	if err := row.Scan(&s.ID, &s.ContextID, &s.Stem, &s.Provisioned, &s.Split,
		&requested, &synced); err != nil {
		return nil, err
	}
	if requested.Valid {
		s.LastSyncRequested = requested.Time
	}
	if synced.Valid {
		s.LastSync = synced.Time
	}
	return &s, nil
}

// GetByID returns one section or sql.ErrNoRows.
func (r *SectionRepo) GetByID(ctx context.Context, id uint64) (*model.Section, error) {
	const q = `SELECT ` + sectionCols + ` FROM sections WHERE id = ?`
	return scanSection(r.db.QueryRowContext(ctx, q, id))
}

// GetByStem returns the section for a (context, stem) pair or sql.ErrNoRows.
func (r *SectionRepo) GetByStem(ctx context.Context, contextID, stem string) (*model.Section, error) {
	const q = `SELECT ` + sectionCols + ` FROM sections WHERE context_id = ? AND stem = ?`
	return scanSection(r.db.QueryRowContext(ctx, q, contextID, stem))
}

// ListByContext returns all sections of one context ordered by stem.
func (r *SectionRepo) ListByContext(ctx context.Context, contextID string) ([]model.Section, error) {
	const q = `SELECT ` + sectionCols + ` FROM sections WHERE context_id = ? ORDER BY stem`
	return r.list(ctx, q, contextID)
}

// ListProvisioned returns every provisioned section.  The eligibility scan
// walks this list to find sections whose stem went fully online.
func (r *SectionRepo) ListProvisioned(ctx context.Context) ([]model.Section, error) {
	const q = `SELECT ` + sectionCols + ` FROM sections WHERE provisioned = 1 ORDER BY id`
	return r.list(ctx, q)
}

// ListDirty returns up to limit sections whose upstream change signal is
// newer than their last reconcile, oldest request first.  This watermark
// comparison is the source of truth for "needs work"; any in-memory
// de-duplication layered on top is only an optimization.
func (r *SectionRepo) ListDirty(ctx context.Context, limit int) ([]model.Section, error) {
	const q = `SELECT ` + sectionCols + ` FROM sections
	           WHERE last_sync_requested_time IS NOT NULL
	             AND (last_sync_time IS NULL OR last_sync_requested_time > last_sync_time)
	           ORDER BY last_sync_requested_time ASC LIMIT ?`
	return r.list(ctx, q, limit)
}

func (r *SectionRepo) list(ctx context.Context, q string, args ...any) ([]model.Section, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Section, 0)
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Create inserts a new section and populates the generated ID.
func (r *SectionRepo) Create(ctx context.Context, s *model.Section) error {
	const q = `INSERT INTO sections (context_id, stem, provisioned, split) VALUES (?, ?, 0, 0)`
	res, err := r.db.ExecContext(ctx, q, s.ContextID, s.Stem)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// SetFlags updates the provisioned and split markers.
func (r *SectionRepo) SetFlags(ctx context.Context, id uint64, provisioned, split bool) error {
	const q = `UPDATE sections SET provisioned = ?, split = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, provisioned, split, id)
	return err
}

// MarkSyncRequested advances the change watermark for every section of a
// context.  Reconciliation picks the section up once the requested time
// passes the last sync time.
func (r *SectionRepo) MarkSyncRequested(ctx context.Context, contextID string, at time.Time) error {
	const q = `UPDATE sections SET last_sync_requested_time = ? WHERE context_id = ?`
	_, err := r.db.ExecContext(ctx, q, at.UTC(), contextID)
	return err
}

// MarkSectionSyncRequested advances the change watermark for one section.
func (r *SectionRepo) MarkSectionSyncRequested(ctx context.Context, id uint64, at time.Time) error {
	const q = `UPDATE sections SET last_sync_requested_time = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, at.UTC(), id)
	return err
}

// SetLastSync records a completed reconcile.
func (r *SectionRepo) SetLastSync(ctx context.Context, id uint64, at time.Time) error {
	const q = `UPDATE sections SET last_sync_time = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, at.UTC(), id)
	return err
}

// Delete removes a section row.  Dependent rows (rosters, groups, members,
// meetings, assignments) must be removed first by the caller.
func (r *SectionRepo) Delete(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sections WHERE id = ?`, id)
	return err
}

// ListRosters returns all rosters feeding one section, primary first.
func (r *SectionRepo) ListRosters(ctx context.Context, sectionID uint64) ([]model.Roster, error) {
	const q = `SELECT id, section_id, roster_id, role FROM rosters
	           WHERE section_id = ? ORDER BY role = 'primary' DESC, id`
	rows, err := r.db.QueryContext(ctx, q, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Roster, 0)
	for rows.Next() {
		var ro model.Roster
		if err := rows.Scan(&ro.ID, &ro.SectionID, &ro.RosterID, &ro.Role); err != nil {
			return nil, err
		}
		out = append(out, ro)
	}
	return out, rows.Err()
}

// AddRoster attaches a roster to a section.  It reports whether a row was
// actually inserted; a duplicate (section, roster_id) pair is a no-op so
// that EnsureSection stays idempotent.
func (r *SectionRepo) AddRoster(ctx context.Context, ro *model.Roster) (bool, error) {
	const q = `INSERT INTO rosters (section_id, roster_id, role) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ro.SectionID, ro.RosterID, ro.Role)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	ro.ID = uint64(id)
	return true, nil
}

// DeleteRosters removes all roster rows of a section.
func (r *SectionRepo) DeleteRosters(ctx context.Context, sectionID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rosters WHERE section_id = ?`, sectionID)
	return err
}

// SplitOverride reports whether the context has the property that
// re-enables cohort splitting for stems whose instruction mode would
// otherwise make them ineligible.  Absence of a row means no override.
func (r *SectionRepo) SplitOverride(ctx context.Context, contextID string) (bool, error) {
	const q = `SELECT allow_split_override FROM context_settings WHERE context_id = ?`
	var v bool
	err := r.db.QueryRowContext(ctx, q, contextID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v, nil
}
