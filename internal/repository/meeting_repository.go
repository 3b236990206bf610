package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// MeetingRepo provides data access to the meetings table.
type MeetingRepo struct {
	db *sql.DB
}

// NewMeetingRepo returns a new MeetingRepo bound to the given database.
func NewMeetingRepo(db *sql.DB) *MeetingRepo { return &MeetingRepo{db: db} }

// GetByID returns one meeting or sql.ErrNoRows.
func (r *MeetingRepo) GetByID(ctx context.Context, id uint64) (*model.Meeting, error) {
	const q = `SELECT id, group_id, location FROM meetings WHERE id = ?`
	var m model.Meeting
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&m.ID, &m.GroupID, &m.Location); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByGroup returns the meetings of one cohort ordered by id.
func (r *MeetingRepo) ListByGroup(ctx context.Context, groupID uint64) ([]model.Meeting, error) {
	const q = `SELECT id, group_id, location FROM meetings WHERE group_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Meeting, 0)
	for rows.Next() {
		var m model.Meeting
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Location); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a meeting and populates the generated ID.
func (r *MeetingRepo) Create(ctx context.Context, m *model.Meeting) error {
	const q = `INSERT INTO meetings (group_id, location) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, q, m.GroupID, m.Location)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// DeleteByGroup removes every meeting of one cohort.
func (r *MeetingRepo) DeleteByGroup(ctx context.Context, groupID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM meetings WHERE group_id = ?`, groupID)
	return err
}

// DeleteBySection removes every meeting under a section.
func (r *MeetingRepo) DeleteBySection(ctx context.Context, sectionID uint64) error {
	const q = `DELETE mt FROM meetings mt
	           JOIN seat_groups g ON g.id = mt.group_id
	           WHERE g.section_id = ?`
	_, err := r.db.ExecContext(ctx, q, sectionID)
	return err
}
