package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// SeatRepo provides data access to the seat_assignments table.  Seat
// writes deliberately avoid the context lock: the unique (meeting, seat)
// index plus compare-and-swap updates keep concurrent claimers correct
// under arbitrary interleavings across processes.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the given database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// Get returns the assignment for one (meeting, participant), or nil when
// the participant holds no seat in that meeting.
func (r *SeatRepo) Get(ctx context.Context, meetingID uint64, netID string) (*model.SeatAssignment, error) {
	const q = `SELECT id, meeting_id, netid, seat, editable_until
	           FROM seat_assignments WHERE meeting_id = ? AND netid = ?`
	var a model.SeatAssignment
	var until sql.NullTime
	err := r.db.QueryRowContext(ctx, q, meetingID, netID).
		Scan(&a.ID, &a.MeetingID, &a.NetID, &a.Seat, &until)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if until.Valid {
		a.EditableUntil = until.Time
	}
	return &a, nil
}

// Insert claims a seat for a participant who holds none.  A collision on
// the unique (meeting, seat) index means somebody else claimed the seat
// first and surfaces as ErrSeatTaken.
func (r *SeatRepo) Insert(ctx context.Context, a *model.SeatAssignment) error {
	const q = `INSERT INTO seat_assignments (meeting_id, netid, seat, editable_until)
	           VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, a.MeetingID, a.NetID, a.Seat, nullableTime(a.EditableUntil))
	if err != nil {
		if isDuplicateKey(err) {
			return ErrSeatTaken
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// UpdateSeatCAS moves an existing assignment to a new seat only if the
// stored seat still equals expected.  It returns false when zero rows
// matched, meaning a concurrent writer got there first, and ErrSeatTaken
// when the new seat collides with another participant's row.
func (r *SeatRepo) UpdateSeatCAS(ctx context.Context, meetingID uint64, netID, newSeat, expected string, editableUntil time.Time) (bool, error) {
	const q = `UPDATE seat_assignments SET seat = ?, editable_until = ?
	           WHERE meeting_id = ? AND netid = ? AND seat = ?`
	res, err := r.db.ExecContext(ctx, q, newSeat, nullableTime(editableUntil), meetingID, netID, expected)
	if err != nil {
		if isDuplicateKey(err) {
			return false, ErrSeatTaken
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a participant's assignment and reports whether a row was
// actually deleted, so callers can skip the audit event on a no-op clear.
func (r *SeatRepo) Delete(ctx context.Context, meetingID uint64, netID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM seat_assignments WHERE meeting_id = ? AND netid = ?`, meetingID, netID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteByGroup removes every assignment under one cohort's meetings.
func (r *SeatRepo) DeleteByGroup(ctx context.Context, groupID uint64) error {
	const q = `DELETE sa FROM seat_assignments sa
	           JOIN meetings mt ON mt.id = sa.meeting_id
	           WHERE mt.group_id = ?`
	_, err := r.db.ExecContext(ctx, q, groupID)
	return err
}

// DeleteByGroupNetID removes one participant's assignments across a
// cohort's meetings, used when the participant leaves the cohort.
func (r *SeatRepo) DeleteByGroupNetID(ctx context.Context, groupID uint64, netID string) error {
	const q = `DELETE sa FROM seat_assignments sa
	           JOIN meetings mt ON mt.id = sa.meeting_id
	           WHERE mt.group_id = ? AND sa.netid = ?`
	_, err := r.db.ExecContext(ctx, q, groupID, netID)
	return err
}

// DeleteBySection removes every assignment under a section.
func (r *SeatRepo) DeleteBySection(ctx context.Context, sectionID uint64) error {
	const q = `DELETE sa FROM seat_assignments sa
	           JOIN meetings mt ON mt.id = sa.meeting_id
	           JOIN seat_groups g ON g.id = mt.group_id
	           WHERE g.section_id = ?`
	_, err := r.db.ExecContext(ctx, q, sectionID)
	return err
}

// nullableTime maps the zero time to SQL NULL.  A NULL editable_until is
// the privileged "no restriction" sentinel.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
