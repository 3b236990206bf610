package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// GroupRepo provides data access to the seat_groups and members tables.
// Groups and their membership always change together under the owning
// context's lock, so the two tables share a repository.
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo returns a new GroupRepo bound to the given database.
func NewGroupRepo(db *sql.DB) *GroupRepo { return &GroupRepo{db: db} }

const groupCols = `id, section_id, name, description, directory_group_id`

func scanGroup(row interface{ Scan(...any) error }) (*model.SeatGroup, error) {
	var g model.SeatGroup
	var dirID sql.NullString
	if err := row.Scan(&g.ID, &g.SectionID, &g.Name, &g.Description, &dirID); err != nil {
		return nil, err
	}
	if dirID.Valid {
		v := dirID.String
		g.DirectoryGroupID = &v
	}
	return &g, nil
}

// GetByID returns one group or sql.ErrNoRows.
func (r *GroupRepo) GetByID(ctx context.Context, id uint64) (*model.SeatGroup, error) {
	const q = `SELECT ` + groupCols + ` FROM seat_groups WHERE id = ?`
	return scanGroup(r.db.QueryRowContext(ctx, q, id))
}

// ListBySection returns all groups of a section ordered by name.
func (r *GroupRepo) ListBySection(ctx context.Context, sectionID uint64) ([]model.SeatGroup, error) {
	const q = `SELECT ` + groupCols + ` FROM seat_groups WHERE section_id = ? ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.SeatGroup, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// CountBySection returns the number of groups in a section.
func (r *GroupRepo) CountBySection(ctx context.Context, sectionID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seat_groups WHERE section_id = ?`, sectionID).Scan(&n)
	return n, err
}

// Create inserts a group and populates the generated ID.
func (r *GroupRepo) Create(ctx context.Context, g *model.SeatGroup) error {
	const q = `INSERT INTO seat_groups (section_id, name, description) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, g.SectionID, g.Name, g.Description)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = uint64(id)
	return nil
}

// SetDirectoryGroupID links or unlinks (nil) the external directory group.
func (r *GroupRepo) SetDirectoryGroupID(ctx context.Context, groupID uint64, dirID *string) error {
	const q = `UPDATE seat_groups SET directory_group_id = ? WHERE id = ?`
	var v sql.NullString
	if dirID != nil {
		v = sql.NullString{String: *dirID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, v, groupID)
	return err
}

// Delete removes one group row.  Members, meetings and assignments of the
// group must be removed first.
func (r *GroupRepo) Delete(ctx context.Context, groupID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM seat_groups WHERE id = ?`, groupID)
	return err
}

// DeleteBySection removes every group of a section.
func (r *GroupRepo) DeleteBySection(ctx context.Context, sectionID uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM seat_groups WHERE section_id = ?`, sectionID)
	return err
}

// SmallestGroup returns the group of the section with the fewest members.
// Incremental adds always land here so membership stays balanced without
// ever moving existing members.  Ties break on group id.
func (r *GroupRepo) SmallestGroup(ctx context.Context, sectionID uint64) (*model.SeatGroup, error) {
	const q = `SELECT g.id, g.section_id, g.name, g.description, g.directory_group_id
	           FROM seat_groups g
	           LEFT JOIN members m ON m.group_id = g.id
	           WHERE g.section_id = ?
	           GROUP BY g.id
	           ORDER BY COUNT(m.id) ASC, g.id ASC
	           LIMIT 1`
	return scanGroup(r.db.QueryRowContext(ctx, q, sectionID))
}

const memberCols = `id, group_id, netid, role, official, location`

func scanMember(row interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	if err := row.Scan(&m.ID, &m.GroupID, &m.NetID, &m.Role, &m.Official, &m.Location); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns the members of one group ordered by netid.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID uint64) ([]model.Member, error) {
	const q = `SELECT ` + memberCols + ` FROM members WHERE group_id = ? ORDER BY netid`
	return r.listMembers(ctx, q, groupID)
}

// ListSectionMembers returns every member across all groups of a section.
func (r *GroupRepo) ListSectionMembers(ctx context.Context, sectionID uint64) ([]model.Member, error) {
	const q = `SELECT m.id, m.group_id, m.netid, m.role, m.official, m.location
	           FROM members m
	           JOIN seat_groups g ON g.id = m.group_id
	           WHERE g.section_id = ? ORDER BY m.netid`
	return r.listMembers(ctx, q, sectionID)
}

func (r *GroupRepo) listMembers(ctx context.Context, q string, args ...any) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMember returns one member row or sql.ErrNoRows.
func (r *GroupRepo) GetMember(ctx context.Context, memberID uint64) (*model.Member, error) {
	const q = `SELECT ` + memberCols + ` FROM members WHERE id = ?`
	return scanMember(r.db.QueryRowContext(ctx, q, memberID))
}

// AddMember inserts a member and populates the generated ID.  A duplicate
// netid within the same section violates the membership-exclusivity
// unique index and surfaces as ErrConflict.
func (r *GroupRepo) AddMember(ctx context.Context, m *model.Member) error {
	const q = `INSERT INTO members (group_id, netid, role, official, location,
	                                section_id)
	           SELECT ?, ?, ?, ?, ?, section_id FROM seat_groups WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, m.GroupID, m.NetID, m.Role, m.Official, m.Location, m.GroupID)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// SetOfficial flips the official flag, used to upgrade a manually added
// member once the roster starts reporting them.
func (r *GroupRepo) SetOfficial(ctx context.Context, memberID uint64, official bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET official = ? WHERE id = ?`, official, memberID)
	return err
}

// MoveMember reassigns a member to another group of the same section.  It
// returns ErrConflict when the target group belongs to a different
// section, preserving membership exclusivity per section.  Zero affected
// rows reads as a conflict, so a move into the member's current group must
// be screened by the caller before calling.
func (r *GroupRepo) MoveMember(ctx context.Context, memberID, targetGroupID uint64) error {
	const q = `UPDATE members m
	           JOIN seat_groups src ON src.id = m.group_id
	           JOIN seat_groups dst ON dst.id = ?
	           SET m.group_id = dst.id
	           WHERE m.id = ? AND dst.section_id = src.section_id`
	res, err := r.db.ExecContext(ctx, q, targetGroupID, memberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// RemoveMember deletes one member row and reports whether a row existed.
func (r *GroupRepo) RemoveMember(ctx context.Context, memberID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, memberID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteMembersBySection removes every member of a section, used when a
// section is re-partitioned or torn down.
func (r *GroupRepo) DeleteMembersBySection(ctx context.Context, sectionID uint64) error {
	const q = `DELETE m FROM members m
	           JOIN seat_groups g ON g.id = m.group_id
	           WHERE g.section_id = ?`
	_, err := r.db.ExecContext(ctx, q, sectionID)
	return err
}
