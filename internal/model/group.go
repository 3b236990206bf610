package model

// SeatGroup is one cohort within a section.  Cohorts are created during
// partitioning and keep their identity for their whole life; membership
// changes by moving Member rows, never by renumbering groups.  When the
// section is split, the cohort is mirrored to an external directory group
// whose identifier is stored in DirectoryGroupID.  A nil DirectoryGroupID
// means no directory group exists (yet) for this cohort.
type SeatGroup struct {
	ID               uint64  // seat_groups.id
	SectionID        uint64  // seat_groups.section_id
	Name             string  // seat_groups.name ("A", "B", ...)
	Description      string  // seat_groups.description
	DirectoryGroupID *string // seat_groups.directory_group_id (nullable)
}

// Member is one participant's membership in a cohort.  Official members
// derive from the authoritative roster and are dropped automatically when
// they disappear from it; manual members stick until the participant
// leaves the whole context.
//
// Fields:
//  ID       – primary key identifier.
//  GroupID  – cohort this member belongs to.
//  NetID    – participant identifier.
//  Role     – participant role (student, ta, instructor, admin).
//  Official – true when membership comes from the roster.
//  Location – in-person or remote.
type Member struct {
	ID       uint64 // members.id
	GroupID  uint64 // members.group_id
	NetID    string // members.netid
	Role     string // members.role
	Official bool   // members.official
	Location string // members.location
}

// Member roles.
const (
	RoleStudent    = "student"
	RoleTA         = "ta"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// Member locations.
const (
	LocationInPerson = "in-person"
	LocationRemote   = "remote"
)
