// Package provider defines the interfaces through which the engine talks
// to the authoritative course data systems.  The engine never assumes a
// particular transport; implementations may be REST clients, database
// views or in-memory fakes in tests.
package provider

import "context"

// Enrollment is one participant on an authoritative roster.
type Enrollment struct {
	NetID    string `json:"netid"`
	Role     string `json:"role"`
	Location string `json:"location"`
}

// MeetingPattern describes where and when a roster stem meets.  Only the
// location is consumed by the engine; the schedule fields are passed
// through to callers building display models.
type MeetingPattern struct {
	Location   string   `json:"location"`
	DaysOfWeek []string `json:"days_of_week"`
	Times      string   `json:"times"`
}

// Instruction modes reported by the roster provider.  Only in-person and
// blended stems are eligible for cohort splitting.
const (
	ModeInPerson = "in-person"
	ModeBlended  = "blended"
	ModeOnline   = "online"
)

// RosterProvider is the authoritative course-roster system.  All methods
// are read-only and safe to call repeatedly.
type RosterProvider interface {
	// GetEnrollments returns the current membership of one roster.
	GetEnrollments(ctx context.Context, rosterID string) ([]Enrollment, error)
	// GetInstructionMode returns the instruction mode for a roster stem.
	GetInstructionMode(ctx context.Context, stem string) (string, error)
	// GetMeetingPattern returns the scheduled meeting pattern for a stem.
	GetMeetingPattern(ctx context.Context, stem string) (MeetingPattern, error)
	// GetCrosslistSponsor returns the sponsoring (primary) roster id for a
	// cross-listed roster, or "" when the roster is not cross-listed.
	GetCrosslistSponsor(ctx context.Context, rosterID string) (string, error)
	// ListContextRosters returns the roster ids currently attached to a
	// context.  The scheduler walks this list after a change signal so
	// sections are created the first time a roster is observed.
	ListContextRosters(ctx context.Context, contextID string) ([]string, error)
	// ChangedContextsSince reports context ids whose roster data changed
	// after the given instant.  The scheduler polls this to mark sections
	// dirty.
	ChangedContextsSince(ctx context.Context, since int64) ([]string, error)
}

// ActiveMember is one participant of a context as reported by the context
// directory, used to decide whether a manually added member who fell off
// the roster should be retained.
type ActiveMember struct {
	NetID  string `json:"netid"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// ContextDirectory exposes context-wide membership.
type ContextDirectory interface {
	GetActiveMembers(ctx context.Context, contextID string) ([]ActiveMember, error)
}
