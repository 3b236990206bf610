package model

import "time"

// Section ties one course context to its primary roster stem.  A Section
// is created the first time any roster for the stem is observed and owns
// the cohorts (seat groups) carved out of its combined rosters.
//
// Fields:
//  ID                – primary key identifier.
//  ContextID         – course/site instance scoping this section.
//  Stem              – primary roster stem name, unique per context.
//  Provisioned       – true once cohorts have been created.
//  Split             – true once more than one cohort exists.
//  LastSyncRequested – when upstream last signalled a roster change.
//  LastSync          – when this section was last reconciled.
type Section struct {
	ID                uint64    // sections.id
	ContextID         string    // sections.context_id
	Stem              string    // sections.stem
	Provisioned       bool      // sections.provisioned
	Split             bool      // sections.split
	LastSyncRequested time.Time // sections.last_sync_requested_time
	LastSync          time.Time // sections.last_sync_time
}

// Roster links a section to one external roster identifier.  A section
// always has exactly one primary roster and may accumulate secondary
// (cross-listed) rosters over time.
type Roster struct {
	ID        uint64 // rosters.id
	SectionID uint64 // rosters.section_id
	RosterID  string // rosters.roster_id (external identifier)
	Role      string // rosters.role (RosterPrimary or RosterSecondary)
}

// Roster roles.
const (
	RosterPrimary   = "primary"
	RosterSecondary = "secondary"
)
