package model

import "time"

// Meeting is one scheduled occurrence belonging to a cohort.  Every cohort
// gets a default meeting at creation; its location is resolved from the
// section's meeting pattern and falls back to LocationUnset when the
// lookup fails.
type Meeting struct {
	ID       uint64 // meetings.id
	GroupID  uint64 // meetings.group_id
	Location string // meetings.location
}

// LocationUnset is stored when the meeting-pattern lookup failed at the
// time the meeting was created.
const LocationUnset = "UNSET"

// SeatAssignment records one participant's claimed seat for one meeting.
// At most one row exists per (meeting, participant) and at most one row
// per (meeting, seat label); both are enforced by unique indexes.
//
// EditableUntil bounds how long a non-privileged participant may change
// their own seat.  The zero time means no restriction (privileged write).
type SeatAssignment struct {
	ID            uint64    // seat_assignments.id
	MeetingID     uint64    // seat_assignments.meeting_id
	NetID         string    // seat_assignments.netid
	Seat          string    // seat_assignments.seat
	EditableUntil time.Time // seat_assignments.editable_until
}
