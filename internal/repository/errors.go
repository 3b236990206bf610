// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers to distinguish
// between failure scenarios without inspecting driver-specific errors.
// ErrLockHeld and ErrSeatTaken both originate from MySQL duplicate-entry
// (1062) violations on unique indexes, which this package translates so
// that callers can branch on contention explicitly instead of catching a
// constraint failure.
package repository

import (
	"errors"
	"strings"
)

// ErrLockHeld is returned when a context lock row cannot be inserted
// because another holder's row already exists.  Callers should treat this
// as "try again on the next pass", never as a system error.
var ErrLockHeld = errors.New("context lock held")

// ErrSeatTaken is returned when inserting or moving a seat assignment
// collides with the unique (meeting, seat) index: somebody else already
// claimed that seat for the meeting.
var ErrSeatTaken = errors.New("seat taken")

// ErrConflict is returned when an update or delete cannot proceed because
// of conflicting state, such as transferring a member into a group of a
// different section.
var ErrConflict = errors.New("conflict")

// isDuplicateKey reports whether err is a MySQL duplicate-entry error
// (error number 1062) raised by a unique index.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
