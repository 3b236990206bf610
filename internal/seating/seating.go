// Package seating implements the per-participant seat reservation state
// machine.  Seat writes are protected purely by row-level optimistic
// concurrency (insert-or-fail plus compare-and-swap), never by the context
// lock, so arbitrary interleavings across users and processes stay safe.
package seating

import (
	"context"
	"time"

	"github.com/iliyamo/cohort-seat-sync/internal/audit"
	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/repository"
)

// Result is the typed outcome of a seat operation.  These are explicit
// values the caller branches on, not errors: contention and a closed edit
// window are expected states, not faults.
type Result string

const (
	ResultOK               Result = "OK"
	ResultEditClosed       Result = "EDIT_CLOSED"
	ResultSeatTaken        Result = "SEAT_TAKEN"
	ResultConcurrentUpdate Result = "CONCURRENT_UPDATE"
)

// Store is the persistence behind seat assignments, satisfied by
// repository.SeatRepo.
type Store interface {
	Get(ctx context.Context, meetingID uint64, netID string) (*model.SeatAssignment, error)
	Insert(ctx context.Context, a *model.SeatAssignment) error
	UpdateSeatCAS(ctx context.Context, meetingID uint64, netID, newSeat, expected string, editableUntil time.Time) (bool, error)
	Delete(ctx context.Context, meetingID uint64, netID string) (bool, error)
}

// Auditor records seat state changes, satisfied by audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, kind, actor string, payload any) error
}

// DefaultEditWindow is how long a non-privileged participant may keep
// changing a seat after claiming it.
const DefaultEditWindow = 30 * time.Minute

// Machine applies seat transitions.  One instance serves all meetings.
type Machine struct {
	store  Store
	audit  Auditor
	window time.Duration
	now    func() time.Time
}

// NewMachine returns a Machine with the given post-claim edit window; a
// non-positive window falls back to DefaultEditWindow.
func NewMachine(store Store, auditor Auditor, window time.Duration) *Machine {
	if window <= 0 {
		window = DefaultEditWindow
	}
	return &Machine{store: store, audit: auditor, window: window, now: time.Now}
}

type seatEvent struct {
	MeetingID uint64 `json:"meeting_id"`
	NetID     string `json:"netid"`
	Seat      string `json:"seat"`
}

// SetSeat claims or moves a seat.  expected is the seat the caller believes
// the participant currently holds ("" for none); a mismatch between that
// belief and the stored row reports ConcurrentUpdate.  Privileged actors
// bypass the edit window and write assignments with no edit restriction.
func (m *Machine) SetSeat(ctx context.Context, actor string, meetingID uint64, netID, newSeat, expected string, privileged bool) (Result, error) {
	existing, err := m.store.Get(ctx, meetingID, netID)
	if err != nil {
		return "", err
	}
	if !privileged && existing != nil && !existing.EditableUntil.IsZero() &&
		m.now().After(existing.EditableUntil) {
		return ResultEditClosed, nil
	}

	var editableUntil time.Time // zero = no restriction
	if !privileged {
		editableUntil = m.now().UTC().Add(m.window)
	}

	if existing == nil {
		a := &model.SeatAssignment{
			MeetingID:     meetingID,
			NetID:         netID,
			Seat:          newSeat,
			EditableUntil: editableUntil,
		}
		err := m.store.Insert(ctx, a)
		if err == repository.ErrSeatTaken {
			return ResultSeatTaken, nil
		}
		if err != nil {
			return "", err
		}
		return ResultOK, m.recordAssign(ctx, actor, meetingID, netID, newSeat)
	}

	ok, err := m.store.UpdateSeatCAS(ctx, meetingID, netID, newSeat, expected, editableUntil)
	if err == repository.ErrSeatTaken {
		return ResultSeatTaken, nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return ResultConcurrentUpdate, nil
	}
	// Old seat released and new one claimed: record the clear first so the
	// trail replays in the order the seats changed hands.
	if err := m.audit.Record(ctx, audit.KindSeatCleared, actor,
		seatEvent{MeetingID: meetingID, NetID: netID, Seat: existing.Seat}); err != nil {
		return "", err
	}
	return ResultOK, m.recordAssign(ctx, actor, meetingID, netID, newSeat)
}

// ClearSeat removes any assignment for the participant in the meeting.  A
// clear of a seat that does not exist is a silent no-op with no audit
// event.
func (m *Machine) ClearSeat(ctx context.Context, actor string, meetingID uint64, netID string) error {
	existing, err := m.store.Get(ctx, meetingID, netID)
	if err != nil {
		return err
	}
	deleted, err := m.store.Delete(ctx, meetingID, netID)
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}
	seat := ""
	if existing != nil {
		seat = existing.Seat
	}
	return m.audit.Record(ctx, audit.KindSeatCleared, actor,
		seatEvent{MeetingID: meetingID, NetID: netID, Seat: seat})
}

func (m *Machine) recordAssign(ctx context.Context, actor string, meetingID uint64, netID, seat string) error {
	return m.audit.Record(ctx, audit.KindSeatAssigned, actor,
		seatEvent{MeetingID: meetingID, NetID: netID, Seat: seat})
}
