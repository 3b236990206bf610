// Package audit implements the append-only audit trail.  Every mutating
// component records its state changes here so they can be replayed during
// a forensic investigation.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// Appender is the storage sink for audit events, satisfied by
// repository.AuditRepo.
type Appender interface {
	Append(ctx context.Context, e *model.AuditEvent) error
}

// Recorder generates ordered event ids and appends immutable rows.  The
// id is the concatenation of a zero-padded millisecond timestamp, a
// monotonically increasing in-process sequence number and a random
// discriminator, so events sort lexicographically in the order they were
// recorded even when several land in the same millisecond, and ids from
// different processes cannot collide.
type Recorder struct {
	store Appender
	seq   atomic.Uint64
	now   func() time.Time
}

// NewRecorder returns a Recorder writing to the given sink.
func NewRecorder(store Appender) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record marshals the payload to JSON and appends one event.  The actor is
// the netid (or system identity) responsible for the change.
func (r *Recorder) Record(ctx context.Context, kind, actor string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	now := r.now().UTC()
	return r.store.Append(ctx, &model.AuditEvent{
		ID:      r.nextID(now),
		Kind:    kind,
		At:      now,
		Actor:   actor,
		Payload: string(body),
	})
}

// nextID builds the composite id for an event recorded at now.
func (r *Recorder) nextID(now time.Time) string {
	disc := make([]byte, 4)
	_, _ = rand.Read(disc)
	return fmt.Sprintf("%014d-%08d-%s",
		now.UnixMilli(), r.seq.Add(1), hex.EncodeToString(disc))
}

// Event kinds recorded by the engine.
const (
	KindSeatAssigned     = "seat.assigned"
	KindSeatCleared      = "seat.cleared"
	KindSectionCreated   = "section.created"
	KindSectionSplit     = "section.split"
	KindSectionDeleted   = "section.deleted"
	KindGroupCreated     = "group.created"
	KindGroupDeleted     = "group.deleted"
	KindMemberAdded      = "member.added"
	KindMemberDropped    = "member.dropped"
	KindMemberMoved      = "member.moved"
	KindMemberUpgraded   = "member.upgraded"
	KindDirectorySynced  = "directory.synced"
	KindDirectoryDeleted = "directory.deleted"
)

// SystemActor identifies changes made by the background scheduler rather
// than a signed-in user.
const SystemActor = "system"
