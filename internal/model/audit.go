package model

import "time"

// AuditEvent is one immutable row in the audit trail.  The ID combines a
// millisecond timestamp, an in-process sequence number and a random
// discriminator so that ids sort both lexicographically and temporally.
// Application code only ever inserts these rows.
type AuditEvent struct {
	ID      string    // audit_events.id
	Kind    string    // audit_events.kind
	At      time.Time // audit_events.at
	Actor   string    // audit_events.actor
	Payload string    // audit_events.payload (JSON)
}

// LockRecord marks an advisory lock on one context.  Row existence is the
// lock; insertion is the atomic acquisition primitive.  Records older than
// the staleness bound are reclaimed by the next acquirer.
type LockRecord struct {
	ContextID  string    // context_locks.context_id
	AcquiredAt time.Time // context_locks.acquired_at
}
