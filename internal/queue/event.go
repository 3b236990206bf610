// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// CohortSyncedEvent is published after a section's cohorts were
// successfully bootstrapped or reconciled.  It carries enough information
// for downstream consumers to log, notify, or trigger analytics without
// querying the primary database.
type CohortSyncedEvent struct {
	ContextID   string `json:"context_id"`
	SectionID   uint64 `json:"section_id"`
	Stem        string `json:"stem"`
	GroupCount  int    `json:"group_count"`
	MemberCount int    `json:"member_count"`
	Action      string `json:"action"` // "bootstrap" or "reconcile"
	SyncedAt    string `json:"synced_at"`
}

// cohortQueueName is the durable queue all cohort sync events flow over.
const cohortQueueName = "cohort.synced"
