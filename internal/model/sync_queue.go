package model

// Sync queue actions.
const (
	ActionSyncGroup   = "SYNC_GROUP"   // arg1 = seat group id
	ActionDeleteGroup = "DELETE_GROUP" // arg1 = directory group id, arg2 = section id
)

// SyncQueueEntry is one appended fact in the directory sync queue.  Rows
// are never updated in place; the consumer drains them in id order and
// deletes everything up to the watermark of the last attempted entry.
type SyncQueueEntry struct {
	ID     uint64 // sync_queue.id
	Action string // sync_queue.action
	Arg1   string // sync_queue.arg1
	Arg2   string // sync_queue.arg2
}
