// Package directory defines the client interface for the external group
// directory that mirrors cohort membership for other campus systems.
package directory

import "context"

// Client is the external group directory.  Every call must be safely
// retryable: the sync consumer leaves queue entries in place on failure
// and replays them on a later pass, so a half-applied update will simply
// be applied again.
type Client interface {
	// CreateGroup provisions a new directory group and returns its id.
	CreateGroup(ctx context.Context, title, description string) (string, error)
	// SetTitle updates the display title of an existing group.
	SetTitle(ctx context.Context, groupID, title string) error
	// SetDescription updates the description of an existing group.
	SetDescription(ctx context.Context, groupID, description string) error
	// ReplaceMembers replaces the full member list of a group.  The engine
	// always pushes the complete current membership rather than a diff.
	ReplaceMembers(ctx context.Context, groupID string, netIDs []string) error
	// DeleteGroup removes a group.  Deleting an already-absent group must
	// succeed.
	DeleteGroup(ctx context.Context, groupID string) error
}
