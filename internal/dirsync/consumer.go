// Package dirsync drains the directory sync queue, projecting cohort
// membership into the external group directory.  The projection is
// eventually consistent: every push is idempotent, failures leave the
// queue entry in place for the next pass, and a full member-list replace
// is used instead of a diff.
package dirsync

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/audit"
	"github.com/iliyamo/cohort-seat-sync/internal/directory"
	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// QueueStore is satisfied by repository.SyncQueueRepo.
type QueueStore interface {
	ListBatch(ctx context.Context, limit int) ([]model.SyncQueueEntry, error)
	DeleteUpTo(ctx context.Context, watermark uint64) error
}

// GroupStore is satisfied by repository.GroupRepo.
type GroupStore interface {
	GetByID(ctx context.Context, id uint64) (*model.SeatGroup, error)
	ListBySection(ctx context.Context, sectionID uint64) ([]model.SeatGroup, error)
	ListMembers(ctx context.Context, groupID uint64) ([]model.Member, error)
	SetDirectoryGroupID(ctx context.Context, groupID uint64, dirID *string) error
}

// SectionStore is satisfied by repository.SectionRepo.
type SectionStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Section, error)
}

// Locker is satisfied by lock.Manager.  The consumer holds the owning
// context's lock for the duration of one entry so directory mutations
// never race roster reconciliation for the same context.
type Locker interface {
	TryLock(ctx context.Context, contextID string) (bool, error)
	Unlock(ctx context.Context, contextID string)
}

// Auditor is satisfied by audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, kind, actor string, payload any) error
}

// DefaultBatch is the per-pass drain bound.
const DefaultBatch = 50

// Consumer drains the sync queue.
type Consumer struct {
	queue    QueueStore
	groups   GroupStore
	sections SectionStore
	dir      directory.Client
	locker   Locker
	audit    Auditor
	log      zerolog.Logger
	batch    int
}

// NewConsumer returns a Consumer draining up to batch entries per pass; a
// non-positive batch falls back to DefaultBatch.
func NewConsumer(queue QueueStore, groups GroupStore, sections SectionStore, dir directory.Client, locker Locker, auditor Auditor, log zerolog.Logger, batch int) *Consumer {
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Consumer{
		queue: queue, groups: groups, sections: sections,
		dir: dir, locker: locker, audit: auditor, log: log, batch: batch,
	}
}

// DrainOnce processes one bounded batch in id order, handling each arg1 at
// most once per pass.  The deletion watermark advances only past entries
// that were attempted; an external failure stops the pass so the failed
// entry (and everything after it) is replayed later.
func (c *Consumer) DrainOnce(ctx context.Context) error {
	entries, err := c.queue.ListBatch(ctx, c.batch)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(entries))
	var watermark uint64
	for _, e := range entries {
		if seen[e.Arg1] {
			watermark = e.ID
			continue
		}
		seen[e.Arg1] = true
		if !c.process(ctx, e) {
			break
		}
		watermark = e.ID
	}
	if watermark == 0 {
		return nil
	}
	return c.queue.DeleteUpTo(ctx, watermark)
}

// process handles one entry.  It returns false when the entry must stay
// queued (external failure or lock contention), which ends the pass.
func (c *Consumer) process(ctx context.Context, e model.SyncQueueEntry) bool {
	switch e.Action {
	case model.ActionSyncGroup:
		return c.processSync(ctx, e)
	case model.ActionDeleteGroup:
		return c.processDelete(ctx, e)
	default:
		c.log.Error().Str("action", e.Action).Uint64("entry_id", e.ID).
			Msg("unknown sync queue action, discarding")
		return true
	}
}

func (c *Consumer) processSync(ctx context.Context, e model.SyncQueueEntry) bool {
	groupID, err := strconv.ParseUint(e.Arg1, 10, 64)
	if err != nil {
		c.log.Error().Str("arg1", e.Arg1).Msg("malformed group id in sync queue, discarding")
		return true
	}
	g, err := c.groups.GetByID(ctx, groupID)
	if err == sql.ErrNoRows {
		return true // cohort deleted since the fact was queued
	}
	if err != nil {
		c.log.Error().Err(err).Uint64("group_id", groupID).Msg("group lookup failed")
		return false
	}
	sec, err := c.sections.GetByID(ctx, g.SectionID)
	if err == sql.ErrNoRows {
		return true
	}
	if err != nil {
		c.log.Error().Err(err).Uint64("section_id", g.SectionID).Msg("section lookup failed")
		return false
	}

	ok, err := c.locker.TryLock(ctx, sec.ContextID)
	if err != nil || !ok {
		return false // contention: leave queued, next pass retries
	}
	defer c.locker.Unlock(ctx, sec.ContextID)

	if err := c.syncGroup(ctx, g, sec, true); err != nil {
		c.log.Warn().Err(err).Uint64("group_id", g.ID).Msg("directory sync failed, will retry")
		return false
	}
	return true
}

// syncGroup pushes one cohort into the directory.  When this sync creates
// the cohort's very first directory link, siblings that have never been
// synced are pushed too: a section crossing from one to two cohorts means
// cohorts that were never worth mirroring suddenly are.
func (c *Consumer) syncGroup(ctx context.Context, g *model.SeatGroup, sec *model.Section, siblings bool) error {
	all, err := c.groups.ListBySection(ctx, sec.ID)
	if err != nil {
		return err
	}
	if len(all) <= 1 {
		return nil // a single-cohort section has no directory group
	}

	title := fmt.Sprintf("%s cohort %s", sec.Stem, g.Name)
	createdNow := false
	var dirID string
	if g.DirectoryGroupID == nil {
		dirID, err = c.dir.CreateGroup(ctx, title, g.Description)
		if err != nil {
			return err
		}
		if err := c.groups.SetDirectoryGroupID(ctx, g.ID, &dirID); err != nil {
			return err
		}
		g.DirectoryGroupID = &dirID
		createdNow = true
	} else {
		dirID = *g.DirectoryGroupID
		if err := c.dir.SetTitle(ctx, dirID, title); err != nil {
			return err
		}
		if err := c.dir.SetDescription(ctx, dirID, g.Description); err != nil {
			return err
		}
	}

	members, err := c.groups.ListMembers(ctx, g.ID)
	if err != nil {
		return err
	}
	netIDs := make([]string, 0, len(members))
	for _, m := range members {
		netIDs = append(netIDs, m.NetID)
	}
	if err := c.dir.ReplaceMembers(ctx, dirID, netIDs); err != nil {
		return err
	}
	c.record(ctx, audit.KindDirectorySynced, map[string]any{
		"group_id": g.ID, "directory_group_id": dirID, "members": len(netIDs),
	})

	if createdNow && siblings {
		for i := range all {
			sib := all[i]
			if sib.ID == g.ID || sib.DirectoryGroupID != nil {
				continue
			}
			if err := c.syncGroup(ctx, &sib, sec, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Consumer) processDelete(ctx context.Context, e model.SyncQueueEntry) bool {
	sectionID, err := strconv.ParseUint(e.Arg2, 10, 64)
	if err != nil {
		c.log.Error().Str("arg2", e.Arg2).Msg("malformed section id in sync queue, discarding")
		return true
	}

	// The owning section may already be gone (teardown); lock only while it
	// still exists.
	sec, err := c.sections.GetByID(ctx, sectionID)
	if err != nil && err != sql.ErrNoRows {
		c.log.Error().Err(err).Uint64("section_id", sectionID).Msg("section lookup failed")
		return false
	}
	if sec != nil {
		ok, lockErr := c.locker.TryLock(ctx, sec.ContextID)
		if lockErr != nil || !ok {
			return false
		}
		defer c.locker.Unlock(ctx, sec.ContextID)
	}

	if err := c.dir.DeleteGroup(ctx, e.Arg1); err != nil {
		c.log.Warn().Err(err).Str("directory_group_id", e.Arg1).Msg("directory delete failed, will retry")
		return false
	}
	c.record(ctx, audit.KindDirectoryDeleted, map[string]any{
		"directory_group_id": e.Arg1, "section_id": sectionID,
	})

	// When the deletion leaves exactly one cohort still mirrored, the
	// section has collapsed to the single-cohort state and the survivor's
	// directory group must go too.
	remaining, err := c.groups.ListBySection(ctx, sectionID)
	if err != nil {
		c.log.Error().Err(err).Uint64("section_id", sectionID).Msg("group list failed")
		return false
	}
	if len(remaining) == 1 && remaining[0].DirectoryGroupID != nil {
		last := remaining[0]
		if err := c.dir.DeleteGroup(ctx, *last.DirectoryGroupID); err != nil {
			c.log.Warn().Err(err).Str("directory_group_id", *last.DirectoryGroupID).
				Msg("directory delete failed, will retry")
			return false
		}
		c.record(ctx, audit.KindDirectoryDeleted, map[string]any{
			"directory_group_id": *last.DirectoryGroupID, "section_id": sectionID,
		})
		if err := c.groups.SetDirectoryGroupID(ctx, last.ID, nil); err != nil {
			c.log.Error().Err(err).Uint64("group_id", last.ID).Msg("directory unlink failed")
			return false
		}
	}
	return true
}

func (c *Consumer) record(ctx context.Context, kind string, payload any) {
	if err := c.audit.Record(ctx, kind, audit.SystemActor, payload); err != nil {
		c.log.Error().Err(err).Str("kind", kind).Msg("audit record failed")
	}
}
