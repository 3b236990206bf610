// Package service is the surface the HTTP layer consumes.  Every mutating
// roster/cohort operation runs under the owning context's advisory lock
// with bounded retry; seat operations bypass the lock and rely on the
// seating package's optimistic concurrency.  All outcomes are typed
// results or sentinel errors, never raw internal faults.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/audit"
	"github.com/iliyamo/cohort-seat-sync/internal/lock"
	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
	"github.com/iliyamo/cohort-seat-sync/internal/queue"
	"github.com/iliyamo/cohort-seat-sync/internal/reconcile"
	"github.com/iliyamo/cohort-seat-sync/internal/repository"
	"github.com/iliyamo/cohort-seat-sync/internal/seating"
)

// ErrBusy is returned when the context lock could not be acquired within
// the retry bound.  The operation was not performed; the caller should
// retry later.
var ErrBusy = errors.New("context is busy, try again")

// ErrNotFound is returned when the addressed section, group, member or
// meeting does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotEligible is returned when splitting is requested for a stem whose
// instruction mode makes it ineligible and no override is set.
var ErrNotEligible = errors.New("section not eligible for splitting")

// Service bundles the repositories and engines behind the API.
type Service struct {
	Sections *repository.SectionRepo
	Groups   *repository.GroupRepo
	Meetings *repository.MeetingRepo
	Seats    *repository.SeatRepo
	Queue    *repository.SyncQueueRepo
	Locks    *repository.LockRepo

	Engine  *reconcile.Engine
	Seating *seating.Machine
	Audit   *audit.Recorder
	Roster  provider.RosterProvider
	Log     zerolog.Logger

	// Publish sends a cohort sync event to the broker.  Nil disables
	// publication; a publish failure is logged and ignored.
	Publish func(ctx context.Context, ev queue.CohortSyncedEvent) error
}

// withLock runs fn while holding the context lock, translating bounded
// retry exhaustion into ErrBusy.  Each call gets a fresh manager so the
// re-entrancy guard is scoped to this one operation.
func (s *Service) withLock(ctx context.Context, contextID string, fn func() error) error {
	m := lock.NewManager(s.Locks, s.Log)
	if !m.Lock(ctx, contextID) {
		return ErrBusy
	}
	defer m.Unlock(ctx, contextID)
	return fn()
}

// GroupDetail is one cohort with its membership and meetings.
type GroupDetail struct {
	Group    model.SeatGroup `json:"group"`
	Members  []model.Member  `json:"members"`
	Meetings []model.Meeting `json:"meetings"`
}

// SectionDetail is the full read model of one section.
type SectionDetail struct {
	Section model.Section `json:"section"`
	Groups  []GroupDetail `json:"groups"`
}

// GetSection returns one section of a context with its cohorts expanded.
func (s *Service) GetSection(ctx context.Context, contextID string, sectionID uint64) (*SectionDetail, error) {
	sec, err := s.Sections.GetByID(ctx, sectionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sec.ContextID != contextID {
		return nil, ErrNotFound
	}
	groups, err := s.Groups.ListBySection(ctx, sec.ID)
	if err != nil {
		return nil, err
	}
	detail := &SectionDetail{Section: *sec, Groups: make([]GroupDetail, 0, len(groups))}
	for _, g := range groups {
		members, err := s.Groups.ListMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		meetings, err := s.Meetings.ListByGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		detail.Groups = append(detail.Groups, GroupDetail{Group: g, Members: members, Meetings: meetings})
	}
	return detail, nil
}

// ListSections returns every section of a context.
func (s *Service) ListSections(ctx context.Context, contextID string) ([]model.Section, error) {
	return s.Sections.ListByContext(ctx, contextID)
}

// SplitSection bootstraps a section into groupCount cohorts using the
// given strategy.  The stem must be eligible for splitting.
func (s *Service) SplitSection(ctx context.Context, actor string, sectionID uint64, groupCount int, strategy reconcile.Strategy) error {
	sec, err := s.Sections.GetByID(ctx, sectionID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	eligible, err := s.Engine.StemIsEligible(ctx, sec.ContextID, sec.Stem)
	if err != nil {
		return err
	}
	if !eligible {
		return ErrNotEligible
	}
	err = s.withLock(ctx, sec.ContextID, func() error {
		return s.Engine.Bootstrap(ctx, sec, groupCount, strategy)
	})
	if err != nil {
		return err
	}
	s.publishSynced(ctx, sec, "bootstrap")
	return nil
}

// AddGroup appends one empty cohort to a section, with a default meeting
// located from the section's meeting pattern.  Crossing from one cohort to
// two marks the section split and queues the directory mirror work.
func (s *Service) AddGroup(ctx context.Context, actor string, sectionID uint64, description string) (*model.SeatGroup, error) {
	sec, err := s.Sections.GetByID(ctx, sectionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var created *model.SeatGroup
	err = s.withLock(ctx, sec.ContextID, func() error {
		existing, err := s.Groups.ListBySection(ctx, sec.ID)
		if err != nil {
			return err
		}
		g := &model.SeatGroup{
			SectionID:   sec.ID,
			Name:        nextGroupName(existing),
			Description: description,
		}
		if err := s.Groups.Create(ctx, g); err != nil {
			return err
		}
		location := model.LocationUnset
		if p, err := s.Roster.GetMeetingPattern(ctx, sec.Stem); err == nil && p.Location != "" {
			location = p.Location
		}
		if err := s.Meetings.Create(ctx, &model.Meeting{GroupID: g.ID, Location: location}); err != nil {
			return err
		}
		if len(existing)+1 > 1 {
			if err := s.Sections.SetFlags(ctx, sec.ID, true, true); err != nil {
				return err
			}
			if err := s.Queue.Enqueue(ctx, model.ActionSyncGroup, formatID(g.ID), ""); err != nil {
				return err
			}
		} else if err := s.Sections.SetFlags(ctx, sec.ID, true, false); err != nil {
			return err
		}
		s.record(ctx, audit.KindGroupCreated, actor, map[string]any{
			"section_id": sec.ID, "group_id": g.ID, "name": g.Name,
		})
		created = g
		return nil
	})
	return created, err
}

// DeleteGroup removes one cohort, redistributing its members into the
// remaining cohorts and queueing deletion of its directory mirror.  The
// last cohort of a section cannot be deleted.
func (s *Service) DeleteGroup(ctx context.Context, actor string, groupID uint64) error {
	g, err := s.Groups.GetByID(ctx, groupID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	sec, err := s.Sections.GetByID(ctx, g.SectionID)
	if err != nil {
		return err
	}
	return s.withLock(ctx, sec.ContextID, func() error {
		all, err := s.Groups.ListBySection(ctx, sec.ID)
		if err != nil {
			return err
		}
		if len(all) <= 1 {
			return repository.ErrConflict
		}

		// Rehome the cohort's members before the rows disappear, always into
		// whichever surviving cohort is currently smallest.
		counts := make(map[uint64]int, len(all)-1)
		for _, other := range all {
			if other.ID == g.ID {
				continue
			}
			members, err := s.Groups.ListMembers(ctx, other.ID)
			if err != nil {
				return err
			}
			counts[other.ID] = len(members)
		}
		orphans, err := s.Groups.ListMembers(ctx, g.ID)
		if err != nil {
			return err
		}
		touched := make(map[uint64]bool)
		for _, m := range orphans {
			target := smallestByCount(counts)
			if err := s.Groups.MoveMember(ctx, m.ID, target); err != nil {
				return err
			}
			if err := s.Seats.DeleteByGroupNetID(ctx, g.ID, m.NetID); err != nil {
				return err
			}
			counts[target]++
			touched[target] = true
		}

		if err := s.Seats.DeleteByGroup(ctx, g.ID); err != nil {
			return err
		}
		if err := s.Meetings.DeleteByGroup(ctx, g.ID); err != nil {
			return err
		}
		if err := s.Groups.Delete(ctx, g.ID); err != nil {
			return err
		}
		if g.DirectoryGroupID != nil {
			if err := s.Queue.Enqueue(ctx, model.ActionDeleteGroup, *g.DirectoryGroupID, formatID(sec.ID)); err != nil {
				return err
			}
		}

		remaining := len(all) - 1
		if remaining == 1 {
			if err := s.Sections.SetFlags(ctx, sec.ID, true, false); err != nil {
				return err
			}
			for _, dirID := range collapseDeletes(g, all) {
				if err := s.Queue.Enqueue(ctx, model.ActionDeleteGroup, dirID, formatID(sec.ID)); err != nil {
					return err
				}
			}
		} else {
			for gid := range touched {
				if err := s.Queue.Enqueue(ctx, model.ActionSyncGroup, formatID(gid), ""); err != nil {
					return err
				}
			}
		}
		s.record(ctx, audit.KindGroupDeleted, actor, map[string]any{
			"section_id": sec.ID, "group_id": g.ID, "rehomed": len(orphans),
		})
		return nil
	})
}

// collapseDeletes lists the survivor directory links that must be torn
// down when a cohort deletion collapses the section back to one cohort.
// A single-cohort section keeps no directory group.  When the deleted
// cohort was itself linked, its queued DELETE_GROUP already triggers the
// consumer's collapse of the last remaining link; only an unlinked
// deleted cohort (first sync still pending) leaves the survivor's mirror
// orphaned without an explicit teardown.
func collapseDeletes(deleted *model.SeatGroup, all []model.SeatGroup) []string {
	if len(all) != 2 || deleted.DirectoryGroupID != nil {
		return nil
	}
	var out []string
	for _, g := range all {
		if g.ID != deleted.ID && g.DirectoryGroupID != nil {
			out = append(out, *g.DirectoryGroupID)
		}
	}
	return out
}

// TransferMember moves a member to another cohort of the same section.
func (s *Service) TransferMember(ctx context.Context, actor string, memberID, targetGroupID uint64) error {
	m, err := s.Groups.GetMember(ctx, memberID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if m.GroupID == targetGroupID {
		// Already there.  MoveMember would match zero rows and read as a
		// conflict, so screen the no-op here.
		return nil
	}
	src, err := s.Groups.GetByID(ctx, m.GroupID)
	if err != nil {
		return err
	}
	sec, err := s.Sections.GetByID(ctx, src.SectionID)
	if err != nil {
		return err
	}
	return s.withLock(ctx, sec.ContextID, func() error {
		if err := s.Groups.MoveMember(ctx, memberID, targetGroupID); err != nil {
			return err
		}
		// Seats are claimed per cohort meeting and do not follow the member.
		if err := s.Seats.DeleteByGroupNetID(ctx, src.ID, m.NetID); err != nil {
			return err
		}
		if sec.Split {
			for _, gid := range []uint64{src.ID, targetGroupID} {
				if err := s.Queue.Enqueue(ctx, model.ActionSyncGroup, formatID(gid), ""); err != nil {
					return err
				}
			}
		}
		s.record(ctx, audit.KindMemberMoved, actor, map[string]any{
			"member_id": memberID, "from_group": src.ID, "to_group": targetGroupID,
		})
		return nil
	})
}

// AddMember manually adds a participant to the section's smallest cohort.
// Manual members are not official: the roster drop rule leaves them alone
// while they remain active in the context.
func (s *Service) AddMember(ctx context.Context, actor string, sectionID uint64, netID, role, location string) (*model.Member, error) {
	sec, err := s.Sections.GetByID(ctx, sectionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var added *model.Member
	err = s.withLock(ctx, sec.ContextID, func() error {
		g, err := s.Groups.SmallestGroup(ctx, sec.ID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		m := &model.Member{
			GroupID:  g.ID,
			NetID:    netID,
			Role:     role,
			Official: false,
			Location: location,
		}
		if err := s.Groups.AddMember(ctx, m); err != nil {
			return err
		}
		if sec.Split {
			if err := s.Queue.Enqueue(ctx, model.ActionSyncGroup, formatID(g.ID), ""); err != nil {
				return err
			}
		}
		s.record(ctx, audit.KindMemberAdded, actor, map[string]any{
			"section_id": sec.ID, "group_id": g.ID, "netid": netID, "official": false,
		})
		added = m
		return nil
	})
	return added, err
}

// RemoveMember removes a participant from their cohort along with any seat
// assignments they hold in it.
func (s *Service) RemoveMember(ctx context.Context, actor string, memberID uint64) error {
	m, err := s.Groups.GetMember(ctx, memberID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	g, err := s.Groups.GetByID(ctx, m.GroupID)
	if err != nil {
		return err
	}
	sec, err := s.Sections.GetByID(ctx, g.SectionID)
	if err != nil {
		return err
	}
	return s.withLock(ctx, sec.ContextID, func() error {
		if err := s.Seats.DeleteByGroupNetID(ctx, g.ID, m.NetID); err != nil {
			return err
		}
		removed, err := s.Groups.RemoveMember(ctx, memberID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrNotFound
		}
		if sec.Split {
			if err := s.Queue.Enqueue(ctx, model.ActionSyncGroup, formatID(g.ID), ""); err != nil {
				return err
			}
		}
		s.record(ctx, audit.KindMemberDropped, actor, map[string]any{
			"section_id": sec.ID, "group_id": g.ID, "netid": m.NetID, "manual": true,
		})
		return nil
	})
}

// SetSeat claims or moves a seat for a participant in a meeting.
func (s *Service) SetSeat(ctx context.Context, actor string, meetingID uint64, netID, seat, expected string, privileged bool) (seating.Result, error) {
	if _, err := s.Meetings.GetByID(ctx, meetingID); err == sql.ErrNoRows {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}
	return s.Seating.SetSeat(ctx, actor, meetingID, netID, seat, expected, privileged)
}

// ClearSeat releases a participant's seat in a meeting.
func (s *Service) ClearSeat(ctx context.Context, actor string, meetingID uint64, netID string) error {
	return s.Seating.ClearSeat(ctx, actor, meetingID, netID)
}

// publishSynced emits the broker event for a completed sync; failures are
// logged and dropped.
func (s *Service) publishSynced(ctx context.Context, sec *model.Section, action string) {
	if s.Publish == nil {
		return
	}
	groups, _ := s.Groups.ListBySection(ctx, sec.ID)
	members, _ := s.Groups.ListSectionMembers(ctx, sec.ID)
	ev := queue.CohortSyncedEvent{
		ContextID:   sec.ContextID,
		SectionID:   sec.ID,
		Stem:        sec.Stem,
		GroupCount:  len(groups),
		MemberCount: len(members),
		Action:      action,
		SyncedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Publish(ctx, ev); err != nil {
		s.Log.Warn().Err(err).Uint64("section_id", sec.ID).Msg("cohort event publish failed")
	}
}

func (s *Service) record(ctx context.Context, kind, actor string, payload any) {
	if err := s.Audit.Record(ctx, kind, actor, payload); err != nil {
		s.Log.Error().Err(err).Str("kind", kind).Msg("audit record failed")
	}
}

// nextGroupName picks the first unused cohort letter.
func nextGroupName(existing []model.SeatGroup) string {
	used := make(map[string]bool, len(existing))
	for _, g := range existing {
		used[g.Name] = true
	}
	for i := 0; ; i++ {
		name := string(rune('A' + i%26))
		if i >= 26 {
			name = string(rune('A'+i/26-1)) + name
		}
		if !used[name] {
			return name
		}
	}
}

// smallestByCount returns the group id with the fewest members, ties on
// lowest id.
func smallestByCount(counts map[uint64]int) uint64 {
	var best uint64
	bestN := -1
	for id, n := range counts {
		if bestN == -1 || n < bestN || (n == bestN && id < best) {
			best, bestN = id, n
		}
	}
	return best
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
