// Package reconcile implements the roster-to-cohort reconciliation engine:
// first-seen section creation, initial partitioning into cohorts, and the
// incremental add/drop merge that keeps cohorts aligned with the
// authoritative rosters.  Every mutating entry point assumes the caller
// holds the owning context's advisory lock.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/audit"
	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
)

// SectionStore is the section/roster persistence consumed by the engine,
// satisfied by repository.SectionRepo.
type SectionStore interface {
	GetByStem(ctx context.Context, contextID, stem string) (*model.Section, error)
	Create(ctx context.Context, s *model.Section) error
	AddRoster(ctx context.Context, ro *model.Roster) (bool, error)
	ListRosters(ctx context.Context, sectionID uint64) ([]model.Roster, error)
	SetFlags(ctx context.Context, id uint64, provisioned, split bool) error
	SetLastSync(ctx context.Context, id uint64, at time.Time) error
	MarkSectionSyncRequested(ctx context.Context, id uint64, at time.Time) error
	ListProvisioned(ctx context.Context) ([]model.Section, error)
	SplitOverride(ctx context.Context, contextID string) (bool, error)
	Delete(ctx context.Context, id uint64) error
	DeleteRosters(ctx context.Context, sectionID uint64) error
}

// GroupStore is the cohort/membership persistence consumed by the engine,
// satisfied by repository.GroupRepo.
type GroupStore interface {
	ListBySection(ctx context.Context, sectionID uint64) ([]model.SeatGroup, error)
	Create(ctx context.Context, g *model.SeatGroup) error
	SmallestGroup(ctx context.Context, sectionID uint64) (*model.SeatGroup, error)
	ListSectionMembers(ctx context.Context, sectionID uint64) ([]model.Member, error)
	AddMember(ctx context.Context, m *model.Member) error
	SetOfficial(ctx context.Context, memberID uint64, official bool) error
	RemoveMember(ctx context.Context, memberID uint64) (bool, error)
	DeleteMembersBySection(ctx context.Context, sectionID uint64) error
	DeleteBySection(ctx context.Context, sectionID uint64) error
}

// MeetingStore is satisfied by repository.MeetingRepo.
type MeetingStore interface {
	Create(ctx context.Context, m *model.Meeting) error
	DeleteBySection(ctx context.Context, sectionID uint64) error
}

// SeatStore is satisfied by repository.SeatRepo.
type SeatStore interface {
	DeleteBySection(ctx context.Context, sectionID uint64) error
}

// QueueStore is satisfied by repository.SyncQueueRepo.
type QueueStore interface {
	Enqueue(ctx context.Context, action, arg1, arg2 string) error
}

// Auditor is satisfied by audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, kind, actor string, payload any) error
}

// Locker grants the per-context advisory lock, satisfied by lock.Manager.
// The eligibility pass acquires it itself since it runs outside the normal
// dirty-section drain.
type Locker interface {
	Lock(ctx context.Context, contextID string) bool
	Unlock(ctx context.Context, contextID string)
}

// Engine ties the stores, external providers and audit trail together.
type Engine struct {
	sections SectionStore
	groups   GroupStore
	meetings MeetingStore
	seats    SeatStore
	queue    QueueStore
	roster   provider.RosterProvider
	contexts provider.ContextDirectory
	audit    Auditor
	log      zerolog.Logger

	// rngMu serializes shuffles: Bootstrap runs concurrently for
	// different sections and rand.Rand is not safe for concurrent use.
	rngMu       sync.Mutex
	rng         *rand.Rand
	destructive bool
	now         func() time.Time
}

func (e *Engine) partition(members []provider.Enrollment, n int, strategy Strategy) [][]provider.Enrollment {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return partition(members, n, strategy, e.rng)
}

// Config collects the engine's dependencies.
type Config struct {
	Sections SectionStore
	Groups   GroupStore
	Meetings MeetingStore
	Seats    SeatStore
	Queue    QueueStore
	Roster   provider.RosterProvider
	Contexts provider.ContextDirectory
	Audit    Auditor
	Log      zerolog.Logger
	// Destructive enables deletion of sections whose stem became
	// ineligible.  When false the eligibility pass only logs.
	Destructive bool
	// Seed fixes the partition shuffle; zero seeds from the clock.
	Seed int64
}

// New returns an Engine.
func New(cfg Config) *Engine {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		sections:    cfg.Sections,
		groups:      cfg.Groups,
		meetings:    cfg.Meetings,
		seats:       cfg.Seats,
		queue:       cfg.Queue,
		roster:      cfg.Roster,
		contexts:    cfg.Contexts,
		audit:       cfg.Audit,
		log:         cfg.Log,
		rng:         rand.New(rand.NewSource(seed)),
		destructive: cfg.Destructive,
		now:         time.Now,
	}
}

// EnsureSection idempotently creates the section and roster rows for a
// stem the first time any of its rosters is observed.  Attaching a new
// secondary (cross-listed) roster to an existing section marks the section
// for resync so the new roster's members get merged on the next pass.
func (e *Engine) EnsureSection(ctx context.Context, contextID, primaryRosterID, secondaryRosterID string) (*model.Section, error) {
	sec, err := e.sections.GetByStem(ctx, contextID, primaryRosterID)
	if err == sql.ErrNoRows {
		sec = &model.Section{ContextID: contextID, Stem: primaryRosterID}
		if err := e.sections.Create(ctx, sec); err != nil {
			return nil, err
		}
		if _, err := e.sections.AddRoster(ctx, &model.Roster{
			SectionID: sec.ID, RosterID: primaryRosterID, Role: model.RosterPrimary,
		}); err != nil {
			return nil, err
		}
		if err := e.sections.MarkSectionSyncRequested(ctx, sec.ID, e.now()); err != nil {
			return nil, err
		}
		e.record(ctx, audit.KindSectionCreated, map[string]any{
			"section_id": sec.ID, "context_id": contextID, "stem": primaryRosterID,
		})
	} else if err != nil {
		return nil, err
	}

	if secondaryRosterID != "" {
		added, err := e.sections.AddRoster(ctx, &model.Roster{
			SectionID: sec.ID, RosterID: secondaryRosterID, Role: model.RosterSecondary,
		})
		if err != nil {
			return nil, err
		}
		if added {
			if err := e.sections.MarkSectionSyncRequested(ctx, sec.ID, e.now()); err != nil {
				return nil, err
			}
		}
	}
	return sec, nil
}

// Reconcile merges the authoritative roster membership into the section's
// cohorts: upgrades members the roster now reports as official, drops
// official members who left the roster (and manual members who left the
// whole context), and adds newcomers to whichever cohort is smallest.
// Directory sync facts are enqueued per affected cohort, but only once the
// section is actually split; a single-cohort section has no directory
// group to keep current.
func (e *Engine) Reconcile(ctx context.Context, sec *model.Section) error {
	groups, err := e.groups.ListBySection(ctx, sec.ID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		// Nothing provisioned yet; just consume the change signal.
		return e.sections.SetLastSync(ctx, sec.ID, e.now())
	}

	auth, err := e.authoritative(ctx, sec)
	if err != nil {
		return err
	}
	current, err := e.groups.ListSectionMembers(ctx, sec.ID)
	if err != nil {
		return err
	}

	split := len(groups) > 1
	affected := make(map[uint64]bool)
	present := make(map[string]bool, len(current))

	// Context-wide activity is only consulted when a manual member fell off
	// the roster, so fetch it lazily and at most once.
	var active map[string]bool
	activeSet := func() (map[string]bool, error) {
		if active != nil {
			return active, nil
		}
		list, err := e.contexts.GetActiveMembers(ctx, sec.ContextID)
		if err != nil {
			return nil, err
		}
		active = make(map[string]bool, len(list))
		for _, am := range list {
			if am.Active {
				active[am.NetID] = true
			}
		}
		return active, nil
	}

	for _, m := range current {
		present[m.NetID] = true
		if _, ok := auth[m.NetID]; ok {
			if !m.Official {
				if err := e.groups.SetOfficial(ctx, m.ID, true); err != nil {
					return err
				}
				e.record(ctx, audit.KindMemberUpgraded, map[string]any{
					"section_id": sec.ID, "netid": m.NetID,
				})
			}
			continue
		}
		drop := m.Official
		if !drop {
			act, err := activeSet()
			if err != nil {
				return err
			}
			// Manual members stay as long as they are still active anywhere
			// in the context.
			drop = !act[m.NetID]
		}
		if !drop {
			continue
		}
		if _, err := e.groups.RemoveMember(ctx, m.ID); err != nil {
			return err
		}
		affected[m.GroupID] = true
		e.record(ctx, audit.KindMemberDropped, map[string]any{
			"section_id": sec.ID, "netid": m.NetID, "official": m.Official,
		})
	}

	for netID, en := range auth {
		if present[netID] || en.Role == model.RoleInstructor {
			continue
		}
		g, err := e.groups.SmallestGroup(ctx, sec.ID)
		if err != nil {
			return err
		}
		m := &model.Member{
			GroupID:  g.ID,
			NetID:    netID,
			Role:     en.Role,
			Official: true,
			Location: en.Location,
		}
		if err := e.groups.AddMember(ctx, m); err != nil {
			return err
		}
		affected[g.ID] = true
		e.record(ctx, audit.KindMemberAdded, map[string]any{
			"section_id": sec.ID, "group_id": g.ID, "netid": netID,
		})
	}

	if split {
		for gid := range affected {
			if err := e.queue.Enqueue(ctx, model.ActionSyncGroup, formatID(gid), ""); err != nil {
				return err
			}
		}
	}
	return e.sections.SetLastSync(ctx, sec.ID, e.now())
}

// Bootstrap performs the initial partition of a section into groupCount
// named cohorts.  It is a full idempotent reset: existing cohorts,
// meetings and seat assignments are cleared first (queueing directory
// deletions for any linked groups), official instructors are excluded, and
// each new cohort receives one default meeting located from the section's
// meeting pattern.
func (e *Engine) Bootstrap(ctx context.Context, sec *model.Section, groupCount int, strategy Strategy) error {
	if groupCount < 1 {
		groupCount = 1
	}
	// Re-running a no-op bootstrap on a provisioned, unsplit section must
	// leave state untouched.
	if sec.Provisioned && !sec.Split && groupCount == 1 {
		return nil
	}

	existing, err := e.groups.ListBySection(ctx, sec.ID)
	if err != nil {
		return err
	}
	for _, g := range existing {
		if g.DirectoryGroupID != nil {
			if err := e.queue.Enqueue(ctx, model.ActionDeleteGroup, *g.DirectoryGroupID, formatID(sec.ID)); err != nil {
				return err
			}
		}
	}
	if err := e.seats.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.meetings.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.groups.DeleteMembersBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.groups.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}

	auth, err := e.authoritative(ctx, sec)
	if err != nil {
		return err
	}
	members := make([]provider.Enrollment, 0, len(auth))
	for _, en := range auth {
		if en.Role == model.RoleInstructor {
			continue
		}
		members = append(members, en)
	}

	location := model.LocationUnset
	if p, err := e.roster.GetMeetingPattern(ctx, sec.Stem); err == nil && p.Location != "" {
		location = p.Location
	} else if err != nil {
		e.log.Warn().Err(err).Str("stem", sec.Stem).Msg("meeting pattern lookup failed")
	}

	parts := e.partition(members, groupCount, strategy)
	for i, part := range parts {
		g := &model.SeatGroup{
			SectionID:   sec.ID,
			Name:        groupName(i),
			Description: fmt.Sprintf("Cohort %s of %s", groupName(i), sec.Stem),
		}
		if err := e.groups.Create(ctx, g); err != nil {
			return err
		}
		for _, en := range part {
			m := &model.Member{
				GroupID:  g.ID,
				NetID:    en.NetID,
				Role:     en.Role,
				Official: true,
				Location: en.Location,
			}
			if err := e.groups.AddMember(ctx, m); err != nil {
				return err
			}
		}
		if err := e.meetings.Create(ctx, &model.Meeting{GroupID: g.ID, Location: location}); err != nil {
			return err
		}
		if groupCount > 1 {
			if err := e.queue.Enqueue(ctx, model.ActionSyncGroup, formatID(g.ID), ""); err != nil {
				return err
			}
		}
	}

	sec.Provisioned = true
	sec.Split = groupCount > 1
	if err := e.sections.SetFlags(ctx, sec.ID, sec.Provisioned, sec.Split); err != nil {
		return err
	}
	e.record(ctx, audit.KindSectionSplit, map[string]any{
		"section_id": sec.ID, "groups": groupCount, "strategy": string(strategy),
	})
	return e.sections.SetLastSync(ctx, sec.ID, e.now())
}

// StemIsEligible reports whether the stem may be split into cohorts: its
// instruction mode must be in-person or blended, unless the context
// carries the override property that re-enables splitting.
func (e *Engine) StemIsEligible(ctx context.Context, contextID, stem string) (bool, error) {
	mode, err := e.roster.GetInstructionMode(ctx, stem)
	if err != nil {
		return false, err
	}
	if mode == provider.ModeInPerson || mode == provider.ModeBlended {
		return true, nil
	}
	return e.sections.SplitOverride(ctx, contextID)
}

// EligibilityPass walks every provisioned section and tears down the ones
// whose stem is no longer eligible (a course moved fully online, say).
// Teardown runs under the context lock; when destructive deletes are
// disabled the situation is logged as a required manual action instead.
// A failure on one section never stops the walk.
func (e *Engine) EligibilityPass(ctx context.Context, locker Locker) {
	secs, err := e.sections.ListProvisioned(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("eligibility scan failed")
		return
	}
	for _, sec := range secs {
		eligible, err := e.StemIsEligible(ctx, sec.ContextID, sec.Stem)
		if err != nil {
			e.log.Warn().Err(err).Str("stem", sec.Stem).Msg("eligibility check failed")
			continue
		}
		if eligible {
			continue
		}
		if !e.destructive {
			e.log.Warn().Str("stem", sec.Stem).Str("context_id", sec.ContextID).
				Msg("section no longer eligible; destructive deletes disabled, manual teardown required")
			continue
		}
		if !locker.Lock(ctx, sec.ContextID) {
			continue // next pass will retry
		}
		if err := e.Teardown(ctx, &sec); err != nil {
			e.log.Error().Err(err).Uint64("section_id", sec.ID).Msg("section teardown failed")
		}
		locker.Unlock(ctx, sec.ContextID)
	}
}

// Teardown deletes a section and everything under it, queueing directory
// group deletions so the external mirror converges too.  The caller must
// hold the context lock.
func (e *Engine) Teardown(ctx context.Context, sec *model.Section) error {
	groups, err := e.groups.ListBySection(ctx, sec.ID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.DirectoryGroupID != nil {
			if err := e.queue.Enqueue(ctx, model.ActionDeleteGroup, *g.DirectoryGroupID, formatID(sec.ID)); err != nil {
				return err
			}
		}
	}
	if err := e.seats.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.meetings.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.groups.DeleteMembersBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.groups.DeleteBySection(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.sections.DeleteRosters(ctx, sec.ID); err != nil {
		return err
	}
	if err := e.sections.Delete(ctx, sec.ID); err != nil {
		return err
	}
	e.record(ctx, audit.KindSectionDeleted, map[string]any{
		"section_id": sec.ID, "context_id": sec.ContextID, "stem": sec.Stem,
	})
	return nil
}

// authoritative returns the union of enrollments across every roster of
// the section, keyed by netid.  The primary roster is listed first, so its
// record wins when a participant appears on several cross-listed rosters.
func (e *Engine) authoritative(ctx context.Context, sec *model.Section) (map[string]provider.Enrollment, error) {
	rosters, err := e.sections.ListRosters(ctx, sec.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]provider.Enrollment)
	for _, ro := range rosters {
		list, err := e.roster.GetEnrollments(ctx, ro.RosterID)
		if err != nil {
			return nil, err
		}
		for _, en := range list {
			if _, ok := out[en.NetID]; !ok {
				out[en.NetID] = en
			}
		}
	}
	return out, nil
}

// record writes an audit event under the system actor, logging instead of
// failing the calling operation when the trail itself is unavailable.
func (e *Engine) record(ctx context.Context, kind string, payload any) {
	if err := e.audit.Record(ctx, kind, audit.SystemActor, payload); err != nil {
		e.log.Error().Err(err).Str("kind", kind).Msg("audit record failed")
	}
}

// formatID renders a numeric id as the string form used in queue args.
func formatID(id uint64) string { return strconv.FormatUint(id, 10) }
