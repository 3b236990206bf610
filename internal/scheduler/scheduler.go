// Package scheduler runs the long-lived background loop: it discovers
// contexts whose upstream roster data changed, reconciles dirty sections
// under the context lock, and drains the directory sync queue.  One
// process runs exactly one loop; horizontal scale comes from running more
// processes against the shared store, with the advisory lock keeping them
// out of each other's way.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
	"github.com/iliyamo/cohort-seat-sync/internal/reconcile"
)

// SectionStore is satisfied by repository.SectionRepo.
type SectionStore interface {
	ListDirty(ctx context.Context, limit int) ([]model.Section, error)
	MarkSyncRequested(ctx context.Context, contextID string, at time.Time) error
}

// Reconciler is satisfied by reconcile.Engine.
type Reconciler interface {
	EnsureSection(ctx context.Context, contextID, primaryRosterID, secondaryRosterID string) (*model.Section, error)
	Reconcile(ctx context.Context, sec *model.Section) error
	EligibilityPass(ctx context.Context, locker reconcile.Locker)
}

// Locker is satisfied by lock.Manager.  It is a superset of
// reconcile.Locker so the same manager serves both the dirty drain and the
// eligibility pass.
type Locker interface {
	TryLock(ctx context.Context, contextID string) (bool, error)
	Lock(ctx context.Context, contextID string) bool
	Unlock(ctx context.Context, contextID string)
}

// QueueDrainer is satisfied by dirsync.Consumer.
type QueueDrainer interface {
	DrainOnce(ctx context.Context) error
}

// ChangeSource is the subset of the roster provider the loop polls,
// satisfied by any provider.RosterProvider.
type ChangeSource interface {
	ChangedContextsSince(ctx context.Context, since int64) ([]string, error)
	ListContextRosters(ctx context.Context, contextID string) ([]string, error)
	GetCrosslistSponsor(ctx context.Context, rosterID string) (string, error)
}

// Options tune the loop.  Zero values take the reference defaults.
type Options struct {
	// Tick is the base wake-up interval.
	Tick time.Duration
	// RosterScanEvery is how many ticks pass between upstream change scans.
	RosterScanEvery int
	// EligibilityScanEvery is how many ticks pass between eligibility
	// re-checks of provisioned sections.
	EligibilityScanEvery int
	// DirtyBatch bounds how many dirty sections one tick reconciles.
	DirtyBatch int
	// TickBudget time-boxes the work of one tick so a large context cannot
	// starve the rest.
	TickBudget time.Duration
	// DedupeSize bounds the in-memory de-duplication cache.
	DedupeSize int
}

func (o *Options) fill() {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.RosterScanEvery < 1 {
		o.RosterScanEvery = 30
	}
	if o.EligibilityScanEvery < 1 {
		o.EligibilityScanEvery = 600
	}
	if o.DirtyBatch < 1 {
		o.DirtyBatch = 20
	}
	if o.TickBudget <= 0 {
		o.TickBudget = 30 * time.Second
	}
	if o.DedupeSize < 1 {
		o.DedupeSize = 500
	}
}

// Loop is the background scheduler for one process.
type Loop struct {
	opts     Options
	sections SectionStore
	engine   Reconciler
	locker   Locker
	drainer  QueueDrainer
	changes  ChangeSource
	log      zerolog.Logger

	cache    *dedupeCache
	lastScan time.Time
	now      func() time.Time
}

// New returns a Loop ready to Run.
func New(opts Options, sections SectionStore, engine Reconciler, locker Locker, drainer QueueDrainer, changes ChangeSource, log zerolog.Logger) *Loop {
	opts.fill()
	return &Loop{
		opts:     opts,
		sections: sections,
		engine:   engine,
		locker:   locker,
		drainer:  drainer,
		changes:  changes,
		log:      log,
		cache:    newDedupeCache(opts.DedupeSize),
		lastScan: time.Now().Add(-opts.Tick * time.Duration(opts.RosterScanEvery)),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.  Each tick does one bounded
// unit of work sequentially; there is no intra-process parallelism.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.opts.Tick)
	defer ticker.Stop()
	l.log.Info().Dur("tick", l.opts.Tick).Msg("scheduler started")
	tick := 0
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			tick++
			l.Tick(ctx, tick)
		}
	}
}

// Tick performs the work of one wake-up.  Exported so tests can drive the
// loop without real time.
func (l *Loop) Tick(ctx context.Context, tick int) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.TickBudget)
	defer cancel()

	if tick%l.opts.RosterScanEvery == 0 {
		l.scanChanges(ctx)
	}
	if tick%l.opts.EligibilityScanEvery == 0 {
		l.engine.EligibilityPass(ctx, l.locker)
	}
	l.drainDirty(ctx)
	if err := l.drainer.DrainOnce(ctx); err != nil {
		l.log.Warn().Err(err).Msg("sync queue drain failed")
	}
}

// scanChanges marks every context reported changed since the last scan.
// Before marking it ensures first-seen sections exist, so a context whose
// very first roster just appeared gets a section row that the mark then
// flags dirty.
func (l *Loop) scanChanges(ctx context.Context) {
	since := l.lastScan
	now := l.now()
	changed, err := l.changes.ChangedContextsSince(ctx, since.Unix())
	if err != nil {
		l.log.Warn().Err(err).Msg("upstream change scan failed")
		return
	}
	l.lastScan = now
	for _, contextID := range changed {
		l.ensureSections(ctx, contextID)
		if err := l.sections.MarkSyncRequested(ctx, contextID, now); err != nil {
			l.log.Warn().Err(err).Str("context_id", contextID).Msg("mark sync requested failed")
		}
	}
}

// ensureSections creates section and roster rows for every roster the
// provider currently reports on a changed context.  Cross-listed rosters
// attach as secondaries under their sponsor's section.  Section creation
// mutates context-scoped state, so it runs under the context lock; a
// contended lock just defers to the next scan.
func (l *Loop) ensureSections(ctx context.Context, contextID string) {
	rosters, err := l.changes.ListContextRosters(ctx, contextID)
	if err != nil {
		l.log.Warn().Err(err).Str("context_id", contextID).Msg("roster enumeration failed")
		return
	}
	if len(rosters) == 0 {
		return
	}
	ok, err := l.locker.TryLock(ctx, contextID)
	if err != nil {
		l.log.Warn().Err(err).Str("context_id", contextID).Msg("lock attempt failed")
		return
	}
	if !ok {
		return
	}
	defer l.locker.Unlock(ctx, contextID)
	for _, rosterID := range rosters {
		sponsor, err := l.changes.GetCrosslistSponsor(ctx, rosterID)
		if err != nil {
			l.log.Warn().Err(err).Str("roster_id", rosterID).Msg("crosslist lookup failed")
			continue
		}
		primary, secondary := rosterID, ""
		if sponsor != "" && sponsor != rosterID {
			primary, secondary = sponsor, rosterID
		}
		if _, err := l.engine.EnsureSection(ctx, contextID, primary, secondary); err != nil {
			l.log.Warn().Err(err).Str("roster_id", rosterID).Msg("ensure section failed")
		}
	}
}

// drainDirty reconciles one bounded batch of dirty sections.  A section
// whose lock cannot be taken is simply left for the next pass; a failing
// reconcile is logged and isolated from the rest of the batch.
func (l *Loop) drainDirty(ctx context.Context) {
	dirty, err := l.sections.ListDirty(ctx, l.opts.DirtyBatch)
	if err != nil {
		l.log.Warn().Err(err).Msg("dirty section scan failed")
		return
	}
	for i := range dirty {
		sec := dirty[i]
		if l.cache.Handled(sec.ContextID, sec.LastSyncRequested) {
			continue
		}
		ok, err := l.locker.TryLock(ctx, sec.ContextID)
		if err != nil {
			l.log.Warn().Err(err).Str("context_id", sec.ContextID).Msg("lock attempt failed")
			continue
		}
		if !ok {
			continue // another process has the context; next pass retries
		}
		if err := l.engine.Reconcile(ctx, &sec); err != nil {
			l.log.Error().Err(err).Uint64("section_id", sec.ID).Msg("reconcile failed")
		} else {
			l.cache.Put(sec.ContextID, sec.LastSyncRequested)
		}
		l.locker.Unlock(ctx, sec.ContextID)
	}
}

// ensure provider.RosterProvider satisfies ChangeSource.
var _ ChangeSource = (provider.RosterProvider)(nil)
