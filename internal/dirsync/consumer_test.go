package dirsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

type fakeQueue struct {
	entries []model.SyncQueueEntry
	nextID  uint64
}

func (q *fakeQueue) add(action, arg1, arg2 string) {
	q.nextID++
	q.entries = append(q.entries, model.SyncQueueEntry{
		ID: q.nextID, Action: action, Arg1: arg1, Arg2: arg2,
	})
}

func (q *fakeQueue) ListBatch(_ context.Context, limit int) ([]model.SyncQueueEntry, error) {
	if len(q.entries) > limit {
		return q.entries[:limit], nil
	}
	return q.entries, nil
}

func (q *fakeQueue) DeleteUpTo(_ context.Context, watermark uint64) error {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.ID > watermark {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return nil
}

type fakeGroups struct {
	groups  map[uint64]*model.SeatGroup
	members map[uint64][]model.Member
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{
		groups:  make(map[uint64]*model.SeatGroup),
		members: make(map[uint64][]model.Member),
	}
}

func (g *fakeGroups) GetByID(_ context.Context, id uint64) (*model.SeatGroup, error) {
	grp, ok := g.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *grp
	return &cp, nil
}

func (g *fakeGroups) ListBySection(_ context.Context, sectionID uint64) ([]model.SeatGroup, error) {
	var out []model.SeatGroup
	for _, grp := range g.groups {
		if grp.SectionID == sectionID {
			out = append(out, *grp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGroups) ListMembers(_ context.Context, groupID uint64) ([]model.Member, error) {
	return g.members[groupID], nil
}

func (g *fakeGroups) SetDirectoryGroupID(_ context.Context, groupID uint64, dirID *string) error {
	if grp, ok := g.groups[groupID]; ok {
		grp.DirectoryGroupID = dirID
	}
	return nil
}

type fakeSections struct {
	sections map[uint64]*model.Section
}

func (s *fakeSections) GetByID(_ context.Context, id uint64) (*model.Section, error) {
	sec, ok := s.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *sec
	return &cp, nil
}

// fakeDirectory records calls and can be told to fail.
type fakeDirectory struct {
	nextID   int
	created  map[string][]string // id -> member push history
	titles   map[string]string
	deleted  []string
	replaces map[string][]string
	failAll  bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		created:  make(map[string][]string),
		titles:   make(map[string]string),
		replaces: make(map[string][]string),
	}
}

var errDirectoryDown = errors.New("directory unavailable")

func (d *fakeDirectory) CreateGroup(_ context.Context, title, _ string) (string, error) {
	if d.failAll {
		return "", errDirectoryDown
	}
	d.nextID++
	id := fmt.Sprintf("dir-%d", d.nextID)
	d.created[id] = nil
	d.titles[id] = title
	return id, nil
}

func (d *fakeDirectory) SetTitle(_ context.Context, groupID, title string) error {
	if d.failAll {
		return errDirectoryDown
	}
	d.titles[groupID] = title
	return nil
}

func (d *fakeDirectory) SetDescription(_ context.Context, _, _ string) error {
	if d.failAll {
		return errDirectoryDown
	}
	return nil
}

func (d *fakeDirectory) ReplaceMembers(_ context.Context, groupID string, netIDs []string) error {
	if d.failAll {
		return errDirectoryDown
	}
	d.replaces[groupID] = netIDs
	return nil
}

func (d *fakeDirectory) DeleteGroup(_ context.Context, groupID string) error {
	if d.failAll {
		return errDirectoryDown
	}
	d.deleted = append(d.deleted, groupID)
	return nil
}

type openLocker struct {
	busy map[string]bool
}

func (l *openLocker) TryLock(_ context.Context, contextID string) (bool, error) {
	if l.busy[contextID] {
		return false, nil
	}
	return true, nil
}

func (l *openLocker) Unlock(_ context.Context, _ string) {}

type nopAuditor struct{ kinds []string }

func (a *nopAuditor) Record(_ context.Context, kind, _ string, _ any) error {
	a.kinds = append(a.kinds, kind)
	return nil
}

type world struct {
	queue    *fakeQueue
	groups   *fakeGroups
	sections *fakeSections
	dir      *fakeDirectory
	locker   *openLocker
	trail    *nopAuditor
	consumer *Consumer
}

func newWorld() *world {
	w := &world{
		queue:    &fakeQueue{},
		groups:   newFakeGroups(),
		sections: &fakeSections{sections: make(map[uint64]*model.Section)},
		dir:      newFakeDirectory(),
		locker:   &openLocker{busy: make(map[string]bool)},
		trail:    &nopAuditor{},
	}
	w.consumer = NewConsumer(w.queue, w.groups, w.sections, w.dir, w.locker, w.trail, zerolog.Nop(), 50)
	return w
}

// seed creates a section with n cohorts and two members each.
func (w *world) seed(sectionID uint64, contextID string, n int) []uint64 {
	w.sections.sections[sectionID] = &model.Section{
		ID: sectionID, ContextID: contextID, Stem: "CS101", Provisioned: true, Split: n > 1,
	}
	var ids []uint64
	for i := 0; i < n; i++ {
		gid := sectionID*10 + uint64(i) + 1
		w.groups.groups[gid] = &model.SeatGroup{
			ID: gid, SectionID: sectionID, Name: string(rune('A' + i)),
		}
		w.groups.members[gid] = []model.Member{
			{ID: gid * 100, GroupID: gid, NetID: fmt.Sprintf("u%d-1", gid)},
			{ID: gid*100 + 1, GroupID: gid, NetID: fmt.Sprintf("u%d-2", gid)},
		}
		ids = append(ids, gid)
	}
	return ids
}

func gidArg(gid uint64) string { return strconv.FormatUint(gid, 10) }

func TestDrainOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("syncs a cohort and links its directory group", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		g := w.groups.groups[gids[0]]
		if g.DirectoryGroupID == nil {
			t.Fatal("expected the cohort to be linked to a directory group")
		}
		if got := w.dir.replaces[*g.DirectoryGroupID]; len(got) != 2 {
			t.Errorf("expected 2 members pushed, got %v", got)
		}
		if len(w.queue.entries) != 0 {
			t.Errorf("expected the queue to be drained, got %v", w.queue.entries)
		}
	})

	t.Run("first link also syncs unlinked siblings", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 3)
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		for _, gid := range gids {
			if w.groups.groups[gid].DirectoryGroupID == nil {
				t.Errorf("expected cohort %d to be linked", gid)
			}
		}
	})

	t.Run("an already linked cohort gets a refresh not a new group", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		existing := "dir-keep"
		w.groups.groups[gids[0]].DirectoryGroupID = &existing
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if *w.groups.groups[gids[0]].DirectoryGroupID != existing {
			t.Error("expected the existing link to be kept")
		}
		if w.dir.titles[existing] == "" {
			t.Error("expected the title to be refreshed")
		}
		// A refresh of an already linked cohort must not cascade to siblings.
		if w.groups.groups[gids[1]].DirectoryGroupID != nil {
			t.Error("expected the sibling to stay unlinked")
		}
	})

	t.Run("a single-cohort section has no directory group", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 1)
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if w.groups.groups[gids[0]].DirectoryGroupID != nil {
			t.Error("expected no directory group for a single cohort")
		}
		if len(w.queue.entries) != 0 {
			t.Error("expected the entry to be consumed anyway")
		}
	})

	t.Run("duplicate facts for one cohort are handled once per pass", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if w.dir.nextID != 2 { // the cohort plus its one sibling
			t.Errorf("expected 2 directory creates, got %d", w.dir.nextID)
		}
		if len(w.queue.entries) != 0 {
			t.Errorf("expected all duplicates consumed, got %v", w.queue.entries)
		}
	})

	t.Run("a vanished cohort is discarded silently", func(t *testing.T) {
		w := newWorld()
		w.seed(1, "ctx-1", 2)
		w.queue.add(model.ActionSyncGroup, "999", "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 0 {
			t.Error("expected the stale entry to be consumed")
		}
	})

	t.Run("external failure stops the pass and keeps later entries", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		other := w.seed(2, "ctx-2", 2)
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")
		w.queue.add(model.ActionSyncGroup, gidArg(other[0]), "")
		w.dir.failAll = true

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 2 {
			t.Errorf("expected both entries to stay queued, got %d", len(w.queue.entries))
		}

		// The directory comes back and the next pass succeeds.
		w.dir.failAll = false
		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 0 {
			t.Errorf("expected the queue to drain after recovery, got %v", w.queue.entries)
		}
	})

	t.Run("watermark advances past entries attempted before a failure", func(t *testing.T) {
		w := newWorld()
		ok := w.seed(1, "ctx-1", 1) // single cohort: consumed without touching the directory
		bad := w.seed(2, "ctx-2", 2)
		w.queue.add(model.ActionSyncGroup, gidArg(ok[0]), "")
		w.queue.add(model.ActionSyncGroup, gidArg(bad[0]), "")
		w.dir.failAll = true

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 1 || w.queue.entries[0].Arg1 != gidArg(bad[0]) {
			t.Errorf("expected only the failed entry to remain, got %v", w.queue.entries)
		}
	})

	t.Run("lock contention leaves the entry queued", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		w.locker.busy["ctx-1"] = true
		w.queue.add(model.ActionSyncGroup, gidArg(gids[0]), "")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 1 {
			t.Error("expected the entry to stay queued under contention")
		}
	})

	t.Run("unknown actions are discarded", func(t *testing.T) {
		w := newWorld()
		w.queue.add("FROBNICATE", "x", "y")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.queue.entries) != 0 {
			t.Error("expected the unknown entry to be discarded")
		}
	})
}

func TestProcessDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the directory group", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 3)
		for i, gid := range gids {
			id := fmt.Sprintf("dir-%d", i+1)
			w.groups.groups[gid].DirectoryGroupID = &id
		}
		// One cohort was removed from the section; its mirror must go.
		delete(w.groups.groups, gids[2])
		w.queue.add(model.ActionDeleteGroup, "dir-3", "1")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.dir.deleted) != 1 || w.dir.deleted[0] != "dir-3" {
			t.Errorf("expected dir-3 deleted, got %v", w.dir.deleted)
		}
		// Two linked cohorts remain: no collapse.
		if w.groups.groups[gids[0]].DirectoryGroupID == nil || w.groups.groups[gids[1]].DirectoryGroupID == nil {
			t.Error("expected the surviving links to be kept")
		}
	})

	t.Run("collapsing to one cohort removes the survivor's mirror too", func(t *testing.T) {
		w := newWorld()
		gids := w.seed(1, "ctx-1", 2)
		keep := "dir-keep"
		w.groups.groups[gids[0]].DirectoryGroupID = &keep
		delete(w.groups.groups, gids[1])
		w.queue.add(model.ActionDeleteGroup, "dir-gone", "1")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		want := map[string]bool{"dir-gone": true, "dir-keep": true}
		for _, id := range w.dir.deleted {
			delete(want, id)
		}
		if len(want) != 0 {
			t.Errorf("expected both mirrors deleted, still missing %v", want)
		}
		if w.groups.groups[gids[0]].DirectoryGroupID != nil {
			t.Error("expected the survivor's link to be cleared")
		}
	})

	t.Run("handles a section that is already gone", func(t *testing.T) {
		w := newWorld()
		w.queue.add(model.ActionDeleteGroup, "dir-orphan", "42")

		if err := w.consumer.DrainOnce(ctx); err != nil {
			t.Fatalf("DrainOnce failed: %v", err)
		}
		if len(w.dir.deleted) != 1 || w.dir.deleted[0] != "dir-orphan" {
			t.Errorf("expected the orphan mirror deleted, got %v", w.dir.deleted)
		}
		if len(w.queue.entries) != 0 {
			t.Error("expected the entry to be consumed")
		}
	})
}
