package audit

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

type fakeAppender struct {
	events []model.AuditEvent
}

func (a *fakeAppender) Append(_ context.Context, e *model.AuditEvent) error {
	a.events = append(a.events, *e)
	return nil
}

var idPattern = regexp.MustCompile(`^\d{14}-\d{8}-[0-9a-f]{8}$`)

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("stores kind actor and JSON payload", func(t *testing.T) {
		sink := &fakeAppender{}
		r := NewRecorder(sink)

		err := r.Record(ctx, KindSeatAssigned, "alice", map[string]any{"seat": "A1"})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if len(sink.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(sink.events))
		}
		e := sink.events[0]
		if e.Kind != KindSeatAssigned || e.Actor != "alice" {
			t.Errorf("unexpected event header: %+v", e)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if payload["seat"] != "A1" {
			t.Errorf("expected seat A1 in payload, got %q", e.Payload)
		}
	})

	t.Run("ids match the composite format", func(t *testing.T) {
		sink := &fakeAppender{}
		r := NewRecorder(sink)

		if err := r.Record(ctx, KindGroupCreated, SystemActor, nil); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if id := sink.events[0].ID; !idPattern.MatchString(id) {
			t.Errorf("id %q does not match the expected format", id)
		}
	})

	t.Run("ids sort in record order within one millisecond", func(t *testing.T) {
		sink := &fakeAppender{}
		r := NewRecorder(sink)
		frozen := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return frozen }

		for i := 0; i < 20; i++ {
			if err := r.Record(ctx, KindMemberAdded, SystemActor, i); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}
		ids := make([]string, len(sink.events))
		for i, e := range sink.events {
			ids[i] = e.ID
		}
		if !sort.StringsAreSorted(ids) {
			t.Error("expected ids to sort lexicographically in record order")
		}
	})

	t.Run("rejects unmarshalable payloads", func(t *testing.T) {
		sink := &fakeAppender{}
		r := NewRecorder(sink)

		if err := r.Record(ctx, KindSeatAssigned, "alice", func() {}); err == nil {
			t.Error("expected a marshal error")
		}
		if len(sink.events) != 0 {
			t.Error("expected no event to be appended")
		}
	})
}
