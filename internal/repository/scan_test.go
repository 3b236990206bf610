package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"
)

// stubDriver serves one canned result set per connection so repository
// scans can be exercised without a MySQL server.  NULL DATETIME columns
// arrive as nil driver values, exactly as go-sql-driver delivers them
// with parseTime enabled.
type stubDriver struct{}

var (
	stubCols []string
	stubRows [][]driver.Value
)

func (stubDriver) Open(string) (driver.Conn, error) { return stubConn{}, nil }

type stubConn struct{}

func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

func (stubConn) QueryContext(_ context.Context, _ string, _ []driver.NamedValue) (driver.Rows, error) {
	return &stubResult{cols: stubCols, rows: stubRows}, nil
}

type stubResult struct {
	cols []string
	rows [][]driver.Value
	next int
}

func (r *stubResult) Columns() []string { return r.cols }
func (r *stubResult) Close() error      { return nil }

func (r *stubResult) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

func init() {
	sql.Register("repostub", stubDriver{})
}

func stubDB(t *testing.T, cols []string, rows ...[]driver.Value) *sql.DB {
	t.Helper()
	stubCols, stubRows = cols, rows
	db, err := sql.Open("repostub", "")
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	return db
}

var sectionStubCols = []string{
	"id", "context_id", "stem", "provisioned", "split",
	"last_sync_requested_time", "last_sync_time",
}

func TestSectionScanNullableTimes(t *testing.T) {
	t.Run("both sync columns null", func(t *testing.T) {
		db := stubDB(t, sectionStubCols,
			[]driver.Value{int64(7), "ctx-1", "CS1110", int64(0), int64(0), nil, nil})
		defer db.Close()

		s, err := NewSectionRepo(db).GetByID(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if !s.LastSyncRequested.IsZero() || !s.LastSync.IsZero() {
			t.Fatalf("null columns should map to zero times, got %v / %v",
				s.LastSyncRequested, s.LastSync)
		}
	})

	t.Run("populated sync columns", func(t *testing.T) {
		requested := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		synced := requested.Add(time.Minute)
		db := stubDB(t, sectionStubCols,
			[]driver.Value{int64(7), "ctx-1", "CS1110", int64(1), int64(1), requested, synced})
		defer db.Close()

		s, err := NewSectionRepo(db).GetByID(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if !s.LastSyncRequested.Equal(requested) || !s.LastSync.Equal(synced) {
			t.Fatalf("got %v / %v, want %v / %v",
				s.LastSyncRequested, s.LastSync, requested, synced)
		}
	})

	t.Run("list survives a null row", func(t *testing.T) {
		db := stubDB(t, sectionStubCols,
			[]driver.Value{int64(1), "ctx-1", "CS1110", int64(1), int64(0), time.Now().UTC(), nil},
			[]driver.Value{int64(2), "ctx-1", "CS2110", int64(0), int64(0), nil, nil})
		defer db.Close()

		out, err := NewSectionRepo(db).ListDirty(context.Background(), 10)
		if err != nil {
			t.Fatalf("ListDirty: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("got %d sections, want 2", len(out))
		}
	})
}

func TestSeatGetNullableEditableUntil(t *testing.T) {
	cols := []string{"id", "meeting_id", "netid", "seat", "editable_until"}

	t.Run("null means no restriction", func(t *testing.T) {
		db := stubDB(t, cols, []driver.Value{int64(3), int64(10), "abc12", "A4", nil})
		defer db.Close()

		a, err := NewSeatRepo(db).Get(context.Background(), 10, "abc12")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if a == nil || !a.EditableUntil.IsZero() {
			t.Fatalf("null editable_until should map to zero time, got %+v", a)
		}
	})

	t.Run("populated window", func(t *testing.T) {
		until := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		db := stubDB(t, cols, []driver.Value{int64(3), int64(10), "abc12", "A4", until})
		defer db.Close()

		a, err := NewSeatRepo(db).Get(context.Background(), 10, "abc12")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if a == nil || !a.EditableUntil.Equal(until) {
			t.Fatalf("got %+v, want editable_until %v", a, until)
		}
	})
}
