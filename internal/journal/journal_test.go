package journal

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	// A single connection serializes transactions through db/sql's pool,
	// which is what lets this in-memory database model the same
	// concurrent-append contention AppendEvent's own transaction is
	// meant to survive.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return store.New(db)
}

// TestAppendIsStrictlyMonotonicAndContiguous is the journal invariant
// from §4.2: for any interleaving of concurrent append calls on the
// same session, the resulting seqs form a contiguous [1..N] sequence
// with no gaps or duplicates. This is also scenario S6 (N=100).
func TestAppendIsStrictlyMonotonicAndContiguous(t *testing.T) {
	s := setupTestStore(t)
	j := New(s)
	ctx := context.Background()

	sess := &model.Session{ID: "concurrent-1", Mode: model.SessionModeChat, Status: model.SessionStatusActive}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := j.Append(ctx, sess.ID, "msg", []byte(fmt.Sprintf(`{"i":%d}`, i)))
			seqs[i] = ev.Seq
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int, n)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		seen[seqs[i]]++
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct seqs, want %d (seqs=%v)", len(seen), n, seqs)
	}
	for seq := int64(1); seq <= n; seq++ {
		if count := seen[seq]; count != 1 {
			t.Fatalf("seq %d appeared %d times, want exactly 1", seq, count)
		}
	}

	maxSeq, err := j.GetMaxSeq(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMaxSeq: %v", err)
	}
	if maxSeq != n {
		t.Fatalf("GetMaxSeq = %d, want %d", maxSeq, n)
	}

	events, err := j.GetAfterSeq(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetAfterSeq: %v", err)
	}
	if len(events) != n {
		t.Fatalf("GetAfterSeq returned %d events, want %d", len(events), n)
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("events[%d].Seq = %d, want %d (events must be ascending and gap-free)", i, ev.Seq, i+1)
		}
	}
}

// TestAppendFirstSeqIsOne covers the other half of §4.2's invariant: a
// fresh session's first appended event gets seq 1, and GetMaxSeq on an
// empty session is 0.
func TestAppendFirstSeqIsOne(t *testing.T) {
	s := setupTestStore(t)
	j := New(s)
	ctx := context.Background()

	sess := &model.Session{ID: "fresh-1", Mode: model.SessionModeChat, Status: model.SessionStatusActive}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if maxSeq, err := j.GetMaxSeq(ctx, sess.ID); err != nil {
		t.Fatalf("GetMaxSeq: %v", err)
	} else if maxSeq != 0 {
		t.Fatalf("GetMaxSeq on empty session = %d, want 0", maxSeq)
	}

	ev, err := j.Append(ctx, sess.ID, "msg", []byte(`{"i":0}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("first Append seq = %d, want 1", ev.Seq)
	}
}

// TestDeleteForSessionRemovesAllEvents covers the cascade half of
// §4.1's event invariant: deleting a session's events leaves none
// behind and resets the max seq to 0.
func TestDeleteForSessionRemovesAllEvents(t *testing.T) {
	s := setupTestStore(t)
	j := New(s)
	ctx := context.Background()

	sess := &model.Session{ID: "cascade-1", Mode: model.SessionModeChat, Status: model.SessionStatusActive}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := j.Append(ctx, sess.ID, "msg", []byte(fmt.Sprintf(`{"i":%d}`, i))); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	if err := j.DeleteForSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteForSession: %v", err)
	}

	events, err := j.GetAfterSeq(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetAfterSeq: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events after DeleteForSession = %v, want none", events)
	}
	maxSeq, err := j.GetMaxSeq(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMaxSeq: %v", err)
	}
	if maxSeq != 0 {
		t.Fatalf("GetMaxSeq after DeleteForSession = %d, want 0", maxSeq)
	}
}
