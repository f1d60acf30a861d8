package service

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/sandbox/mock"
	"github.com/relaycore/relay/internal/sessionlock"
	"github.com/relaycore/relay/internal/store"
)

// setupTestService wires a SessionService over an in-memory SQLite
// store and a mock sandbox provider.
func setupTestService(t *testing.T) (*SessionService, *store.Store, *mock.Provider) {
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

	s := store.New(db)
	j := journal.New(s)
	provider := mock.New()
	resolve := func(ctx context.Context, sessionID string) (sandbox.Handle, error) {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return sandbox.Handle{}, err
		}
		return sandbox.Handle{Provider: sess.Provider, ProviderID: sess.ProviderID}, nil
	}
	mgr := sandbox.NewManager(resolve, provider)
	locks := sessionlock.NewRegistry()
	svc := New(s, j, mgr, locks, provider.Name(), 5*time.Second)
	return svc, s, provider
}

func TestCreate_ChatModeProvisionsToIdle(t *testing.T) {
	svc, store, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != model.SessionStatusCreating {
		t.Fatalf("expected initial status creating, got %q", sess.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == model.SessionStatusIdle {
			if !got.HasSandbox() {
				t.Fatal("expected sandbox binding once idle")
			}
			return
		}
		if got.Status == model.SessionStatusError {
			t.Fatalf("session failed to provision: %s", got.ErrorReason)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached idle within deadline")
}

func TestCreate_CodeModeRequiresRepo(t *testing.T) {
	svc, _, _ := setupTestService(t)
	_, err := svc.Create(context.Background(), CreateSessionInput{Mode: model.SessionModeCode})
	if err != ErrCodeModeNeedsRepo {
		t.Fatalf("expected ErrCodeModeNeedsRepo, got %v", err)
	}
}

func TestCreate_InvalidMode(t *testing.T) {
	svc, _, _ := setupTestService(t)
	_, err := svc.Create(context.Background(), CreateSessionInput{Mode: "bogus"})
	if err != ErrInvalidMode {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func waitForStatus(t *testing.T, s *store.Store, sessionID, status string) *model.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetSession(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status == status {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session never reached status %q", status)
	return nil
}

func TestActivate_IdleToActive(t *testing.T) {
	svc, s, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, s, sess.ID, model.SessionStatusIdle)

	lastSeq, err := svc.Activate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != model.SessionStatusActive {
		t.Fatalf("expected active, got %q", got.Status)
	}

	// Activation contract (invariant 6): getMaxSeq(sessionId) equals
	// the lastSeq returned by the activate response.
	maxSeq, err := journal.New(s).GetMaxSeq(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMaxSeq: %v", err)
	}
	if maxSeq != lastSeq {
		t.Fatalf("GetMaxSeq = %d, want lastSeq from Activate = %d", maxSeq, lastSeq)
	}
}

func TestPause_ActiveToIdle(t *testing.T) {
	svc, s, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, s, sess.ID, model.SessionStatusIdle)
	if _, err := svc.Activate(ctx, sess.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != model.SessionStatusIdle {
		t.Fatalf("expected idle after pause, got %q", got.Status)
	}
}

func TestPause_NoOpWhenNotActive(t *testing.T) {
	svc, s, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, s, sess.ID, model.SessionStatusIdle)

	// Pause while already idle must be a no-op, not an error.
	if err := svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("Pause on idle session: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != model.SessionStatusIdle {
		t.Fatalf("expected idle, got %q", got.Status)
	}
}

func TestDelete_CascadesEvents(t *testing.T) {
	svc, s, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, s, sess.ID, model.SessionStatusIdle)

	if _, err := s.AppendEvent(ctx, sess.ID, "note", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if err := svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.GetSession(ctx, sess.ID); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	events, err := s.EventsAfter(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events to cascade-delete, found %d", len(events))
	}
}

func TestArchive_RetainsEvents(t *testing.T) {
	svc, s, _ := setupTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateSessionInput{Mode: model.SessionModeChat})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForStatus(t, s, sess.ID, model.SessionStatusIdle)

	if _, err := s.AppendEvent(ctx, sess.ID, "note", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if err := svc.Archive(ctx, sess.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession after archive: %v", err)
	}
	if got.Status != model.SessionStatusArchived {
		t.Fatalf("expected archived, got %q", got.Status)
	}
	events, err := s.EventsAfter(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected archived session to retain its 1 event, found %d", len(events))
	}
}
