package rpcbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relaycore/relay/internal/connset"
	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/sandbox/mock"
	"github.com/relaycore/relay/internal/sessionlock"
	"github.com/relaycore/relay/internal/store"
)

// setupTestBridge wires a Bridge over an in-memory store, a mock
// sandbox already attached and running, and one active session.
func setupTestBridge(t *testing.T) (*Bridge, *store.Store, string) {
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
	ctx := context.Background()
	handle, err := provider.Create(ctx, sandbox.CreateConfig{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("provider.Create: %v", err)
	}
	if _, err := provider.Resume(ctx, handle, nil); err != nil {
		t.Fatalf("provider.Resume: %v", err)
	}

	resolve := func(ctx context.Context, sessionID string) (sandbox.Handle, error) {
		return handle, nil
	}
	mgr := sandbox.NewManager(resolve, provider)

	sess := &model.Session{
		ID:         "sess-1",
		Mode:       model.SessionModeChat,
		Status:     model.SessionStatusActive,
		Provider:   handle.Provider,
		ProviderID: handle.ProviderID,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	b := New(Config{
		Manager: mgr,
		Journal: j,
		Conns:   connset.NewRegistry(),
		Locks:   sessionlock.NewRegistry(),
		LookupSess: func(ctx context.Context, sessionID string) (*model.Session, error) {
			return s.GetSession(ctx, sessionID)
		},
		Touch: func(ctx context.Context, sessionID string) error {
			return s.TouchSession(ctx, sessionID)
		},
	})
	return b, s, sess.ID
}

func dialTestServer(t *testing.T, b *Bridge, sessionID, query string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeHTTP(w, r, sessionID)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestBridge_ConnectedEventFirst(t *testing.T) {
	b, _, sessionID := setupTestBridge(t)
	conn := dialTestServer(t, b, sessionID, "")
	defer conn.Close()

	var ev lifecycleEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != "connected" {
		t.Fatalf("expected connected event first, got %q", ev.Type)
	}
	if ev.SessionID != sessionID {
		t.Fatalf("expected sessionId %q, got %q", sessionID, ev.SessionID)
	}
}

func TestBridge_PromptEchoesAndJournals(t *testing.T) {
	b, s, sessionID := setupTestBridge(t)
	conn := dialTestServer(t, b, sessionID, "")
	defer conn.Close()

	var connected lifecycleEvent
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("ReadJSON connected: %v", err)
	}

	prompt := map[string]interface{}{"type": "prompt", "message": "hi"}
	if err := conn.WriteJSON(prompt); err != nil {
		t.Fatalf("WriteJSON prompt: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var echo map[string]interface{}
	if err := conn.ReadJSON(&echo); err != nil {
		t.Fatalf("ReadJSON echo: %v", err)
	}
	if echo["type"] != "echo" {
		t.Fatalf("expected echo event from mock agent, got %v", echo)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		maxSeq, err := s.MaxSeq(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("MaxSeq: %v", err)
		}
		if maxSeq >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 2 journaled events (prompt + echo), got maxSeq=%d", maxSeq)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBridge_UnknownCommandYieldsError(t *testing.T) {
	b, _, sessionID := setupTestBridge(t)
	conn := dialTestServer(t, b, sessionID, "")
	defer conn.Close()

	var connected lifecycleEvent
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("ReadJSON connected: %v", err)
	}

	if err := conn.WriteJSON(map[string]string{"type": "not_a_real_command"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev lifecycleEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON error event: %v", err)
	}
	if ev.Type != "error" || ev.Code != "INVALID_COMMAND" {
		t.Fatalf("expected INVALID_COMMAND error, got %+v", ev)
	}
}

func TestBridge_RejectsUnknownSession(t *testing.T) {
	b, _, _ := setupTestBridge(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.ServeHTTP(w, r, "does-not-exist")
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, CloseSessionNotFound) {
		t.Fatalf("expected close code %d, got %v", CloseSessionNotFound, err)
	}
}

func TestBridge_ConnectedReportsMaxSeqWithoutReplayCursor(t *testing.T) {
	b, s, sessionID := setupTestBridge(t)
	ctx := context.Background()

	if _, err := s.AppendEvent(ctx, sessionID, "note", []byte(`{"type":"note","n":1}`)); err != nil {
		t.Fatalf("AppendEvent 1: %v", err)
	}
	if _, err := s.AppendEvent(ctx, sessionID, "note", []byte(`{"type":"note","n":2}`)); err != nil {
		t.Fatalf("AppendEvent 2: %v", err)
	}

	conn := dialTestServer(t, b, sessionID, "lastSeq=0")
	defer conn.Close()

	var connected lifecycleEvent
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("ReadJSON connected: %v", err)
	}
	if connected.LastSeq != 2 {
		t.Fatalf("expected connected.lastSeq=2, got %d", connected.LastSeq)
	}

	// lastSeq=0 in the query string means "no replay cursor supplied",
	// so no replay frames are expected here; verify direct history
	// instead via the journal.
	events, err := s.EventsAfter(ctx, sessionID, 0, 0)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in journal, got %d", len(events))
	}
}

func TestBridge_ReplayBetweenLastSeqAndCurrent(t *testing.T) {
	b, s, sessionID := setupTestBridge(t)
	ctx := context.Background()

	if _, err := s.AppendEvent(ctx, sessionID, "note", []byte(`{"type":"note","n":1}`)); err != nil {
		t.Fatalf("AppendEvent 1: %v", err)
	}
	if _, err := s.AppendEvent(ctx, sessionID, "note", []byte(`{"type":"note","n":2}`)); err != nil {
		t.Fatalf("AppendEvent 2: %v", err)
	}
	if _, err := s.AppendEvent(ctx, sessionID, "note", []byte(`{"type":"note","n":3}`)); err != nil {
		t.Fatalf("AppendEvent 3: %v", err)
	}

	conn := dialTestServer(t, b, sessionID, "lastSeq=1")
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var connected lifecycleEvent
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("ReadJSON connected: %v", err)
	}

	var start lifecycleEvent
	if err := conn.ReadJSON(&start); err != nil {
		t.Fatalf("ReadJSON replay_start: %v", err)
	}
	if start.Type != "replay_start" {
		t.Fatalf("expected replay_start, got %q", start.Type)
	}

	var seen []map[string]interface{}
	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("ReadJSON replay frame: %v", err)
		}
		var probe map[string]interface{}
		if err := json.Unmarshal(raw, &probe); err != nil {
			t.Fatalf("unmarshal replay frame: %v", err)
		}
		if probe["type"] == "replay_end" {
			break
		}
		seen = append(seen, probe)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 replayed events (seq 2, 3), got %d", len(seen))
	}
}
