package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/relay/internal/model"
)

func TestCreateAndGetSession(t *testing.T) {
	r := newTestRouter(t)

	body := `{"mode":"chat"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var created sessionView
	decodeEnvelope(t, rr, &created)
	if created.Mode != "chat" {
		t.Fatalf("created.Mode = %q, want chat", created.Mode)
	}
	if created.Status != model.SessionStatusCreating {
		t.Fatalf("created.Status = %q, want %q", created.Status, model.SessionStatusCreating)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID+"/", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get session: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var fetched sessionView
	decodeEnvelope(t, rr, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("fetched.ID = %q, want %q", fetched.ID, created.ID)
	}
}

func TestCreateSessionInvalidMode(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/", strings.NewReader(`{"mode":"bogus"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || *env.Error == "" {
		t.Fatalf("expected a non-empty error message, got %+v", env)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist/", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rr.Code, rr.Body.String())
	}
}

// TestSessionEventsEmptySession is scenario S1: a freshly created
// session has no events and lastSeq=0.
func TestSessionEventsEmptySession(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/", strings.NewReader(`{"mode":"chat"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var created sessionView
	decodeEnvelope(t, rr, &created)

	req = httptest.NewRequest(http.MethodGet, "/sessions/"+created.ID+"/events", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get events: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp sessionEventsResponse
	decodeEnvelope(t, rr, &resp)
	if len(resp.Events) != 0 {
		t.Fatalf("resp.Events = %v, want empty", resp.Events)
	}
	if resp.LastSeq != 0 {
		t.Fatalf("resp.LastSeq = %d, want 0", resp.LastSeq)
	}
}

// TestDeleteSessionCascadesEvents is scenario S5: deleting a session
// removes its journal rows entirely, leaving getMaxSeq at 0.
func TestDeleteSessionCascadesEvents(t *testing.T) {
	h := newTestHandler(t)
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/sessions/", strings.NewReader(`{"mode":"chat"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var created sessionView
	decodeEnvelope(t, rr, &created)

	if _, err := h.journal.Append(req.Context(), created.ID, "msg", []byte(`{"type":"msg"}`)); err != nil {
		t.Fatalf("journal.Append: %v", err)
	}
	if _, err := h.journal.Append(req.Context(), created.ID, "msg", []byte(`{"type":"msg"}`)); err != nil {
		t.Fatalf("journal.Append: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+created.ID+"/", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete session: status = %d, body = %s", rr.Code, rr.Body.String())
	}

	maxSeq, err := h.journal.GetMaxSeq(req.Context(), created.ID)
	if err != nil {
		t.Fatalf("GetMaxSeq: %v", err)
	}
	if maxSeq != 0 {
		t.Fatalf("GetMaxSeq after delete = %d, want 0", maxSeq)
	}

	events, err := h.journal.GetAfterSeq(req.Context(), created.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetAfterSeq: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events after delete = %v, want none", events)
	}
}
