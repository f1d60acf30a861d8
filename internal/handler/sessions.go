package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/model"
	"github.com/relaycore/relay/internal/service"
	"github.com/relaycore/relay/internal/store"
)

// sessionView is the REST-facing projection of model.Session.
type sessionView struct {
	ID             string  `json:"id"`
	Mode           string  `json:"mode"`
	Status         string  `json:"status"`
	RepoID         *string `json:"repoId,omitempty"`
	WorkingPath    string  `json:"workingPath,omitempty"`
	Branch         string  `json:"branch,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	ModelProvider  string  `json:"modelProvider,omitempty"`
	ModelID        string  `json:"modelId,omitempty"`
	ErrorReason    string  `json:"errorReason,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	LastActivityAt string  `json:"lastActivityAt"`
}

func toSessionView(s *model.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		Mode:           s.Mode,
		Status:         s.Status,
		RepoID:         s.RepoID,
		WorkingPath:    s.WorkingPath,
		Branch:         s.Branch,
		Provider:       s.Provider,
		ModelProvider:  s.ModelProvider,
		ModelID:        s.ModelID,
		ErrorReason:    s.ErrorReason,
		CreatedAt:      s.CreatedAt.Format(timeFormat),
		LastActivityAt: s.LastActivityAt.Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]sessionView, len(sessions))
	for i := range sessions {
		views[i] = toSessionView(&sessions[i])
	}
	h.JSON(w, http.StatusOK, views)
}

type createSessionRequest struct {
	Mode         string  `json:"mode"`
	RepoID       *string `json:"repoId"`
	WorkingPath  string  `json:"workingPath"`
	Branch       string  `json:"branch"`
	SystemPrompt string  `json:"systemPrompt"`
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessions.Create(r.Context(), service.CreateSessionInput{
		Mode:         req.Mode,
		RepoID:       req.RepoID,
		WorkingPath:  req.WorkingPath,
		Branch:       req.Branch,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMode), errors.Is(err, service.ErrCodeModeNeedsRepo):
			h.Error(w, http.StatusBadRequest, err.Error())
		default:
			h.Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.JSON(w, http.StatusCreated, toSessionView(sess))
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, toSessionView(sess))
}

// ActivateSession handles POST /sessions/:id/activate. This is the
// only REST operation that blocks, per §4.7, bounded by the service's
// configured activation timeout.
func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lastSeq, err := h.sessions.Activate(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.Error(w, http.StatusNotFound, "session not found")
		case errors.Is(err, service.ErrActivationTimedOut):
			h.Error(w, http.StatusGatewayTimeout, err.Error())
		default:
			h.Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.JSON(w, http.StatusOK, map[string]int64{"lastSeq": lastSeq})
}

// DeleteSession handles DELETE /sessions/:id.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.notFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveSession handles POST /sessions/:id/archive.
func (h *Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Archive(r.Context(), id); err != nil {
		h.notFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSessionHistory handles GET /sessions/:id/history?limit=N, per the
// supplemented surface (§6.1): journal.getRecent over a query limit.
func (h *Handler) GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.journal.GetRecent(r.Context(), id, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, events)
}

// GetSessionEvents handles GET /sessions/:id/events?afterSeq=N,
// returning both the events after the cursor and the session's current
// max seq so a caller knows where to resume from next.
func (h *Handler) GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var afterSeq int64
	if v := r.URL.Query().Get("afterSeq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}
	events, err := h.journal.GetAfterSeq(r.Context(), id, afterSeq, 0)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	maxSeq, err := h.journal.GetMaxSeq(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, sessionEventsResponse{Events: events, LastSeq: maxSeq})
}

type sessionEventsResponse struct {
	Events  []journal.Event `json:"events"`
	LastSeq int64           `json:"lastSeq"`
}

// ServeSessionRPC upgrades GET /sessions/:id/rpc to the WebSocket RPC
// bridge (§4.6).
func (h *Handler) ServeSessionRPC(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.bridge.ServeHTTP(w, r, id)
}

func (h *Handler) notFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "not found")
		return
	}
	h.Error(w, http.StatusInternalServerError, err.Error())
}
