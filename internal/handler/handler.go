// Package handler implements the REST Surface of §4.7: one HTTP
// handler per resource, every response wrapped in the {data, error}
// envelope, wired to the Session Service, Store, and Sandbox Manager.
//
// Grounded on the reference server's internal/handler/handler.go
// (Handler struct wiring multiple services, JSON/Error/DecodeJSON
// helpers) with the cookie/OAuth-session machinery dropped entirely:
// this relay has no HTTP-edge auth layer (§1 Non-goals).
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/relaycore/relay/internal/crypto"
	"github.com/relaycore/relay/internal/journal"
	"github.com/relaycore/relay/internal/providers"
	"github.com/relaycore/relay/internal/rpcbridge"
	"github.com/relaycore/relay/internal/sandbox"
	"github.com/relaycore/relay/internal/service"
	"github.com/relaycore/relay/internal/store"
)

// Handler holds every collaborator the REST surface calls into.
type Handler struct {
	store    *store.Store
	journal  *journal.Journal
	sessions *service.SessionService
	sandbox  *sandbox.Manager
	bridge   *rpcbridge.Bridge
	enc      *crypto.KeyedEncryptor
}

// New wires a Handler over the relay's already-constructed services.
func New(s *store.Store, j *journal.Journal, sessions *service.SessionService, mgr *sandbox.Manager, bridge *rpcbridge.Bridge, enc *crypto.KeyedEncryptor) *Handler {
	return &Handler{store: s, journal: j, sessions: sessions, sandbox: mgr, bridge: bridge, enc: enc}
}

// envelope is the uniform {data, error} response shape of §4.7.
type envelope struct {
	Data  interface{} `json:"data"`
	Error *string     `json:"error"`
}

// JSON writes data wrapped in the envelope with error set to null.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// Error writes a null-data envelope carrying message as the error.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &message})
}

// DecodeJSON decodes the request body into v.
func (h *Handler) DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// modelsForProviders is a package-level indirection over the static
// catalog in internal/providers, narrowed to the requested provider
// IDs (all models if none given).
var modelsForProviders = providers.ForProviders
