package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaycore/relay/internal/model"
)

// secretView never includes ciphertext or plaintext (model.Secret's
// own comment: "never returned in plaintext via REST").
type secretView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	KeyVersion int    `json:"keyVersion"`
}

func toSecretView(s *model.Secret) secretView {
	return secretView{ID: s.ID, Kind: s.Kind, Name: s.Name, KeyVersion: s.KeyVersion}
}

// ListSecrets handles GET /secrets.
func (h *Handler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.store.ListSecrets(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]secretView, len(secrets))
	for i := range secrets {
		views[i] = toSecretView(&secrets[i])
	}
	h.JSON(w, http.StatusOK, views)
}

type createSecretRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CreateSecret handles POST /secrets: the plaintext value is encrypted
// immediately and never stored or logged unencrypted.
func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req createSecretRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.Kind {
	case model.SecretKindAIProvider, model.SecretKindEnvVar, model.SecretKindSandboxProvider:
	default:
		h.Error(w, http.StatusBadRequest, "kind must be one of aiProvider, envVar, sandboxProvider")
		return
	}

	id := uuid.NewString()
	ciphertext, err := h.enc.Encrypt([]byte(req.Value), secretAAD(id, req.Kind))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "encrypt secret: "+err.Error())
		return
	}

	secret := &model.Secret{
		ID:         id,
		Kind:       req.Kind,
		Name:       req.Name,
		Ciphertext: ciphertext,
		KeyVersion: h.enc.Version,
	}
	if err := h.store.CreateSecret(r.Context(), secret); err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusCreated, toSecretView(secret))
}

// DeleteSecret handles DELETE /secrets/:id.
func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteSecret(r.Context(), id); err != nil {
		h.notFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// secretAAD binds a secret's ciphertext to its own id and kind, so a
// ciphertext blob copied onto a different row (or re-keyed under a
// different kind) fails to decrypt instead of silently succeeding.
func secretAAD(id, kind string) []byte {
	return []byte(kind + ":" + id)
}
