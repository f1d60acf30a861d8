package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/relay/internal/model"
)

// ListEnvironments handles GET /environments.
func (h *Handler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := h.store.ListEnvironments(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, envs)
}

// GetEnvironment handles GET /environments/:id.
func (h *Handler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := h.store.GetEnvironment(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, env)
}

type createEnvironmentRequest struct {
	Name            string  `json:"name"`
	SandboxType     string  `json:"sandboxType"`
	Image           string  `json:"image"`
	RemoteWorkerURL string  `json:"remoteWorkerUrl"`
	SecretID        *string `json:"secretId"`
	ResourceTier    string  `json:"resourceTier"`
	IsDefault       bool    `json:"isDefault"`
}

// CreateEnvironment handles POST /environments.
func (h *Handler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req createEnvironmentRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.SandboxType {
	case model.EnvironmentTypeMock, model.EnvironmentTypeLocalContainer, model.EnvironmentTypeRemoteWorker:
	default:
		h.Error(w, http.StatusBadRequest, "sandboxType must be one of mock, local-container, remote-worker")
		return
	}

	env := &model.Environment{
		Name:            req.Name,
		SandboxType:     req.SandboxType,
		Image:           req.Image,
		RemoteWorkerURL: req.RemoteWorkerURL,
		SecretID:        req.SecretID,
		ResourceTier:    req.ResourceTier,
		IsDefault:       req.IsDefault,
	}
	if err := h.store.CreateEnvironment(r.Context(), env); err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusCreated, env)
}

// DeleteEnvironment handles DELETE /environments/:id.
func (h *Handler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteEnvironment(r.Context(), id); err != nil {
		h.notFoundOrError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
