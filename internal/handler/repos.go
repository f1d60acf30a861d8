package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListRepos handles GET /repos. Repo rows are populated out-of-band by
// the GitHub sync (internal/repo/github), not created through this
// endpoint — the REST surface only reads the cache.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListRepos(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, repos)
}

// GetRepo handles GET /repos/:id.
func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo, err := h.store.GetRepo(r.Context(), id)
	if err != nil {
		h.notFoundOrError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, repo)
}
