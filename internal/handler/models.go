package handler

import "net/http"

// ListModels handles GET /models?provider=anthropic&provider=openai.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, modelsForProviders(r.URL.Query()["provider"]))
}
