package handler

import "net/http"

type healthView struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

// GetHealth handles GET /health: store connectivity and the
// registered sandbox provider names, per §6.1.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListSessions(r.Context()); err != nil {
		h.Error(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	h.JSON(w, http.StatusOK, healthView{Status: "ok", Providers: h.sandbox.ProviderNames()})
}
