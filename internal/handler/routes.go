package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaycore/relay/internal/routes"
)

// Mount registers every REST route onto r, recording each with Meta
// for the "/routes" introspection endpoint.
func (h *Handler) Mount(r chi.Router) {
	reg := routes.GetRegistry()

	reg.Register(r, routes.Route{
		Method: "GET", Pattern: "/health", Handler: h.GetHealth,
		Meta: routes.Meta{Group: "Health", Description: "Store connectivity and registered sandbox providers"},
	})

	reg.Register(r, routes.Route{
		Method: "GET", Pattern: "/routes", Handler: func(w http.ResponseWriter, _ *http.Request) {
			h.JSON(w, http.StatusOK, routes.All())
		},
		Meta: routes.Meta{Group: "Health", Description: "Route introspection"},
	})

	r.Route("/sessions", func(r chi.Router) {
		sreg := reg.WithPrefix("/sessions")
		sreg.Register(r, routes.Route{
			Method: "GET", Pattern: "/", Handler: h.ListSessions,
			Meta: routes.Meta{Group: "Sessions", Description: "List sessions"},
		})
		sreg.Register(r, routes.Route{
			Method: "POST", Pattern: "/", Handler: h.CreateSession,
			Meta: routes.Meta{Group: "Sessions", Description: "Create a session"},
		})
		r.Route("/{id}", func(r chi.Router) {
			idReg := sreg.WithPrefix("/{id}")
			idReg.Register(r, routes.Route{
				Method: "GET", Pattern: "/", Handler: h.GetSession,
				Meta: routes.Meta{Group: "Sessions", Description: "Get a session", Params: []routes.Param{{Name: "id"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "DELETE", Pattern: "/", Handler: h.DeleteSession,
				Meta: routes.Meta{Group: "Sessions", Description: "Hard-delete a session and its events", Params: []routes.Param{{Name: "id"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "POST", Pattern: "/activate", Handler: h.ActivateSession,
				Meta: routes.Meta{Group: "Sessions", Description: "Activate a session (blocks until ready)", Params: []routes.Param{{Name: "id"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "POST", Pattern: "/archive", Handler: h.ArchiveSession,
				Meta: routes.Meta{Group: "Sessions", Description: "Archive a session, retaining its events", Params: []routes.Param{{Name: "id"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "GET", Pattern: "/history", Handler: h.GetSessionHistory,
				Meta: routes.Meta{Group: "Sessions", Description: "Recent journal events", Params: []routes.Param{{Name: "id"}, {Name: "limit", In: "query", Example: "100"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "GET", Pattern: "/events", Handler: h.GetSessionEvents,
				Meta: routes.Meta{Group: "Sessions", Description: "Journal events after a seq cursor", Params: []routes.Param{{Name: "id"}, {Name: "afterSeq", In: "query", Example: "0"}}},
			})
			idReg.Register(r, routes.Route{
				Method: "GET", Pattern: "/rpc", Handler: h.ServeSessionRPC,
				Meta: routes.Meta{Group: "Sessions", Description: "WebSocket RPC bridge", Params: []routes.Param{{Name: "id"}, {Name: "lastSeq", In: "query"}}},
			})
		})
	})

	r.Route("/repos", func(r chi.Router) {
		rreg := reg.WithPrefix("/repos")
		rreg.Register(r, routes.Route{
			Method: "GET", Pattern: "/", Handler: h.ListRepos,
			Meta: routes.Meta{Group: "Repos", Description: "List synced repos"},
		})
		rreg.Register(r, routes.Route{
			Method: "GET", Pattern: "/{id}", Handler: h.GetRepo,
			Meta: routes.Meta{Group: "Repos", Description: "Get a repo", Params: []routes.Param{{Name: "id"}}},
		})
	})

	r.Route("/environments", func(r chi.Router) {
		ereg := reg.WithPrefix("/environments")
		ereg.Register(r, routes.Route{
			Method: "GET", Pattern: "/", Handler: h.ListEnvironments,
			Meta: routes.Meta{Group: "Environments", Description: "List environments"},
		})
		ereg.Register(r, routes.Route{
			Method: "POST", Pattern: "/", Handler: h.CreateEnvironment,
			Meta: routes.Meta{Group: "Environments", Description: "Create an environment"},
		})
		ereg.Register(r, routes.Route{
			Method: "GET", Pattern: "/{id}", Handler: h.GetEnvironment,
			Meta: routes.Meta{Group: "Environments", Description: "Get an environment", Params: []routes.Param{{Name: "id"}}},
		})
		ereg.Register(r, routes.Route{
			Method: "DELETE", Pattern: "/{id}", Handler: h.DeleteEnvironment,
			Meta: routes.Meta{Group: "Environments", Description: "Delete an environment", Params: []routes.Param{{Name: "id"}}},
		})
	})

	r.Route("/secrets", func(r chi.Router) {
		screg := reg.WithPrefix("/secrets")
		screg.Register(r, routes.Route{
			Method: "GET", Pattern: "/", Handler: h.ListSecrets,
			Meta: routes.Meta{Group: "Secrets", Description: "List secrets (metadata only, never plaintext)"},
		})
		screg.Register(r, routes.Route{
			Method: "POST", Pattern: "/", Handler: h.CreateSecret,
			Meta: routes.Meta{Group: "Secrets", Description: "Create a secret"},
		})
		screg.Register(r, routes.Route{
			Method: "DELETE", Pattern: "/{id}", Handler: h.DeleteSecret,
			Meta: routes.Meta{Group: "Secrets", Description: "Delete a secret", Params: []routes.Param{{Name: "id"}}},
		})
	})

	reg.Register(r, routes.Route{
		Method: "GET", Pattern: "/models", Handler: h.ListModels,
		Meta: routes.Meta{Group: "Models", Description: "List selectable models", Params: []routes.Param{{Name: "provider", In: "query"}}},
	})
}
