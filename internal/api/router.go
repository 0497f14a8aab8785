// Package api assembles the HTTP surface of courier: the invite
// resources, the client notification streams, the internal relay API and
// the health check.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/courier/internal/invite"
	"github.com/btouchard/courier/internal/middleware"
	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/stream"
)

// Paths served to end clients.
const (
	InvitesPath      = "/resources/game-invites"
	ClientStreamPath = "/resources/notifications/stream"
	ClientSocketPath = "/resources/notifications/ws"
	MCPPath          = "/mcp"
	HealthPath       = "/health"
)

// Deps holds what the router wires together. Exactly one of Registry
// (this process owns connections) or Bridge (connections live on a relay
// elsewhere) must be set.
type Deps struct {
	Invites    *invite.Service
	Sessions   middleware.TokenVerifier
	CookieName string

	Registry *notify.Registry
	Bridge   http.Handler

	// InternalToken enables the relay API used by front ends. Only
	// meaningful together with Registry.
	InternalToken string
	Stream        stream.Options
	WebSocket     bool

	RequestsPerMinute int
	Burst             int

	// MCP is optional.
	MCP http.Handler
}

// NewRouter builds the chi router. ctx bounds background work such as the
// rate limiter janitor.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders)

	r.Get(HealthPath, health(d.Registry))

	var clientStream http.Handler = d.Bridge
	if d.Registry != nil {
		clientStream = stream.NewEndpoint(d.Registry, d.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.Sessions, d.CookieName))

		if clientStream != nil {
			r.Method(http.MethodGet, ClientStreamPath, clientStream)
		}
		if d.Registry != nil && d.WebSocket {
			r.Method(http.MethodGet, ClientSocketPath, stream.NewWebSocketEndpoint(d.Registry, d.Stream))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(ctx, d.RequestsPerMinute, d.Burst))

			inv := &invitesHandler{svc: d.Invites}
			r.Get(InvitesPath, inv.overview)
			r.Post(InvitesPath, inv.action)

			if d.MCP != nil {
				r.Handle(MCPPath, d.MCP)
			}
		})
	})

	if d.Registry != nil && d.InternalToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.InternalAuth(d.InternalToken))
			r.Method(http.MethodGet, notify.StreamPath, stream.NewEndpoint(d.Registry, d.Stream))
			r.Method(http.MethodPost, notify.SendPath, stream.SendHandler(d.Registry))
		})
	}

	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections *int   `json:"connections,omitempty"`
}

func health(reg *notify.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if reg != nil {
			n := reg.CountAll()
			resp.Connections = &n
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
