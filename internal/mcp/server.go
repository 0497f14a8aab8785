package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/courier/internal/mcp/handlers"
	"github.com/btouchard/courier/internal/middleware"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Invites handlers.Invites
	// Connections is nil unless this process holds the registry.
	Connections handlers.ConnectionCounter
	Version     string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Courier",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}

// sessionHeader carries the MCP session ID on streamable HTTP requests.
const sessionHeader = "Mcp-Session-Id"

// SessionBinder learns which user owns an MCP session.
type SessionBinder interface {
	Bind(userID, sessionID string)
}

// NewHTTPHandler serves s over streamable HTTP. The authenticated user
// set by the session middleware is carried into every tool call. When
// binder is non-nil, the session ID issued by an initialize response is
// bound to the user who initialized it.
func NewHTTPHandler(s *server.MCPServer, binder SessionBinder) http.Handler {
	h := server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return middleware.WithUserID(ctx, middleware.UserIDFromContext(r.Context()))
		}),
	)
	return bindIssuedSessions(h, binder)
}

// bindIssuedSessions binds only session IDs the server hands out. A
// session ID presented by the client proves nothing about ownership.
func bindIssuedSessions(next http.Handler, binder SessionBinder) http.Handler {
	if binder == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" || r.Header.Get(sessionHeader) != "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(&issuedSessionWriter{ResponseWriter: w, bind: func(id string) {
			binder.Bind(userID, id)
		}}, r)
	})
}

// issuedSessionWriter reports the session header once, as the response
// headers are committed.
type issuedSessionWriter struct {
	http.ResponseWriter
	bind    func(sessionID string)
	written bool
}

func (w *issuedSessionWriter) commit() {
	if w.written {
		return
	}
	w.written = true
	if id := w.Header().Get(sessionHeader); id != "" {
		w.bind(id)
	}
}

func (w *issuedSessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *issuedSessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *issuedSessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *issuedSessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
