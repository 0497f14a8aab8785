// Package stream serves long-lived notification streams to clients: the
// relay-side endpoint that owns registered connections, the bridge that
// proxies a user's stream from a relay in another process, and the
// internal send API.
package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/courier/internal/middleware"
	"github.com/btouchard/courier/internal/notify"
)

// Options tunes a stream handler. Zero values disable the feature.
type Options struct {
	// Heartbeat is the interval between keep-alive comments.
	Heartbeat time.Duration
	// WriteTimeout bounds every single write to the client.
	WriteTimeout time.Duration
}

// Endpoint accepts an authenticated user's stream and registers it in the
// registry until the client goes away or a write fails.
type Endpoint struct {
	registry *notify.Registry
	opts     Options
	newID    func() string
}

// NewEndpoint returns an Endpoint backed by registry.
func NewEndpoint(registry *notify.Registry, opts Options) *Endpoint {
	return &Endpoint{registry: registry, opts: opts, newID: uuid.NewString}
}

func setStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID := e.newID()
	sink := newSSESink(w, e.opts.WriteTimeout)
	setStreamHeaders(w)

	// Hold the sink while registering so no event can overtake the handshake.
	sink.mu.Lock()
	if err := e.registry.Register(userID, connID, sink); err != nil {
		sink.closed = true
		sink.mu.Unlock()
		slog.Error("cannot register stream", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	err := sink.writeLocked(notify.HandshakeFrame(connID).Bytes())
	sink.mu.Unlock()

	release := sync.OnceFunc(func() {
		sink.close()
		e.registry.Unregister(userID, connID)
	})
	defer release()

	if err != nil {
		slog.Debug("handshake write failed", "connection_id", connID, "error", err)
		return
	}

	reason := e.pump(r, sink)
	slog.Debug("stream closed", "user_id", userID, "connection_id", connID, "reason", reason)
}

// pump blocks until the stream ends and reports why.
func (e *Endpoint) pump(r *http.Request, sink *sseSink) string {
	var tick <-chan time.Time
	if e.opts.Heartbeat > 0 {
		ticker := time.NewTicker(e.opts.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return "client gone"
		case <-sink.Failed():
			return "write failed"
		case <-tick:
			if err := sink.heartbeat(); err != nil {
				return "heartbeat failed"
			}
		}
	}
}
