package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/btouchard/courier/internal/middleware"
	"github.com/btouchard/courier/internal/notify"
)

// maxClientMessage caps what a client may send us; the socket is push-only.
const maxClientMessage = 512

// WebSocketEndpoint is Endpoint over a WebSocket: each frame is sent as
// one text message carrying the same bytes as the event-stream form, and
// pings replace heartbeat comments.
type WebSocketEndpoint struct {
	registry *notify.Registry
	opts     Options
	upgrader websocket.Upgrader
	newID    func() string
}

// NewWebSocketEndpoint returns a WebSocketEndpoint backed by registry.
func NewWebSocketEndpoint(registry *notify.Registry, opts Options) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		newID: uuid.NewString,
	}
}

func (e *WebSocketEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		slog.Debug("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	connID := e.newID()
	sink := newWSSink(conn, e.opts.WriteTimeout)

	sink.mu.Lock()
	if err := e.registry.Register(userID, connID, sink); err != nil {
		sink.closed = true
		sink.mu.Unlock()
		slog.Error("cannot register websocket", "user_id", userID, "error", err)
		return
	}
	err = sink.writeLocked(websocket.TextMessage, notify.HandshakeFrame(connID).Bytes())
	sink.mu.Unlock()

	release := sync.OnceFunc(func() {
		sink.close()
		e.registry.Unregister(userID, connID)
	})
	defer release()

	if err != nil {
		return
	}

	readDone := make(chan struct{})
	go e.readPump(conn, readDone)

	var tick <-chan time.Time
	if e.opts.Heartbeat > 0 {
		ticker := time.NewTicker(e.opts.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-readDone:
			slog.Debug("websocket closed by client", "connection_id", connID)
			return
		case <-sink.Failed():
			return
		case <-r.Context().Done():
			return
		case <-tick:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages so control frames are processed and a
// close or broken socket is noticed.
func (e *WebSocketEndpoint) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxClientMessage)
	if e.opts.Heartbeat > 0 {
		wait := 2 * e.opts.Heartbeat
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
