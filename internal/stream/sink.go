package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/btouchard/courier/internal/notify"
)

var errSinkClosed = errors.New("stream closed")

// sinkState is the bookkeeping shared by every sink: one writer at a
// time, a closed flag checked under the same lock, and a channel closed
// on the first failed write.
type sinkState struct {
	mu       sync.Mutex
	closed   bool
	failed   chan struct{}
	failOnce sync.Once
}

func newSinkState() sinkState {
	return sinkState{failed: make(chan struct{})}
}

// Failed is closed after the first write error.
func (s *sinkState) Failed() <-chan struct{} { return s.failed }

func (s *sinkState) fail() {
	s.failOnce.Do(func() { close(s.failed) })
}

// close makes every later write fail. Callers must not hold s.mu.
func (s *sinkState) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// sseSink writes frames to an http.ResponseWriter in text/event-stream form.
type sseSink struct {
	sinkState
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newSSESink(w http.ResponseWriter, writeTimeout time.Duration) *sseSink {
	return &sseSink{
		sinkState: newSinkState(),
		w:         w,
		rc:        http.NewResponseController(w),
		timeout:   writeTimeout,
	}
}

func (s *sseSink) WriteFrame(f notify.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(f.Bytes())
}

func (s *sseSink) heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(notify.Heartbeat)
}

func (s *sseSink) writeLocked(b []byte) error {
	if s.closed {
		return errSinkClosed
	}
	if s.timeout > 0 {
		// Not every writer supports deadlines (e.g. recorders in tests).
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if _, err := s.w.Write(b); err != nil {
		s.fail()
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.fail()
		return err
	}
	return nil
}

// wsSink writes one frame per WebSocket text message.
type wsSink struct {
	sinkState
	conn    *websocket.Conn
	timeout time.Duration
}

func newWSSink(conn *websocket.Conn, writeTimeout time.Duration) *wsSink {
	return &wsSink{sinkState: newSinkState(), conn: conn, timeout: writeTimeout}
}

func (s *wsSink) WriteFrame(f notify.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(websocket.TextMessage, f.Bytes())
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(websocket.PingMessage, nil)
}

func (s *wsSink) writeLocked(messageType int, b []byte) error {
	if s.closed {
		return errSinkClosed
	}
	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if err := s.conn.WriteMessage(messageType, b); err != nil {
		s.fail()
		return err
	}
	return nil
}
