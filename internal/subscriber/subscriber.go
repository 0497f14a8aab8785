// Package subscriber consumes a notification stream on behalf of a
// client and keeps the list of notifications that have not been
// dismissed yet.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/btouchard/courier/internal/notify"
)

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithHTTPClient sets the client used to open the stream. It must not
// carry an overall timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Subscriber) { s.client = c }
}

// WithToken authenticates with a bearer session token.
func WithToken(token string) Option {
	return func(s *Subscriber) { s.header.Set("Authorization", "Bearer "+token) }
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(s *Subscriber) { s.header.Add(key, value) }
}

// WithOnEvent registers fn to be called for every notification appended
// to the pending list. fn runs on the read goroutine.
func WithOnEvent(fn func(notify.Event)) Option {
	return func(s *Subscriber) { s.onEvent = fn }
}

// Subscriber holds one open stream. It never reconnects; once Done is
// closed the caller decides whether to Dial again.
type Subscriber struct {
	client  *http.Client
	header  http.Header
	onEvent func(notify.Event)

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	connID    string
	pending   []notify.Event
	err       error
}

// Dial opens the stream at url and starts reading it in the background.
// The stream stays open until ctx is cancelled, Close is called, or the
// server ends it.
func Dial(ctx context.Context, url string, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		client: &http.Client{},
		header: make(http.Header),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header = s.header.Clone()
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("opening stream: server answered %d", resp.StatusCode)
	}

	s.cancel = cancel
	s.connected = true
	go s.run(ctx, resp.Body)
	return s, nil
}

func (s *Subscriber) run(ctx context.Context, body io.ReadCloser) {
	defer close(s.done)
	defer func() { _ = body.Close() }()

	fr := notify.NewFrameReader(body)
	var err error
	for {
		var f notify.Frame
		f, err = fr.ReadFrame()
		if err != nil {
			if malformed, ok := errors.AsType[*notify.MalformedFrameError](err); ok {
				slog.Warn("skipping malformed frame", "reason", malformed.Reason)
				continue
			}
			break
		}
		s.handle(f)
	}

	s.mu.Lock()
	s.connected = false
	if !errors.Is(err, io.EOF) && ctx.Err() == nil {
		s.err = err
	}
	s.mu.Unlock()
	slog.Debug("notification stream ended", "error", err)
}

func (s *Subscriber) handle(f notify.Frame) {
	if f.Event == "" {
		if id, ok := notify.ParseHandshake(f); ok {
			s.mu.Lock()
			s.connID = id
			s.mu.Unlock()
			slog.Debug("notification stream ready", "connection_id", id)
		}
		return
	}

	ev, err := notify.DecodeEvent(f)
	if err != nil {
		if errors.Is(err, notify.ErrUnknownKind) {
			slog.Debug("ignoring unknown event", "event", f.Event)
			return
		}
		slog.Warn("dropping undecodable event", "event", f.Event, "error", err)
		return
	}

	switch ev.Kind() {
	case notify.KindInviteOffered:
		slog.Info("invite received", "invite_id", ev.ID(), "from", ev.Payload().FromUsername)
	case notify.KindInviteAccepted:
		slog.Info("invite accepted", "invite_id", ev.ID(), "by", ev.Payload().FromUsername)
	case notify.KindInviteDeclined:
		slog.Info("invite declined", "invite_id", ev.ID(), "by", ev.Payload().FromUsername)
	default:
		return
	}
	s.add(ev)
}

func (s *Subscriber) add(ev notify.Event) {
	s.mu.Lock()
	dup := slices.ContainsFunc(s.pending, func(p notify.Event) bool {
		return p.Kind() == ev.Kind() && p.ID() == ev.ID()
	})
	if !dup {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()

	if !dup && s.onEvent != nil {
		s.onEvent(ev)
	}
}

// Notifications returns the pending notifications in arrival order.
func (s *Subscriber) Notifications() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Connected reports whether the stream is open.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ConnectionID returns the ID announced by the server, or "" before the
// handshake arrives.
func (s *Subscriber) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// Dismiss removes every pending notification about invite id.
func (s *Subscriber) Dismiss(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = slices.DeleteFunc(s.pending, func(ev notify.Event) bool { return ev.ID() == id })
}

// Clear empties the pending list.
func (s *Subscriber) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Close releases the stream and waits for the read loop to exit.
func (s *Subscriber) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Done is closed when the stream has ended for any reason.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err reports why the stream ended, or nil after a clean end or Close.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
