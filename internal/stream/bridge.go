package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/btouchard/courier/internal/middleware"
	"github.com/btouchard/courier/internal/notify"
)

// Bridge proxies an authenticated user's stream from a relay running in
// another process. Frames are forwarded in order; malformed ones are
// logged and skipped.
type Bridge struct {
	upstream string
	token    string
	client   *http.Client
	opts     Options
}

// NewBridge targets the relay at upstreamURL. client may be nil; it must
// not carry an overall timeout since the upstream response never ends on
// its own.
func NewBridge(upstreamURL, internalToken string, client *http.Client, opts Options) *Bridge {
	if client == nil {
		client = &http.Client{}
	}
	return &Bridge{
		upstream: strings.TrimRight(upstreamURL, "/"),
		token:    internalToken,
		client:   client,
		opts:     opts,
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Upstream lives exactly as long as the downstream request.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	resp, err := b.open(ctx, userID)
	if err != nil {
		slog.Warn("upstream stream unavailable", "user_id", userID, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("upstream refused stream", "user_id", userID, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	sink := newSSESink(w, b.opts.WriteTimeout)
	defer sink.close()
	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = http.NewResponseController(w).Flush()

	done := make(chan error, 1)
	go func() { done <- relayFrames(userID, resp.Body, sink) }()

	var tick <-chan time.Time
	if b.opts.Heartbeat > 0 {
		ticker := time.NewTicker(b.opts.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("bridged stream closed by client", "user_id", userID)
			return
		case err := <-done:
			if errors.Is(err, io.EOF) {
				slog.Info("upstream stream ended", "user_id", userID)
			} else {
				slog.Warn("bridged stream failed", "user_id", userID, "error", err)
			}
			return
		case <-sink.Failed():
			slog.Debug("bridged stream write failed", "user_id", userID)
			return
		case <-tick:
			if err := sink.heartbeat(); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) open(ctx context.Context, userID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.upstream+notify.StreamPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(notify.HeaderUserID, userID)
	req.Header.Set(notify.HeaderInternalToken, b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting upstream: %w", err)
	}
	return resp, nil
}

// relayFrames copies frames from body to sink until either side fails.
// io.EOF means upstream closed cleanly.
func relayFrames(userID string, body io.Reader, sink notify.Sink) error {
	fr := notify.NewFrameReader(body)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			if malformed, ok := errors.AsType[*notify.MalformedFrameError](err); ok {
				slog.Warn("skipping malformed upstream frame",
					"user_id", userID,
					"reason", malformed.Reason)
				continue
			}
			return err
		}
		if err := sink.WriteFrame(f); err != nil {
			return fmt.Errorf("writing downstream: %w", err)
		}
	}
}
