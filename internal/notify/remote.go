package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Headers used between a front end and the relay.
const (
	HeaderUserID        = "X-User-Id"
	HeaderInternalToken = "X-Internal-Token"
)

// Relay paths.
const (
	StreamPath = "/api/notifications/stream"
	SendPath   = "/api/notifications/send"
)

// SendRequest is the body of the internal send API.
type SendRequest struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}

// SendResponse is returned by the internal send API.
type SendResponse struct {
	Delivered int `json:"delivered"`
}

// RemoteNotifier submits events to a relay running in another process.
type RemoteNotifier struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteNotifier targets the relay at baseURL. client may be nil.
func NewRemoteNotifier(baseURL, internalToken string, client *http.Client) *RemoteNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		client:  client,
	}
}

func (n *RemoteNotifier) Notify(ctx context.Context, userID string, ev Event) (int, error) {
	body, err := json.Marshal(SendRequest{UserID: userID, Event: ev})
	if err != nil {
		return 0, fmt.Errorf("encoding send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+SendPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderInternalToken, n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("posting event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("relay answered %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding send response: %w", err)
	}
	return out.Delivered, nil
}
