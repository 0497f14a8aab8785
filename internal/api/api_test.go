package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/courier/internal/auth"
	"github.com/btouchard/courier/internal/invite"
	"github.com/btouchard/courier/internal/notify"
	"github.com/btouchard/courier/internal/store"
	"github.com/btouchard/courier/internal/stream"
	"github.com/btouchard/courier/internal/subscriber"
)

const (
	testCookie   = "courier_session"
	testInternal = "relay-secret"
)

type testEnv struct {
	url      string
	registry *notify.Registry
	sessions *auth.Sessions
	store    store.Store
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.CreateUser(context.Background(), &store.UserRecord{
			ID: name, Username: name, CreatedAt: time.Now(),
		}))
	}
	return st
}

// newRelayEnv starts a process that owns the registry.
func newRelayEnv(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	reg := notify.NewRegistry()
	sessions := auth.NewSessions([]byte("0123456789abcdef0123456789abcdef"), time.Hour)

	h := NewRouter(t.Context(), Deps{
		Invites:           invite.NewService(st, reg),
		Sessions:          sessions,
		CookieName:        testCookie,
		Registry:          reg,
		InternalToken:     testInternal,
		WebSocket:         true,
		RequestsPerMinute: 600,
		Burst:             100,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{url: srv.URL, registry: reg, sessions: sessions, store: st}
}

// newFrontEnv starts a front end bridging to relay and dispatching
// through its internal send API.
func newFrontEnv(t *testing.T, st store.Store, relay *testEnv) *testEnv {
	t.Helper()
	h := NewRouter(t.Context(), Deps{
		Invites:           invite.NewService(st, notify.NewRemoteNotifier(relay.url, testInternal, nil)),
		Sessions:          relay.sessions,
		CookieName:        testCookie,
		Bridge:            stream.NewBridge(relay.url, testInternal, nil, stream.Options{}),
		RequestsPerMinute: 600,
		Burst:             100,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{url: srv.URL, sessions: relay.sessions, store: st}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.sessions.Issue(userID)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) subscribe(t *testing.T, userID string) *subscriber.Subscriber {
	t.Helper()
	s, err := subscriber.Dial(t.Context(), e.url+ClientStreamPath,
		subscriber.WithHeader("Cookie", testCookie+"="+e.token(t, userID)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Eventually(t, func() bool { return s.ConnectionID() != "" }, 2*time.Second, 10*time.Millisecond)
	return s
}

func (e *testEnv) postForm(t *testing.T, userID string, form url.Values) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.url+InvitesPath, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+e.token(t, userID))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func waitForNotifications(t *testing.T, s *subscriber.Subscriber, n int) []notify.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Notifications()) >= n },
		3*time.Second, 10*time.Millisecond, "expected %d notifications", n)
	return s.Notifications()
}

func sendForm(to, message string) url.Values {
	return url.Values{"intent": {"send"}, "toUserId": {to}, "message": {message}}
}

func respondForm(inviteID, action string) url.Values {
	return url.Values{"intent": {"respond"}, "inviteId": {inviteID}, "action": {action}}
}

func TestRelay_InviteOffered_ReachesEveryRecipientTab(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))
	tab1 := env.subscribe(t, "bob")
	tab2 := env.subscribe(t, "bob")
	onlooker := env.subscribe(t, "carol")

	status, body := env.postForm(t, "alice", sendForm("bob", "chess at 8?"))
	require.Equal(t, http.StatusOK, status, body)
	inviteID := body["invite"].(map[string]any)["id"].(string)

	for _, tab := range []*subscriber.Subscriber{tab1, tab2} {
		got := waitForNotifications(t, tab, 1)
		require.Len(t, got, 1)
		p := got[0].Payload()
		assert.Equal(t, notify.KindInviteOffered, got[0].Kind())
		assert.Equal(t, inviteID, p.ID)
		assert.Equal(t, "alice", p.FromID)
		assert.Equal(t, "alice", p.FromUsername)
		assert.Equal(t, "bob", p.ToID)
		assert.Equal(t, "chess at 8?", p.Message)
	}
	assert.Empty(t, onlooker.Notifications())

	tab1.Dismiss(inviteID)
	assert.Empty(t, tab1.Notifications())
	assert.Len(t, tab2.Notifications(), 1, "dismissing is local to one subscriber")
}

func TestRelay_InviteAccepted_NotifiesSender(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))
	alice := env.subscribe(t, "alice")

	status, body := env.postForm(t, "alice", sendForm("bob", ""))
	require.Equal(t, http.StatusOK, status, body)
	inviteID := body["invite"].(map[string]any)["id"].(string)

	status, body = env.postForm(t, "bob", respondForm(inviteID, "accept"))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "accept", body["action"])

	waitForNotifications(t, alice, 1)
	// Give a stray second event time to arrive before counting.
	time.Sleep(100 * time.Millisecond)
	got := alice.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, notify.KindInviteAccepted, got[0].Kind())
	assert.Equal(t, inviteID, got[0].ID())
	assert.Equal(t, "bob", got[0].Payload().FromID)
	assert.Equal(t, "bob", got[0].Payload().FromUsername)
	assert.Equal(t, "alice", got[0].Payload().ToID)
}

func TestRelay_InviteToOfflineUser_Succeeds(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))

	status, body := env.postForm(t, "alice", sendForm("bob", ""))

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 0, env.registry.CountAll())
}

func TestInvites_ErrorMapping(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))
	status, body := env.postForm(t, "alice", sendForm("bob", ""))
	require.Equal(t, http.StatusOK, status)
	inviteID := body["invite"].(map[string]any)["id"].(string)

	tests := []struct {
		name   string
		user   string
		form   url.Values
		status int
		msg    string
	}{
		{"unknown intent", "alice", url.Values{"intent": {"dance"}}, http.StatusBadRequest, "Invalid intent"},
		{"send without recipient", "alice", url.Values{"intent": {"send"}}, http.StatusBadRequest, "Invalid data"},
		{"unknown recipient", "alice", sendForm("zed", ""), http.StatusNotFound, "User not found"},
		{"already pending", "alice", sendForm("bob", ""), http.StatusBadRequest, "Invite already sent"},
		{"bad action", "bob", respondForm(inviteID, "maybe"), http.StatusBadRequest, "Invalid data"},
		{"unknown invite", "bob", respondForm("nope", "accept"), http.StatusNotFound, "Invite not found"},
		{"not recipient", "carol", respondForm(inviteID, "accept"), http.StatusForbidden, "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.postForm(t, tt.user, tt.form)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, body["error"])
		})
	}

	status, _ = env.postForm(t, "bob", respondForm(inviteID, "reject"))
	require.Equal(t, http.StatusOK, status)
	status, body = env.postForm(t, "bob", respondForm(inviteID, "accept"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invite already responded to", body["error"])
}

func TestInvites_AcceptsJSONBody(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, env.url+InvitesPath,
		strings.NewReader(`{"intent":"send","toUserId":"bob","message":"json"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token(t, "alice"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvites_Overview(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))
	status, _ := env.postForm(t, "alice", sendForm("bob", "hi"))
	require.Equal(t, http.StatusOK, status)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.url+InvitesPath, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "bob"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var ov invite.Overview
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ov))
	assert.Equal(t, "bob", ov.UserID)
	require.Len(t, ov.Received, 1)
	assert.Equal(t, "alice", ov.Received[0].FromUsername)
	assert.Len(t, ov.Users, 2)
}

func TestClientStream_WhenUnauthenticated_Returns401(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))

	_, err := subscriber.Dial(t.Context(), env.url+ClientStreamPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = subscriber.Dial(t.Context(), env.url+ClientStreamPath, subscriber.WithToken("forged"))
	require.Error(t, err)
	assert.Equal(t, 0, env.registry.CountAll())
}

func TestHealth_ReportsConnections(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))
	env.subscribe(t, "bob")

	resp, err := http.Get(env.url + HealthPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestInternalRoutes_RequireToken(t *testing.T) {
	t.Parallel()
	env := newRelayEnv(t, newTestStore(t))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, env.url+notify.SendPath, strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFrontEnd_BridgesStreamAndDispatchesThroughRelay(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	relay := newRelayEnv(t, st)
	front := newFrontEnv(t, st, relay)

	bob := front.subscribe(t, "bob")
	require.Eventually(t, func() bool { return relay.registry.CountForUser("bob") == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body := front.postForm(t, "alice", sendForm("bob", "via bridge"))
	require.Equal(t, http.StatusOK, status, body)

	got := waitForNotifications(t, bob, 1)
	assert.Equal(t, notify.KindInviteOffered, got[0].Kind())
	assert.Equal(t, "via bridge", got[0].Payload().Message)

	require.NoError(t, bob.Close())
	assert.Eventually(t, func() bool { return relay.registry.CountAll() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFrontEnd_HealthOmitsConnections(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	front := newFrontEnv(t, st, newRelayEnv(t, st))

	resp, err := http.Get(front.url + HealthPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "connections")
}

func TestFrontEnd_DoesNotExposeInternalRoutes(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	front := newFrontEnv(t, st, newRelayEnv(t, st))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, front.url+notify.SendPath, strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set(notify.HeaderInternalToken, testInternal)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
