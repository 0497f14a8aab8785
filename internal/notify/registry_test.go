package notify

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records frames and can be told to fail.
type fakeSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *fakeSink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSink) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func testEvent(id string) Event {
	return NewEvent(KindInviteOffered, id, "user-a", "alice", "user-b", "fancy a game?", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestRegistry_SendToUser_WhenTwoConnections_DeliversToBoth(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s1, s2 := &fakeSink{}, &fakeSink{}

	require.NoError(t, r.Register("u", "c1", s1))
	require.NoError(t, r.Register("u", "c2", s2))

	ev := testEvent("inv-1")
	delivered := r.SendToUser("u", ev)

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, r.CountForUser("u"))

	want, err := EncodeEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, []Frame{want}, s1.received())
	assert.Equal(t, []Frame{want}, s2.received())
}

func TestRegistry_Unregister_StopsDeliveryToThatConnection(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s1, s2 := &fakeSink{}, &fakeSink{}
	require.NoError(t, r.Register("u", "c1", s1))
	require.NoError(t, r.Register("u", "c2", s2))

	r.Unregister("u", "c1")

	assert.Equal(t, 1, r.SendToUser("u", testEvent("inv-1")))
	assert.Empty(t, s1.received())
	assert.Len(t, s2.received(), 1)
	assert.Equal(t, 1, r.CountForUser("u"))
}

func TestRegistry_Unregister_WhenUnknown_IsNoop(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("u", "c1", &fakeSink{}))

	assert.NotPanics(t, func() {
		r.Unregister("u", "missing")
		r.Unregister("nobody", "c1")
		r.Unregister("nobody", "missing")
	})

	assert.Equal(t, 1, r.CountForUser("u"))
	assert.Equal(t, 1, r.CountAll())
}

func TestRegistry_Unregister_WhenTwice_IsNoop(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("u", "c1", &fakeSink{}))

	r.Unregister("u", "c1")
	r.Unregister("u", "c1")

	assert.Equal(t, 0, r.CountAll())
}

func TestRegistry_Unregister_WhenLastConnection_RemovesUserBucket(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("u", "c1", &fakeSink{}))

	r.Unregister("u", "c1")

	r.mu.Lock()
	_, ok := r.users["u"]
	r.mu.Unlock()
	assert.False(t, ok, "empty bucket must not be retained")
}

func TestRegistry_SendToUser_WhenNoConnections_ReturnsZero(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	assert.Equal(t, 0, r.SendToUser("offline", testEvent("inv-1")))
	assert.Equal(t, 0, r.CountAll())
	assert.Equal(t, 0, r.CountForUser("offline"))
}

func TestRegistry_SendToUser_WhenOneSinkFails_DropsItAndDeliversToOthers(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	ok1, broken, ok2 := &fakeSink{}, &fakeSink{err: errors.New("broken pipe")}, &fakeSink{}
	require.NoError(t, r.Register("u", "c1", ok1))
	require.NoError(t, r.Register("u", "c2", broken))
	require.NoError(t, r.Register("u", "c3", ok2))

	delivered := r.SendToUser("u", testEvent("inv-1"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, r.CountForUser("u"))
	assert.Len(t, ok1.received(), 1)
	assert.Len(t, ok2.received(), 1)

	// The broken connection is gone: later sends don't touch it.
	assert.Equal(t, 2, r.SendToUser("u", testEvent("inv-2")))
}

func TestRegistry_Register_WhenDuplicateConnectionID_ReturnsError(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("u1", "c1", &fakeSink{}))

	err := r.Register("u2", "c1", &fakeSink{})

	require.ErrorIs(t, err, ErrDuplicateConnection)
	assert.Equal(t, 0, r.CountForUser("u2"))
	assert.Equal(t, 1, r.CountAll())
}

func TestRegistry_SendToUser_OnlyReachesTargetUser(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	mine, theirs := &fakeSink{}, &fakeSink{}
	require.NoError(t, r.Register("me", "c1", mine))
	require.NoError(t, r.Register("them", "c2", theirs))

	r.SendToUser("me", testEvent("inv-1"))

	assert.Len(t, mine.received(), 1)
	assert.Empty(t, theirs.received())
	assert.Equal(t, 2, r.CountAll())
}

func TestRegistry_SendToUser_PreservesCallOrderPerConnection(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := &fakeSink{}
	require.NoError(t, r.Register("u", "c1", s))

	for i := range 20 {
		r.SendToUser("u", testEvent(fmt.Sprintf("inv-%02d", i)))
	}

	frames := s.received()
	require.Len(t, frames, 20)
	for i, f := range frames {
		ev, err := DecodeEvent(f)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("inv-%02d", i), ev.ID())
	}
}

func TestRegistry_ConcurrentRegisterAndSend_IsSafe(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_ = r.Register("u", id, &fakeSink{})
			r.Unregister("u", id)
		}()
		go func() {
			defer wg.Done()
			r.SendToUser("u", testEvent("inv"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.CountAll())
}

func TestRegistry_Notify_ReturnsDeliveredCount(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("u", "c1", &fakeSink{}))

	n, err := r.Notify(t.Context(), "u", testEvent("inv-1"))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
