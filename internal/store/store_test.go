package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(memoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUsers(t *testing.T, s Store, names ...string) {
	t.Helper()
	for i, name := range names {
		require.NoError(t, s.CreateUser(context.Background(), &UserRecord{
			ID:        "user-" + name,
			Username:  name,
			Name:      "Player " + name,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func pendingInvite(id, from, to string, at time.Time) *InviteRecord {
	return &InviteRecord{
		ID:         id,
		FromUserID: "user-" + from,
		ToUserID:   "user-" + to,
		Message:    "game?",
		Status:     StatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// storeContract exercises behaviour every Store implementation shares.
func storeContract(t *testing.T, open func(t *testing.T) Store, parallel bool) {
	run := func(name string, fn func(t *testing.T, s Store)) {
		t.Run(name, func(t *testing.T) {
			if parallel {
				t.Parallel()
			}
			fn(t, open(t))
		})
	}

	run("CreateAndGetUser", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice")

		got, err := s.GetUser(t.Context(), "user-alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "Player alice", got.Name)
		assert.True(t, t0.Equal(got.CreatedAt))
	})

	run("GetUser_WhenMissing_ReturnsErrNotFound", func(t *testing.T, s Store) {
		_, err := s.GetUser(t.Context(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	run("CreateUser_WhenUsernameTaken_ReturnsErrDuplicate", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice")
		err := s.CreateUser(t.Context(), &UserRecord{ID: "other", Username: "alice", CreatedAt: t0})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	run("ListUsers_ExcludesCallerAndHonoursLimit", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob", "carol", "dave")

		users, err := s.ListUsers(t.Context(), "user-bob", 0)
		require.NoError(t, err)
		var names []string
		for _, u := range users {
			names = append(names, u.Username)
		}
		assert.Equal(t, []string{"alice", "carol", "dave"}, names)

		users, err = s.ListUsers(t.Context(), "user-bob", 2)
		require.NoError(t, err)
		assert.Len(t, users, 2)
	})

	run("CreateAndGetInvite", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-1", "alice", "bob", t0)))

		got, err := s.GetInvite(t.Context(), "inv-1")
		require.NoError(t, err)
		assert.Equal(t, "user-alice", got.FromUserID)
		assert.Equal(t, "user-bob", got.ToUserID)
		assert.Equal(t, "game?", got.Message)
		assert.Equal(t, StatusPending, got.Status)
		assert.True(t, t0.Equal(got.CreatedAt))
	})

	run("GetInvite_WhenMissing_ReturnsErrNotFound", func(t *testing.T, s Store) {
		_, err := s.GetInvite(t.Context(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	run("CreateInvite_WhenPendingPairExists_ReturnsErrDuplicate", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-1", "alice", "bob", t0)))

		err := s.CreateInvite(t.Context(), pendingInvite("inv-2", "alice", "bob", t0.Add(time.Second)))
		assert.ErrorIs(t, err, ErrDuplicate)

		// The reverse direction is a different pair.
		assert.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-3", "bob", "alice", t0)))
	})

	run("FindPendingInvite_IgnoresAnsweredInvites", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-1", "alice", "bob", t0)))

		found, err := s.FindPendingInvite(t.Context(), "user-alice", "user-bob")
		require.NoError(t, err)
		assert.Equal(t, "inv-1", found.ID)

		require.NoError(t, s.AnswerInvite(t.Context(), "inv-1", StatusAccepted, t0.Add(time.Minute)))

		_, err = s.FindPendingInvite(t.Context(), "user-alice", "user-bob")
		assert.ErrorIs(t, err, ErrNotFound)

		// Once answered, a new invite for the same pair is allowed.
		assert.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-2", "alice", "bob", t0.Add(2*time.Minute))))
	})

	run("AnswerInvite_SetsStatusAndTime", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-1", "alice", "bob", t0)))

		at := t0.Add(5 * time.Minute)
		require.NoError(t, s.AnswerInvite(t.Context(), "inv-1", StatusRejected, at))

		got, err := s.GetInvite(t.Context(), "inv-1")
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, got.Status)
		assert.True(t, at.Equal(got.UpdatedAt))
	})

	run("AnswerInvite_WhenAlreadyAnswered_ReturnsErrConflict", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-1", "alice", "bob", t0)))
		require.NoError(t, s.AnswerInvite(t.Context(), "inv-1", StatusAccepted, t0.Add(time.Minute)))

		err := s.AnswerInvite(t.Context(), "inv-1", StatusRejected, t0.Add(2*time.Minute))

		require.ErrorIs(t, err, ErrConflict)
		got, err := s.GetInvite(t.Context(), "inv-1")
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, got.Status)
	})

	run("AnswerInvite_WhenMissing_ReturnsErrNotFound", func(t *testing.T, s Store) {
		err := s.AnswerInvite(t.Context(), "nope", StatusAccepted, t0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	run("ListInvites_FiltersAndOrdersNewestFirst", func(t *testing.T, s Store) {
		seedUsers(t, s, "alice", "bob", "carol")
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-old", "alice", "bob", t0)))
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-new", "carol", "bob", t0.Add(time.Hour))))
		require.NoError(t, s.CreateInvite(t.Context(), pendingInvite("inv-out", "bob", "alice", t0.Add(30*time.Minute))))
		require.NoError(t, s.AnswerInvite(t.Context(), "inv-out", StatusAccepted, t0.Add(time.Hour)))

		received, err := s.ListInvites(t.Context(), InviteFilter{ToUserID: "user-bob", Status: StatusPending})
		require.NoError(t, err)
		require.Len(t, received, 2)
		assert.Equal(t, "inv-new", received[0].ID)
		assert.Equal(t, "inv-old", received[1].ID)

		sent, err := s.ListInvites(t.Context(), InviteFilter{FromUserID: "user-bob", Status: StatusPending})
		require.NoError(t, err)
		assert.Empty(t, sent)

		limited, err := s.ListInvites(t.Context(), InviteFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "inv-new", limited[0].ID)
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()
	storeContract(t, func(t *testing.T) Store { return newTestStore(t) }, true)
}

func TestSQLiteStore_Migration_CreatesTablesAndVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var version int
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestSQLiteStore_Reopen_KeepsDataAndSkipsMigrations(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "courier.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	seedUsers(t, s, "alice")
	require.NoError(t, s.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.GetUser(t.Context(), "user-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestOpen_WhenUnknownDriver_ReturnsError(t *testing.T) {
	t.Parallel()
	_, err := Open(t.Context(), "mysql", "", "")
	assert.Error(t, err)
}

func TestOpen_WhenSQLite_ReturnsSQLiteStore(t *testing.T) {
	t.Parallel()
	s, err := Open(t.Context(), DriverSQLite, memoryPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.IsType(t, &SQLiteStore{}, s)
}

// PostgreSQL runs only against a disposable database.
func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("COURIER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COURIER_TEST_POSTGRES_DSN not set")
	}

	s, err := NewPostgresStore(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storeContract(t, func(t *testing.T) Store {
		_, err := s.pool.Exec(t.Context(), "TRUNCATE game_invites, users")
		require.NoError(t, err, "truncating before %s", t.Name())
		return s
	}, false)
}
