package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed width and UTC so that text ordering is chronological.
const timeFormat = "2006-01-02T15:04:05.000000Z"

const memoryPath = ":memory:"

var migrations = []string{
	`CREATE TABLE users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE game_invites (
		id           TEXT PRIMARY KEY,
		from_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		to_user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message      TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'pending',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX idx_game_invites_to ON game_invites(to_user_id, status)`,
	`CREATE INDEX idx_game_invites_from ON game_invites(from_user_id, status)`,
	`CREATE UNIQUE INDEX idx_game_invites_one_pending
		ON game_invites(from_user_id, to_user_id) WHERE status = 'pending'`,
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
// Pass ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != memoryPath {
		if err := prepareFile(path); err != nil {
			return nil, err
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func prepareFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	// Pre-create the file with restrictive permissions if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("creating database file: %w", err)
		}
		_ = f.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "driver", "sqlite", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *UserRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.Name, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting user: %w", sqliteErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	var u UserRecord
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, username, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Name, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, sqliteErr(err))
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, excludeID string, limit int) ([]UserRecord, error) {
	query := "SELECT id, username, name, created_at FROM users WHERE id != ? ORDER BY username"
	args := []any{excludeID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []UserRecord
	for rows.Next() {
		var u UserRecord
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Invites ---

const inviteColumns = "id, from_user_id, to_user_id, message, status, created_at, updated_at"

func (s *SQLiteStore) CreateInvite(ctx context.Context, inv *InviteRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO game_invites (`+inviteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.FromUserID, inv.ToUserID, inv.Message, inv.Status,
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting invite: %w", sqliteErr(err))
	}
	return nil
}

func (s *SQLiteStore) GetInvite(ctx context.Context, id string) (*InviteRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM game_invites WHERE id = ?`, id)
	inv, err := scanInvite(row)
	if err != nil {
		return nil, fmt.Errorf("getting invite %s: %w", id, sqliteErr(err))
	}
	return inv, nil
}

func (s *SQLiteStore) FindPendingInvite(ctx context.Context, fromUserID, toUserID string) (*InviteRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM game_invites
		WHERE from_user_id = ? AND to_user_id = ? AND status = ?`,
		fromUserID, toUserID, StatusPending)
	inv, err := scanInvite(row)
	if err != nil {
		return nil, fmt.Errorf("finding pending invite: %w", sqliteErr(err))
	}
	return inv, nil
}

func (s *SQLiteStore) AnswerInvite(ctx context.Context, id, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE game_invites SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, formatTime(at), id, StatusPending)
	if err != nil {
		return fmt.Errorf("answering invite: %w", sqliteErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("answering invite: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM game_invites WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("answering invite %s: %w", id, sqliteErr(err))
	}
	return fmt.Errorf("answering invite %s: %w", id, ErrConflict)
}

func (s *SQLiteStore) ListInvites(ctx context.Context, f InviteFilter) ([]InviteRecord, error) {
	query := "SELECT " + inviteColumns + " FROM game_invites WHERE 1=1"
	var args []any

	if f.FromUserID != "" {
		query += " AND from_user_id = ?"
		args = append(args, f.FromUserID)
	}
	if f.ToUserID != "" {
		query += " AND to_user_id = ?"
		args = append(args, f.ToUserID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}

	query += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var invites []InviteRecord
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanInvite(row scanner) (*InviteRecord, error) {
	var inv InviteRecord
	var createdAt, updatedAt string

	err := row.Scan(&inv.ID, &inv.FromUserID, &inv.ToUserID, &inv.Message, &inv.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return &inv, nil
}

// sqliteErr maps driver errors onto the package sentinels.
func sqliteErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
