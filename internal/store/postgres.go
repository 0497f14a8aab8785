package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgMigrations = []string{
	`CREATE TABLE users (
		id         text PRIMARY KEY,
		username   text NOT NULL UNIQUE,
		name       text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL
	)`,
	`CREATE TABLE game_invites (
		id           text PRIMARY KEY,
		from_user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		to_user_id   text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message      text NOT NULL DEFAULT '',
		status       text NOT NULL DEFAULT 'pending',
		created_at   timestamptz NOT NULL,
		updated_at   timestamptz NOT NULL
	)`,
	`CREATE INDEX idx_game_invites_to ON game_invites(to_user_id, status)`,
	`CREATE INDEX idx_game_invites_from ON game_invites(from_user_id, status)`,
	`CREATE UNIQUE INDEX idx_game_invites_one_pending
		ON game_invites(from_user_id, to_user_id) WHERE status = 'pending'`,
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version integer PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(pgMigrations); i++ {
		slog.Info("applying migration", "driver", "postgres", "version", i+1)
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, pgMigrations[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", i+1)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *UserRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (id, username, name, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.Name, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting user: %w", pgErr(err))
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	var u UserRecord
	err := s.pool.QueryRow(ctx, `SELECT id, username, name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, pgErr(err))
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, excludeID string, limit int) ([]UserRecord, error) {
	query := "SELECT id, username, name, created_at FROM users WHERE id <> $1 ORDER BY username"
	args := []any{excludeID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateInvite(ctx context.Context, inv *InviteRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO game_invites (`+inviteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.FromUserID, inv.ToUserID, inv.Message, inv.Status,
		inv.CreatedAt.UTC(), inv.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting invite: %w", pgErr(err))
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, id string) (*InviteRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM game_invites WHERE id = $1`, id)
	inv, err := scanPgInvite(row)
	if err != nil {
		return nil, fmt.Errorf("getting invite %s: %w", id, pgErr(err))
	}
	return inv, nil
}

func (s *PostgresStore) FindPendingInvite(ctx context.Context, fromUserID, toUserID string) (*InviteRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+inviteColumns+` FROM game_invites
		WHERE from_user_id = $1 AND to_user_id = $2 AND status = $3`,
		fromUserID, toUserID, StatusPending)
	inv, err := scanPgInvite(row)
	if err != nil {
		return nil, fmt.Errorf("finding pending invite: %w", pgErr(err))
	}
	return inv, nil
}

func (s *PostgresStore) AnswerInvite(ctx context.Context, id, status string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE game_invites SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		status, at.UTC(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("answering invite: %w", pgErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists int
	if err := s.pool.QueryRow(ctx, `SELECT 1 FROM game_invites WHERE id = $1`, id).Scan(&exists); err != nil {
		return fmt.Errorf("answering invite %s: %w", id, pgErr(err))
	}
	return fmt.Errorf("answering invite %s: %w", id, ErrConflict)
}

func (s *PostgresStore) ListInvites(ctx context.Context, f InviteFilter) ([]InviteRecord, error) {
	query := "SELECT " + inviteColumns + " FROM game_invites WHERE true"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.FromUserID != "" {
		query += " AND from_user_id = " + arg(f.FromUserID)
	}
	if f.ToUserID != "" {
		query += " AND to_user_id = " + arg(f.ToUserID)
	}
	if f.Status != "" {
		query += " AND status = " + arg(f.Status)
	}

	query += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	var invites []InviteRecord
	for rows.Next() {
		inv, err := scanPgInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		invites = append(invites, *inv)
	}
	return invites, rows.Err()
}

func scanPgInvite(row pgx.Row) (*InviteRecord, error) {
	var inv InviteRecord
	if err := row.Scan(&inv.ID, &inv.FromUserID, &inv.ToUserID, &inv.Message, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

// pgErr maps driver errors onto the package sentinels.
func pgErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if pe, ok := errors.AsType[*pgconn.PgError](err); ok && pe.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pe.ConstraintName)
	}
	return err
}
