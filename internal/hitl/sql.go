package hitl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLStore backs tokens with SQLite or Postgres. Both support
// DELETE ... RETURNING, which gives the redeem its atomicity: the row is
// gone before anyone sees its state.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	initOnce sync.Once
	initErr  error
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// NewPostgresStore wraps an open Postgres handle.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, postgres: true}
}

// init creates the table on first use.
func (s *SQLStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		timestamp := "TIMESTAMP"
		if s.postgres {
			timestamp = "TIMESTAMPTZ"
		}
		_, s.initErr = s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS hitl_paused (
				token TEXT PRIMARY KEY,
				state TEXT NOT NULL,
				expires_at %s NOT NULL,
				created_at %s NOT NULL
			)`, timestamp, timestamp))
	})
	return s.initErr
}

func (s *SQLStore) placeholder(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Put(ctx context.Context, token string, state []byte, expiresAt time.Time) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("hitl: init schema: %w", err)
	}
	query := fmt.Sprintf(
		"INSERT INTO hitl_paused (token, state, expires_at, created_at) VALUES (%s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := s.db.ExecContext(ctx, query, token, string(state), expiresAt.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("hitl: insert pause: %w", err)
	}
	return nil
}

func (s *SQLStore) Take(ctx context.Context, token string) ([]byte, time.Time, error) {
	if err := s.init(ctx); err != nil {
		return nil, time.Time{}, fmt.Errorf("hitl: init schema: %w", err)
	}
	query := fmt.Sprintf(
		"DELETE FROM hitl_paused WHERE token = %s RETURNING state, expires_at",
		s.placeholder(1))
	var state string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, query, token).Scan(&state, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("hitl: delete pause: %w", err)
	}
	return []byte(state), expiresAt, nil
}

// DeleteExpired removes rows past their expiry. The engine schedules this.
func (s *SQLStore) DeleteExpired(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("hitl: init schema: %w", err)
	}
	query := fmt.Sprintf("DELETE FROM hitl_paused WHERE expires_at < %s", s.placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC()); err != nil {
		return fmt.Errorf("hitl: delete expired: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
