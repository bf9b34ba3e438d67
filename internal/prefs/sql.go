package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// SQLStore backs preferences with SQLite or Postgres. One row per user,
// upserted in place.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	initOnce sync.Once
	initErr  error
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, postgres: true}
}

func (s *SQLStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		timestamp := "TIMESTAMP"
		if s.postgres {
			timestamp = "TIMESTAMPTZ"
		}
		_, s.initErr = s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS user_preferences (
				user_id TEXT PRIMARY KEY,
				model TEXT,
				hitl_level TEXT,
				updated_at %s NOT NULL
			)`, timestamp))
	})
	return s.initErr
}

func (s *SQLStore) Get(ctx context.Context, userID string) (*models.UserPreferences, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("prefs: init schema: %w", err)
	}
	query := `SELECT user_id, model, hitl_level, updated_at FROM user_preferences WHERE user_id = ?`
	if s.postgres {
		query = `SELECT user_id, model, hitl_level, updated_at FROM user_preferences WHERE user_id = $1`
	}
	var p models.UserPreferences
	var model, level sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &model, &level, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: read preferences: %w", err)
	}
	if model.Valid {
		p.Model = &model.String
	}
	if level.Valid {
		l := models.HitlLevel(level.String)
		p.HitlLevel = &l
	}
	return &p, nil
}

func (s *SQLStore) Upsert(ctx context.Context, prefs *models.UserPreferences) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("prefs: init schema: %w", err)
	}
	var model, level any
	if prefs.Model != nil {
		model = *prefs.Model
	}
	if prefs.HitlLevel != nil {
		level = string(*prefs.HitlLevel)
	}
	now := time.Now().UTC()

	query := `INSERT INTO user_preferences (user_id, model, hitl_level, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			model = excluded.model,
			hitl_level = excluded.hitl_level,
			updated_at = excluded.updated_at`
	if s.postgres {
		query = `INSERT INTO user_preferences (user_id, model, hitl_level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			model = EXCLUDED.model,
			hitl_level = EXCLUDED.hitl_level,
			updated_at = EXCLUDED.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, query, prefs.UserID, model, level, now); err != nil {
		return fmt.Errorf("prefs: upsert preferences: %w", err)
	}
	prefs.UpdatedAt = now
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
