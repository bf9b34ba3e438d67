package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// SQLStore backs prompt versions with SQLite or Postgres. Activation runs as
// a two-statement transaction (deactivate all, activate target) so the
// single-active invariant holds even under concurrent activations.
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
		idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
		timestamp := "TIMESTAMP"
		if s.postgres {
			idCol = "id BIGSERIAL PRIMARY KEY"
			timestamp = "TIMESTAMPTZ"
		}
		_, s.initErr = s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS prompt_versions (
				%s,
				version TEXT NOT NULL,
				content TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				notes TEXT,
				created_at %s NOT NULL,
				activated_at %s
			)`, idCol, timestamp, timestamp))
	})
	return s.initErr
}

func (s *SQLStore) ph(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Create(ctx context.Context, version, content, notes string) (*models.PromptVersion, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("prompts: init schema: %w", err)
	}
	now := time.Now().UTC()
	v := &models.PromptVersion{Version: version, Content: content, Notes: notes, CreatedAt: now}

	if s.postgres {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO prompt_versions (version, content, notes, created_at)
			VALUES ($1, $2, $3, $4) RETURNING id`,
			version, content, notes, now).Scan(&v.ID)
		if err != nil {
			return nil, fmt.Errorf("prompts: create version: %w", err)
		}
		return v, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (version, content, notes, created_at)
		VALUES (?, ?, ?, ?)`, version, content, notes, now)
	if err != nil {
		return nil, fmt.Errorf("prompts: create version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("prompts: read insert id: %w", err)
	}
	return v, nil
}

func (s *SQLStore) List(ctx context.Context) ([]models.PromptVersion, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("prompts: init schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, content, is_active, COALESCE(notes, ''), created_at, activated_at
		FROM prompt_versions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("prompts: list versions: %w", err)
	}
	defer rows.Close()

	var out []models.PromptVersion
	for rows.Next() {
		var v models.PromptVersion
		var activatedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.Version, &v.Content, &v.IsActive, &v.Notes,
			&v.CreatedAt, &activatedAt); err != nil {
			return nil, err
		}
		if activatedAt.Valid {
			t := activatedAt.Time
			v.ActivatedAt = &t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*models.PromptVersion, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("prompts: init schema: %w", err)
	}
	query := fmt.Sprintf(`
		SELECT id, version, content, is_active, COALESCE(notes, ''), created_at, activated_at
		FROM prompt_versions WHERE id = %s`, s.ph(1))
	var v models.PromptVersion
	var activatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.Version, &v.Content, &v.IsActive, &v.Notes, &v.CreatedAt, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("prompts: get version: %w", err)
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		v.ActivatedAt = &t
	}
	return &v, nil
}

func (s *SQLStore) Activate(ctx context.Context, id int64) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("prompts: init schema: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prompts: begin activate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET is_active = FALSE`); err != nil {
		return fmt.Errorf("prompts: deactivate all: %w", err)
	}
	query := fmt.Sprintf(`UPDATE prompt_versions SET is_active = TRUE, activated_at = %s WHERE id = %s`,
		s.ph(1), s.ph(2))
	res, err := tx.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("prompts: activate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("prompts: activate: %w", err)
	}
	if affected == 0 {
		return ErrVersionNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) Active(ctx context.Context) (*models.PromptVersion, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("prompts: init schema: %w", err)
	}
	var v models.PromptVersion
	var activatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, content, is_active, COALESCE(notes, ''), created_at, activated_at
		FROM prompt_versions WHERE is_active = TRUE LIMIT 1`).Scan(
		&v.ID, &v.Version, &v.Content, &v.IsActive, &v.Notes, &v.CreatedAt, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prompts: read active: %w", err)
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		v.ActivatedAt = &t
	}
	return &v, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
