package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// SQLRegistry persists agents in SQLite or Postgres. The full profile is one
// JSON document; the columns queried by invariants (enabled, is_default) are
// lifted out of it.
type SQLRegistry struct {
	db       *sql.DB
	postgres bool
	initOnce sync.Once
	initErr  error
}

func NewSQLiteRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

func NewPostgresRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db, postgres: true}
}

func (r *SQLRegistry) init(ctx context.Context) error {
	r.initOnce.Do(func() {
		_, r.initErr = r.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS agents (
				id TEXT PRIMARY KEY,
				enabled BOOLEAN NOT NULL,
				is_default BOOLEAN NOT NULL,
				data TEXT NOT NULL
			)`)
	})
	return r.initErr
}

func (r *SQLRegistry) ph(n int) string {
	if r.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (r *SQLRegistry) Upsert(ctx context.Context, agent *models.Agent) error {
	if !models.ValidAgentID(agent.ID) {
		return ErrInvalidAgentID
	}
	if err := r.init(ctx); err != nil {
		return fmt.Errorf("agents: init schema: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("agents: begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	cp := *agent
	cp.UpdatedAt = now
	cp.CreatedAt = now
	var existing string
	query := fmt.Sprintf("SELECT data FROM agents WHERE id = %s", r.ph(1))
	if err := tx.QueryRowContext(ctx, query, agent.ID).Scan(&existing); err == nil {
		var prev models.Agent
		if json.Unmarshal([]byte(existing), &prev) == nil {
			cp.CreatedAt = prev.CreatedAt
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("agents: read existing: %w", err)
	}

	if cp.IsDefault && cp.Enabled {
		if err := r.demoteAll(ctx, tx); err != nil {
			return err
		}
	} else {
		cp.IsDefault = false
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("agents: encode agent: %w", err)
	}
	upsert := `INSERT INTO agents (id, enabled, is_default, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			is_default = excluded.is_default,
			data = excluded.data`
	if r.postgres {
		upsert = `INSERT INTO agents (id, enabled, is_default, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			is_default = EXCLUDED.is_default,
			data = EXCLUDED.data`
	}
	if _, err := tx.ExecContext(ctx, upsert, cp.ID, cp.Enabled, cp.IsDefault, string(data)); err != nil {
		return fmt.Errorf("agents: upsert agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("agents: commit upsert: %w", err)
	}
	*agent = cp
	return nil
}

func (r *SQLRegistry) demoteAll(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, data FROM agents WHERE is_default`)
	if err != nil {
		return fmt.Errorf("agents: read defaults: %w", err)
	}
	type row struct{ id, data string }
	var defaults []row
	for rows.Next() {
		var rec row
		if err := rows.Scan(&rec.id, &rec.data); err != nil {
			rows.Close()
			return err
		}
		defaults = append(defaults, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, rec := range defaults {
		var a models.Agent
		if err := json.Unmarshal([]byte(rec.data), &a); err != nil {
			return fmt.Errorf("agents: decode agent: %w", err)
		}
		a.IsDefault = false
		data, _ := json.Marshal(&a)
		// Placeholder order must match appearance: SQLite numbers ? by
		// position, so data binds first and the id second.
		demote := fmt.Sprintf(
			`UPDATE agents SET is_default = FALSE, data = %s WHERE id = %s`, r.ph(1), r.ph(2))
		if _, err := tx.ExecContext(ctx, demote, string(data), rec.id); err != nil {
			return fmt.Errorf("agents: demote default: %w", err)
		}
	}
	return nil
}

func (r *SQLRegistry) Get(ctx context.Context, id string) (*models.Agent, error) {
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("agents: init schema: %w", err)
	}
	query := fmt.Sprintf("SELECT data FROM agents WHERE id = %s", r.ph(1))
	var data string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agents: get agent: %w", err)
	}
	var agent models.Agent
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("agents: decode agent: %w", err)
	}
	return &agent, nil
}

func (r *SQLRegistry) List(ctx context.Context) ([]models.Agent, error) {
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("agents: init schema: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("agents: list agents: %w", err)
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var agent models.Agent
		if err := json.Unmarshal([]byte(data), &agent); err != nil {
			return nil, fmt.Errorf("agents: decode agent: %w", err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (r *SQLRegistry) Delete(ctx context.Context, id string) error {
	if err := r.init(ctx); err != nil {
		return fmt.Errorf("agents: init schema: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("agents: begin delete: %w", err)
	}
	defer tx.Rollback()

	var wasDefault bool
	query := fmt.Sprintf("SELECT is_default FROM agents WHERE id = %s", r.ph(1))
	err = tx.QueryRowContext(ctx, query, id).Scan(&wasDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("agents: read agent: %w", err)
	}
	del := fmt.Sprintf("DELETE FROM agents WHERE id = %s", r.ph(1))
	if _, err := tx.ExecContext(ctx, del, id); err != nil {
		return fmt.Errorf("agents: delete agent: %w", err)
	}

	if wasDefault {
		var nextID, data string
		err := tx.QueryRowContext(ctx,
			`SELECT id, data FROM agents WHERE enabled ORDER BY id ASC LIMIT 1`).Scan(&nextID, &data)
		if err == nil {
			var a models.Agent
			if err := json.Unmarshal([]byte(data), &a); err != nil {
				return fmt.Errorf("agents: decode agent: %w", err)
			}
			a.IsDefault = true
			promoted, _ := json.Marshal(&a)
			promote := fmt.Sprintf(
				`UPDATE agents SET is_default = TRUE, data = %s WHERE id = %s`, r.ph(1), r.ph(2))
			if _, err := tx.ExecContext(ctx, promote, string(promoted), nextID); err != nil {
				return fmt.Errorf("agents: promote default: %w", err)
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("agents: find promotion candidate: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLRegistry) SetDefault(ctx context.Context, id string) error {
	if err := r.init(ctx); err != nil {
		return fmt.Errorf("agents: init schema: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("agents: begin set-default: %w", err)
	}
	defer tx.Rollback()

	var data string
	query := fmt.Sprintf("SELECT data FROM agents WHERE id = %s", r.ph(1))
	err = tx.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("agents: read agent: %w", err)
	}
	var target models.Agent
	if err := json.Unmarshal([]byte(data), &target); err != nil {
		return fmt.Errorf("agents: decode agent: %w", err)
	}
	if !target.Enabled {
		return ErrAgentDisabled
	}

	if err := r.demoteAll(ctx, tx); err != nil {
		return err
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now().UTC()
	promoted, _ := json.Marshal(&target)
	promote := fmt.Sprintf(
		`UPDATE agents SET is_default = TRUE, data = %s WHERE id = %s`, r.ph(1), r.ph(2))
	if _, err := tx.ExecContext(ctx, promote, string(promoted), id); err != nil {
		return fmt.Errorf("agents: set default: %w", err)
	}
	return tx.Commit()
}

func (r *SQLRegistry) Default(ctx context.Context) (*models.Agent, error) {
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("agents: init schema: %w", err)
	}
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM agents WHERE is_default AND enabled LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agents: read default: %w", err)
	}
	var agent models.Agent
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("agents: decode agent: %w", err)
	}
	return &agent, nil
}

func (r *SQLRegistry) Close() error {
	return r.db.Close()
}

var _ Registry = (*SQLRegistry)(nil)
