package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT 'chat',
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent_id TEXT,
	user_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conv_session ON conversation_messages(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_conv_user ON conversation_messages(user_id);
`

// PostgresStore is the shared pooled backend. Semantics are identical to the
// SQLite store; schema creation is lazy on first use.
type PostgresStore struct {
	db       *sql.DB
	initOnce sync.Once
	initErr  error
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("conversation: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("conversation: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle (tests).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		_, s.initErr = s.db.ExecContext(ctx, postgresSchema)
	})
	return s.initErr
}

func (s *PostgresStore) PersistMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("conversation: init schema: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Stage == "" {
		msg.Stage = models.StageChat
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages
		(id, session_id, stage, role, content, agent_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.SessionID, msg.Stage, string(msg.Role), msg.Content,
		msg.AgentID, msg.UserID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("conversation: persist message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("conversation: init schema: %w", err)
	}
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, stage, role, content, agent_id, user_id, created_at
		FROM (
			SELECT seq, id, session_id, stage, role, content, agent_id, user_id, created_at
			FROM conversation_messages
			WHERE session_id = $1 AND NOT (role = 'system' AND content = $2)
			ORDER BY seq DESC LIMIT $3
		) recent ORDER BY seq ASC`, sessionID, models.CompleteMarker, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("conversation: init schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COALESCE(MAX(agent_id), ''), MIN(created_at), MAX(created_at), COUNT(*)
		FROM conversation_messages
		WHERE user_id = $1 AND NOT (role = 'system' AND content = $2)
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`, userID, models.CompleteMarker)
	if err != nil {
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	owner, err := s.GetSessionUserID(ctx, sessionID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrNotOwner
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionUserID(ctx context.Context, sessionID string) (string, error) {
	if err := s.init(ctx); err != nil {
		return "", fmt.Errorf("conversation: init schema: %w", err)
	}
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(user_id, '') FROM conversation_messages
		WHERE session_id = $1 ORDER BY seq ASC LIMIT 1`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("conversation: read owner: %w", err)
	}
	return owner, nil
}

func (s *PostgresStore) GetIncompleteSessions(ctx context.Context) ([]string, error) {
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("conversation: init schema: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM conversation_messages
		GROUP BY session_id
		HAVING SUM(CASE WHEN role = 'system' AND content = $1 THEN 1 ELSE 0 END) = 0`,
		models.CompleteMarker)
	if err != nil {
		return nil, fmt.Errorf("conversation: list incomplete: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
