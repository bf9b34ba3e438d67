package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT 'chat',
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	agent_id TEXT,
	user_id TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conv_session ON conversation_messages(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_conv_user ON conversation_messages(user_id);
`

// SQLiteStore is the single-file local backend. Hot statements are prepared
// once at construction.
type SQLiteStore struct {
	db          *sql.DB
	insert      *sql.Stmt
	history     *sql.Stmt
	firstOwner  *sql.Stmt
	deleteBySid *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database file and prepares the hot
// path statements.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("conversation: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("conversation: create schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	prepared := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.insert, `INSERT INTO conversation_messages
			(id, session_id, stage, role, content, agent_id, user_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.history, `SELECT id, session_id, stage, role, content, agent_id, user_id, created_at
			FROM (
				SELECT seq, id, session_id, stage, role, content, agent_id, user_id, created_at
				FROM conversation_messages
				WHERE session_id = ? AND NOT (role = 'system' AND content = ?)
				ORDER BY seq DESC LIMIT ?
			) ORDER BY seq ASC`},
		{&s.firstOwner, `SELECT COALESCE(user_id, '') FROM conversation_messages
			WHERE session_id = ? ORDER BY seq ASC LIMIT 1`},
		{&s.deleteBySid, `DELETE FROM conversation_messages WHERE session_id = ?`},
	}
	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("conversation: prepare statement: %w", err)
		}
		*p.dst = stmt
	}
	return s, nil
}

func (s *SQLiteStore) PersistMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Stage == "" {
		msg.Stage = models.StageChat
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.insert.ExecContext(ctx,
		msg.ID, msg.SessionID, msg.Stage, string(msg.Role), msg.Content,
		msg.AgentID, msg.UserID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("conversation: persist message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.history.QueryContext(ctx, sessionID, models.CompleteMarker, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COALESCE(MAX(agent_id), ''), MIN(created_at), MAX(created_at), COUNT(*)
		FROM conversation_messages
		WHERE user_id = ? AND NOT (role = 'system' AND content = ?)
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`, userID, models.CompleteMarker)
	if err != nil {
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	defer rows.Close()

	// Aggregates lose the TIMESTAMP decltype, so the driver hands the
	// MIN/MAX columns back as strings.
	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var first, last string
		if err := rows.Scan(&sum.SessionID, &sum.AgentID, &first, &last, &sum.MessageCount); err != nil {
			return nil, err
		}
		if sum.FirstAt, err = parseSQLiteTime(first); err != nil {
			return nil, err
		}
		if sum.LastAt, err = parseSQLiteTime(last); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// sqliteTimeLayouts covers the formats the driver writes for TIMESTAMP
// values.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseSQLiteTime(raw string) (time.Time, error) {
	for _, layout := range sqliteTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("conversation: parse timestamp %q", raw)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	owner, err := s.GetSessionUserID(ctx, sessionID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrNotOwner
	}
	if _, err := s.deleteBySid.ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionUserID(ctx context.Context, sessionID string) (string, error) {
	var owner string
	err := s.firstOwner.QueryRowContext(ctx, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("conversation: read owner: %w", err)
	}
	return owner, nil
}

func (s *SQLiteStore) GetIncompleteSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM conversation_messages
		GROUP BY session_id
		HAVING SUM(CASE WHEN role = 'system' AND content = ? THEN 1 ELSE 0 END) = 0`,
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func scanMessages(rows *sql.Rows) ([]models.ConversationMessage, error) {
	var out []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var role string
		var agentID, userID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Stage, &role, &m.Content,
			&agentID, &userID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		m.AgentID = agentID.String
		m.UserID = userID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSummaries(rows *sql.Rows) ([]SessionSummary, error) {
	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionID, &s.AgentID, &s.FirstAt, &s.LastAt, &s.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
