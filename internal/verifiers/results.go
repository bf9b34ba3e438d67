package verifiers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// MemoryResultStore keeps non-pass verdicts in memory, for tests and the
// zero-config backend.
type MemoryResultStore struct {
	mu   sync.Mutex
	rows []models.VerifierResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{}
}

func (s *MemoryResultStore) Append(ctx context.Context, result models.VerifierResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, result)
	return nil
}

// Rows returns a copy of everything appended so far.
func (s *MemoryResultStore) Rows() []models.VerifierResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.VerifierResult, len(s.rows))
	copy(out, s.rows)
	return out
}

var _ ResultStore = (*MemoryResultStore)(nil)

// SQLResultStore appends verdicts to SQLite or Postgres. Table creation is
// lazy on first write.
type SQLResultStore struct {
	db       *sql.DB
	postgres bool
	initOnce sync.Once
	initErr  error
}

func NewSQLiteResultStore(db *sql.DB) *SQLResultStore {
	return &SQLResultStore{db: db}
}

func NewPostgresResultStore(db *sql.DB) *SQLResultStore {
	return &SQLResultStore{db: db, postgres: true}
}

func (s *SQLResultStore) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		timestamp := "TIMESTAMP"
		if s.postgres {
			timestamp = "TIMESTAMPTZ"
		}
		_, s.initErr = s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS verifier_results (
				session_id TEXT NOT NULL,
				tool_name TEXT NOT NULL,
				verifier_name TEXT NOT NULL,
				outcome TEXT NOT NULL,
				message TEXT,
				input TEXT,
				output TEXT,
				created_at %s NOT NULL
			)`, timestamp))
	})
	return s.initErr
}

func (s *SQLResultStore) Append(ctx context.Context, r models.VerifierResult) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("verifiers: init results schema: %w", err)
	}
	query := `INSERT INTO verifier_results
		(session_id, tool_name, verifier_name, outcome, message, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.postgres {
		query = `INSERT INTO verifier_results
		(session_id, tool_name, verifier_name, outcome, message, input, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}
	_, err := s.db.ExecContext(ctx, query,
		r.SessionID, r.ToolName, r.VerifierName, string(r.Outcome),
		r.Message, r.Input, r.Output, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("verifiers: append result: %w", err)
	}
	return nil
}

var _ ResultStore = (*SQLResultStore)(nil)
