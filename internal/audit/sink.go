// Package audit records one row per terminated chat request. Writes are
// best-effort: a failing sink logs and moves on, it never changes the
// response the client already received.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// Sink receives finished chat audit rows.
type Sink interface {
	Record(ctx context.Context, row models.ChatAuditRow) error
	Close() error
}

// MemorySink keeps rows in memory, for tests and the zero-config backend.
type MemorySink struct {
	mu   sync.Mutex
	rows []models.ChatAuditRow
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ctx context.Context, row models.ChatAuditRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

// Rows returns a copy of everything recorded so far.
func (s *MemorySink) Rows() []models.ChatAuditRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatAuditRow, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *MemorySink) Close() error { return nil }

var _ Sink = (*MemorySink)(nil)

// SQLSink appends audit rows to SQLite or Postgres. Table creation is lazy
// on first write.
type SQLSink struct {
	db       *sql.DB
	postgres bool
	initOnce sync.Once
	initErr  error
}

func NewSQLiteSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func NewPostgresSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db, postgres: true}
}

func (s *SQLSink) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		timestamp := "TIMESTAMP"
		if s.postgres {
			timestamp = "TIMESTAMPTZ"
		}
		_, s.initErr = s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS chat_audit (
				session_id TEXT,
				user_id TEXT,
				agent_id TEXT,
				route TEXT NOT NULL,
				status_code INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL,
				model TEXT,
				message TEXT,
				tool_count INTEGER NOT NULL,
				hitl_triggered BOOLEAN NOT NULL,
				warnings_count INTEGER NOT NULL,
				error_message TEXT,
				created_at %s NOT NULL
			)`, timestamp))
	})
	return s.initErr
}

func (s *SQLSink) Record(ctx context.Context, row models.ChatAuditRow) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	query := `INSERT INTO chat_audit
		(session_id, user_id, agent_id, route, status_code, duration_ms, model,
		 message, tool_count, hitl_triggered, warnings_count, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.postgres {
		query = `INSERT INTO chat_audit
		(session_id, user_id, agent_id, route, status_code, duration_ms, model,
		 message, tool_count, hitl_triggered, warnings_count, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		row.SessionID, row.UserID, row.AgentID, row.Route, row.StatusCode,
		row.DurationMs, row.Model, models.TruncateAuditMessage(row.Message),
		row.ToolCount, row.HitlTriggered, row.WarningsCount, row.ErrorMessage,
		row.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert row: %w", err)
	}
	return nil
}

func (s *SQLSink) Close() error { return nil }

var _ Sink = (*SQLSink)(nil)

// Recorder wraps a sink with an async buffer so request handlers never wait
// on the audit write path. A full buffer drops the row with a log line.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	buffer chan models.ChatAuditRow
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

const recorderBuffer = 256

// NewRecorder starts the background writer.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		buffer: make(chan models.ChatAuditRow, recorderBuffer),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Record enqueues a row. It never blocks.
func (r *Recorder) Record(row models.ChatAuditRow) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.Message = models.TruncateAuditMessage(row.Message)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.buffer <- row:
	default:
		r.logger.Warn("audit buffer full, dropping row", "route", row.Route)
	}
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case row := <-r.buffer:
			r.write(row)
		case <-r.done:
			for {
				select {
				case row := <-r.buffer:
					r.write(row)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(row models.ChatAuditRow) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.Record(ctx, row); err != nil {
		r.logger.Warn("audit write failed", "route", row.Route, "error", err)
	}
}

// Close drains the buffer and closes the underlying sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	return r.sink.Close()
}
