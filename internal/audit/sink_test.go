package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRow() models.ChatAuditRow {
	return models.ChatAuditRow{
		SessionID:  "s1",
		UserID:     "u1",
		Route:      "/v1/chat",
		StatusCode: http.StatusOK,
		DurationMs: 120,
		Model:      "claude-sonnet-4-5",
		Message:    "hello",
		ToolCount:  2,
	}
}

func TestSQLSinkRoundTrip(t *testing.T) {
	db := openSQLite(t)
	sink := NewSQLiteSink(db)

	require.NoError(t, sink.Record(context.Background(), sampleRow()))

	var count int
	var message string
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*), MAX(message) FROM chat_audit`).Scan(&count, &message))
	assert.Equal(t, 1, count)
	assert.Equal(t, "hello", message)
}

func TestSQLSinkTruncatesMessage(t *testing.T) {
	db := openSQLite(t)
	sink := NewSQLiteSink(db)

	row := sampleRow()
	for len(row.Message) <= models.AuditMessageLimit {
		row.Message += row.Message
	}
	require.NoError(t, sink.Record(context.Background(), row))

	var stored string
	require.NoError(t, db.QueryRow(`SELECT message FROM chat_audit`).Scan(&stored))
	assert.Len(t, stored, models.AuditMessageLimit)
}

func TestPostgresSinkUsesPositionalPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_audit").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO chat_audit`).
		WithArgs("s1", "u1", "", "/v1/chat", http.StatusOK, int64(120),
			"claude-sonnet-4-5", "hello", 2, false, 0, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewPostgresSink(db)
	require.NoError(t, sink.Record(context.Background(), sampleRow()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkSurfacesWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_audit").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO chat_audit`).
		WillReturnError(sql.ErrConnDone)

	sink := NewPostgresSink(db)
	err = sink.Record(context.Background(), sampleRow())
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestRecorderDrainsOnClose(t *testing.T) {
	sink := NewMemorySink()
	recorder := NewRecorder(sink, slog.Default())

	for i := 0; i < 10; i++ {
		recorder.Record(sampleRow())
	}
	require.NoError(t, recorder.Close())

	assert.Len(t, sink.Rows(), 10)
	for _, row := range sink.Rows() {
		assert.False(t, row.CreatedAt.IsZero())
	}
}

func TestRecorderIgnoresAfterClose(t *testing.T) {
	sink := NewMemorySink()
	recorder := NewRecorder(sink, slog.Default())
	require.NoError(t, recorder.Close())

	recorder.Record(sampleRow())
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sink.Rows())
}
