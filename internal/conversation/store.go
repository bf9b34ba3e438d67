// Package conversation persists chat sessions and their messages across
// three interchangeable backends: a local SQLite file, a pooled Postgres
// database and Redis. Sessions materialise with their first message; the
// owning user is the user id on that first row and every later access is
// checked against it.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

var (
	// ErrSessionNotFound means no message rows exist for the session.
	ErrSessionNotFound = errors.New("conversation: session not found")

	// ErrNotOwner means the session belongs to a different user.
	ErrNotOwner = errors.New("conversation: session owned by another user")
)

// SessionSummary is one row of a user's session listing.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	AgentID      string    `json:"agentId,omitempty"`
	FirstAt      time.Time `json:"firstAt"`
	LastAt       time.Time `json:"lastAt"`
	MessageCount int       `json:"messageCount"`
}

// Store is the conversation persistence capability set. GetHistory returns
// the most recent limit messages in chronological order, excluding the
// session-complete marker rows. DeleteSession enforces ownership.
type Store interface {
	PersistMessage(ctx context.Context, msg *models.ConversationMessage) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error)
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
	GetSessionUserID(ctx context.Context, sessionID string) (string, error)
	GetIncompleteSessions(ctx context.Context) ([]string, error)
	Close() error
}

// isCompleteMarker reports whether msg terminates its session.
func isCompleteMarker(role models.Role, content string) bool {
	return role == models.RoleSystem && content == models.CompleteMarker
}
