package models

import "time"

// AuditMessageLimit caps the message text stored on an audit row.
const AuditMessageLimit = 500

// ChatAuditRow is written exactly once per terminated chat request, success
// or failure. Writing it is best-effort and never alters the response.
type ChatAuditRow struct {
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	Route         string    `json:"route"`
	StatusCode    int       `json:"status_code"`
	DurationMs    int64     `json:"duration_ms"`
	Model         string    `json:"model,omitempty"`
	Message       string    `json:"message,omitempty"`
	ToolCount     int       `json:"tool_count"`
	HitlTriggered bool      `json:"hitl_triggered"`
	WarningsCount int       `json:"warnings_count"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TruncateAuditMessage trims msg to the audit row limit.
func TruncateAuditMessage(msg string) string {
	if len(msg) > AuditMessageLimit {
		return msg[:AuditMessageLimit]
	}
	return msg
}
