package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// StageChat is the only conversation stage the runtime writes today.
const StageChat = "chat"

// CompleteMarker is the system-message content that marks a session as
// terminated. Stores treat a message with RoleSystem and this content as the
// end of the session's "incomplete" lifetime.
const CompleteMarker = "[COMPLETE]"

// ConversationMessage is one persisted row of a conversation. Rows are
// immutable after insert.
type ConversationMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	AgentID   string    `json:"agent_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents a conversation thread. The owning user is fixed by the
// first message and enforced on every subsequent access.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolCallResult represents the output of a tool execution.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TurnMessage is one message in the provider-facing conversation shape used
// by the ReAct loop. Tool results thread back to their calls by ToolCallID.
type TurnMessage struct {
	Role        Role             `json:"role"`
	Content     string           `json:"content,omitempty"`
	ToolCalls   []ToolCall       `json:"tool_calls,omitempty"`
	ToolResults []ToolCallResult `json:"tool_results,omitempty"`
}
