package models

import (
	"encoding/json"
	"time"
)

// PausedState is everything needed to resume a ReAct loop that was suspended
// on a gated tool call. It is stored JSON-encoded under a resume token and
// redeemed at most once.
type PausedState struct {
	SessionID        string           `json:"session_id"`
	AgentID          string           `json:"agent_id,omitempty"`
	UserID           string           `json:"user_id,omitempty"`
	Tool             string           `json:"tool"`
	Args             json.RawMessage  `json:"args,omitempty"`
	PendingToolCalls []ToolCall       `json:"pending_tool_calls,omitempty"`
	CompletedResults []ToolCallResult `json:"completed_results,omitempty"`
	Messages         []TurnMessage    `json:"messages"`
	TurnIndex        int              `json:"turn_index"`
	CreatedAt        time.Time        `json:"created_at"`
}
