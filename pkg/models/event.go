package models

import "encoding/json"

// ReactEventType discriminates events emitted by the ReAct loop.
type ReactEventType string

const (
	EventSession     ReactEventType = "session"
	EventText        ReactEventType = "text"
	EventTextDelta   ReactEventType = "text_delta"
	EventToolCall    ReactEventType = "tool_call"
	EventToolResult  ReactEventType = "tool_result"
	EventToolWarning ReactEventType = "tool_warning"
	EventHitl        ReactEventType = "hitl"
	EventError       ReactEventType = "error"
	EventDone        ReactEventType = "done"
)

// ToolResultPayload is the data carried by a tool_result event.
type ToolResultPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	Tool       string          `json:"tool"`
	Status     int             `json:"status,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ToolWarningPayload is the data carried by a tool_warning event.
type ToolWarningPayload struct {
	Tool     string  `json:"tool"`
	Verifier string  `json:"verifier,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Message  string  `json:"message"`
}

// HitlPayload is the data carried by a hitl event. ResumeToken is filled in
// by the handler after the paused state is stored.
type HitlPayload struct {
	ResumeToken string          `json:"resume_token,omitempty"`
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args,omitempty"`
	Message     string          `json:"message"`

	// State carries the suspension snapshot from the loop to the handler.
	// It is never serialized to clients.
	State *PausedState `json:"-"`
}

// DonePayload is the data carried by the terminal done event.
type DonePayload struct {
	InputTokens    int  `json:"input_tokens"`
	OutputTokens   int  `json:"output_tokens"`
	TurnsExhausted bool `json:"turns_exhausted,omitempty"`
}

// ReactEvent is one event in the lazy sequence produced by the ReAct loop.
// Exactly one payload field matching Type is set.
type ReactEvent struct {
	Type ReactEventType `json:"type"`

	// Text is the payload for text and text_delta events.
	Text string `json:"text,omitempty"`

	ToolCall   *ToolCall           `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload  `json:"tool_result,omitempty"`
	Warning    *ToolWarningPayload `json:"warning,omitempty"`
	Hitl       *HitlPayload        `json:"hitl,omitempty"`
	Done       *DonePayload        `json:"done,omitempty"`

	// Error is the payload for error events.
	Error string `json:"error,omitempty"`
}
