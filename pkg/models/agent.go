package models

import (
	"regexp"
	"time"
)

// AgentIDPattern constrains agent identifiers to lowercase slugs.
var AgentIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Agent is a named profile bundling model, HITL policy, system prompt,
// turn/token caps, and a tool allowlist. At most one enabled agent is the
// default at any time.
type Agent struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	SystemPrompt         string    `json:"system_prompt,omitempty"`
	Model                string    `json:"model,omitempty"`
	HitlLevel            HitlLevel `json:"hitl_level,omitempty"`
	AllowUserModelSelect *bool     `json:"allow_user_model_select,omitempty"`
	AllowUserHitlConfig  *bool     `json:"allow_user_hitl_config,omitempty"`

	// ToolAllowlist is "*" for all promoted tools, or a JSON-encoded string
	// list. A malformed list makes no tools visible.
	ToolAllowlist string `json:"tool_allowlist,omitempty"`

	MaxTurns         int       `json:"max_turns,omitempty"`
	MaxTokens        int       `json:"max_tokens,omitempty"`
	IsDefault        bool      `json:"is_default"`
	Enabled          bool      `json:"enabled"`
	SeededFromConfig bool      `json:"seeded_from_config,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ValidAgentID reports whether id is an acceptable agent slug.
func ValidAgentID(id string) bool {
	return AgentIDPattern.MatchString(id)
}
