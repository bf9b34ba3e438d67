package models

// ToolLifecycle is the registry lifecycle state of a tool.
type ToolLifecycle string

const (
	ToolCandidate ToolLifecycle = "candidate"
	ToolPromoted  ToolLifecycle = "promoted"
	ToolFlagged   ToolLifecycle = "flagged"
	ToolRetired   ToolLifecycle = "retired"
)

// ToolProperty describes one input schema property of a tool.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// MCPRouting describes how a tool call is dispatched over HTTP.
type MCPRouting struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method,omitempty"`
}

// ToolSpec describes a tool the LLM may call. Only lifecycle=promoted specs
// are visible to the loop. Unknown fields from the source document are kept
// in Extra so round-trips do not lose information.
type ToolSpec struct {
	Name                 string                  `json:"name"`
	Description          string                  `json:"description,omitempty"`
	InputSchema          map[string]ToolProperty `json:"input_schema,omitempty"`
	MCPRouting           *MCPRouting             `json:"mcp_routing,omitempty"`
	RequiresConfirmation bool                    `json:"requires_confirmation,omitempty"`
	Lifecycle            ToolLifecycle           `json:"lifecycle"`
	Extra                map[string]any          `json:"extra,omitempty"`
}

// Method returns the effective HTTP method for the tool (GET by default).
func (t *ToolSpec) Method() string {
	if t.MCPRouting != nil && t.MCPRouting.Method != "" {
		return t.MCPRouting.Method
	}
	return "GET"
}
