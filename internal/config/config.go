// Package config loads and models the runtime configuration for the agent
// sidecar: the static config file, per-agent scoping, and the admin-mutable
// runtime overlay.
package config

import (
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// AuthMode selects how user tokens are handled.
type AuthMode string

const (
	// AuthTrust decodes the JWT body without signature verification.
	AuthTrust AuthMode = "trust"
	// AuthVerify verifies the HMAC-SHA256 signature and expiry.
	AuthVerify AuthMode = "verify"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// BodyLimitBytes caps request bodies. Default 1 MiB.
	BodyLimitBytes int64 `json:"body_limit_bytes,omitempty"`
}

// AuthConfig configures user and admin authentication.
type AuthConfig struct {
	Mode AuthMode `json:"mode"`

	// IdentityClaim is the JWT claim path holding the user id. Default "sub".
	IdentityClaim string `json:"identity_claim,omitempty"`

	// SigningKey is required in verify mode. Usually "${JWT_SIGNING_KEY}".
	SigningKey string `json:"signing_key,omitempty"`

	// AdminKey guards the /forge-admin plane. Empty fails closed.
	AdminKey string `json:"admin_key,omitempty"`
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	Enabled     bool  `json:"enabled"`
	WindowMs    int64 `json:"window_ms,omitempty"`
	MaxRequests int   `json:"max_requests,omitempty"`
}

// ModelConfig holds model defaults.
type ModelConfig struct {
	Default   string `json:"default,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// HitlConfig holds human-in-the-loop defaults.
type HitlConfig struct {
	DefaultLevel models.HitlLevel `json:"default_level,omitempty"`

	// ResumeTTLSeconds bounds how long a pause token stays redeemable.
	// Default 300.
	ResumeTTLSeconds int `json:"resume_ttl_seconds,omitempty"`
}

// PermissionsConfig gates user preference overrides.
type PermissionsConfig struct {
	AllowUserModelSelect bool `json:"allow_user_model_select"`
	AllowUserHitlConfig  bool `json:"allow_user_hitl_config"`
}

// ConversationConfig bounds history loading.
type ConversationConfig struct {
	// Window is the number of trailing messages loaded per chat. Default 25.
	Window int `json:"window,omitempty"`
}

// StorageConfig selects storage backends. Redis wins over Postgres wins over
// SQLite when more than one is set; the in-memory backend is the fallback.
type StorageConfig struct {
	DatabaseURL string `json:"database_url,omitempty"`
	RedisURL    string `json:"redis_url,omitempty"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// VerifiersConfig configures the post-tool verifier pipeline.
type VerifiersConfig struct {
	// Dir holds custom verifier definitions and executables.
	Dir string `json:"dir,omitempty"`

	// Sandboxed dispatches custom verifiers through the worker pool.
	// Default true; false runs them in-process (development).
	Sandboxed *bool `json:"sandboxed,omitempty"`

	// PoolSize overrides the worker pool size (default min(4, NumCPU)).
	PoolSize int `json:"pool_size,omitempty"`

	// Definitions are schema/pattern verifier bindings from the config file.
	Definitions []VerifierDefinition `json:"definitions,omitempty"`
}

// VerifierDefinition is one declarative verifier binding.
type VerifierDefinition struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // schema | pattern
	ToolName string `json:"tool_name"`
	Order    string `json:"order,omitempty"`
	Role     string `json:"role,omitempty"` // read | write | any

	// Schema verifier fields.
	Required   []string                `json:"required,omitempty"`
	Properties map[string]ToolPropSpec `json:"properties,omitempty"`

	// Pattern verifier fields.
	Match   string `json:"match,omitempty"`
	Reject  string `json:"reject,omitempty"`
	Outcome string `json:"outcome,omitempty"` // failure outcome, default warn
}

// ToolPropSpec mirrors models.ToolProperty for schema verifier declarations.
type ToolPropSpec struct {
	Type string `json:"type"`
}

// ToolsConfig seeds the promoted-tool registry and routes dispatch.
type ToolsConfig struct {
	// BaseURL prefixes every mcp_routing endpoint.
	BaseURL string `json:"base_url,omitempty"`

	Specs []models.ToolSpec `json:"specs,omitempty"`
}

// Config is the merged runtime configuration.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Auth         AuthConfig         `json:"auth"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Model        ModelConfig        `json:"model"`
	Hitl         HitlConfig         `json:"hitl"`
	Permissions  PermissionsConfig  `json:"permissions"`
	Conversation ConversationConfig `json:"conversation"`
	Storage      StorageConfig      `json:"storage"`
	Verifiers    VerifiersConfig    `json:"verifiers"`
	Tools        ToolsConfig        `json:"tools"`

	// SystemPrompt is the lowest-precedence system prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Agents seeds the agent registry at startup.
	Agents []models.Agent `json:"agents,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8700,
			BodyLimitBytes: 1 << 20,
		},
		Auth: AuthConfig{
			Mode:          AuthTrust,
			IdentityClaim: "sub",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			WindowMs:    60_000,
			MaxRequests: 60,
		},
		Model: ModelConfig{
			Default:   "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Hitl: HitlConfig{
			DefaultLevel:     models.HitlCautious,
			ResumeTTLSeconds: 300,
		},
		Permissions: PermissionsConfig{
			AllowUserModelSelect: true,
			AllowUserHitlConfig:  true,
		},
		Conversation: ConversationConfig{Window: 25},
	}
}

// Scoped is the per-request view of the configuration after applying the
// runtime overlay and the selected agent's overrides.
type Scoped struct {
	DefaultModel         string
	MaxTokens            int
	MaxTurns             int
	HitlLevel            models.HitlLevel
	AllowUserModelSelect bool
	AllowUserHitlConfig  bool
	ConversationWindow   int
	SystemPrompt         string
	ToolAllowlist        string
}

const defaultMaxTurns = 10

// Scope builds the effective per-request configuration. agent may be nil,
// in which case base values apply unchanged.
func (c *Config) Scope(agent *models.Agent, overlay *RuntimeOverlay) Scoped {
	s := Scoped{
		DefaultModel:         c.Model.Default,
		MaxTokens:            c.Model.MaxTokens,
		MaxTurns:             defaultMaxTurns,
		HitlLevel:            c.Hitl.DefaultLevel,
		AllowUserModelSelect: c.Permissions.AllowUserModelSelect,
		AllowUserHitlConfig:  c.Permissions.AllowUserHitlConfig,
		ConversationWindow:   c.Conversation.Window,
		ToolAllowlist:        "*",
	}
	if overlay != nil {
		overlay.apply(&s)
	}
	if s.ConversationWindow <= 0 {
		s.ConversationWindow = 25
	}
	if agent == nil {
		return s
	}
	if agent.Model != "" {
		s.DefaultModel = agent.Model
	}
	if agent.HitlLevel.Valid() {
		s.HitlLevel = agent.HitlLevel
	}
	if agent.AllowUserModelSelect != nil {
		s.AllowUserModelSelect = *agent.AllowUserModelSelect
	}
	if agent.AllowUserHitlConfig != nil {
		s.AllowUserHitlConfig = *agent.AllowUserHitlConfig
	}
	if agent.MaxTurns > 0 {
		s.MaxTurns = agent.MaxTurns
	}
	if agent.MaxTokens > 0 {
		s.MaxTokens = agent.MaxTokens
	}
	if agent.SystemPrompt != "" {
		s.SystemPrompt = agent.SystemPrompt
	}
	if agent.ToolAllowlist != "" {
		s.ToolAllowlist = agent.ToolAllowlist
	}
	return s
}
