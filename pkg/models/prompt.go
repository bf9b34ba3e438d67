package models

import "time"

// PromptVersion is one version of the global system prompt. At most one
// version is active at a time; activation is atomic.
type PromptVersion struct {
	ID          int64      `json:"id"`
	Version     string     `json:"version"`
	Content     string     `json:"content"`
	IsActive    bool       `json:"is_active"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}
