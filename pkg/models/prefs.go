package models

import "time"

// HitlLevel controls when a tool call pauses for human confirmation.
type HitlLevel string

const (
	// HitlAutonomous never pauses.
	HitlAutonomous HitlLevel = "autonomous"
	// HitlCautious pauses when the tool spec requires confirmation.
	HitlCautious HitlLevel = "cautious"
	// HitlStandard pauses on mutating HTTP methods (POST/PUT/PATCH/DELETE).
	HitlStandard HitlLevel = "standard"
	// HitlParanoid always pauses.
	HitlParanoid HitlLevel = "paranoid"
)

// Valid reports whether the level is one of the known values.
func (l HitlLevel) Valid() bool {
	switch l {
	case HitlAutonomous, HitlCautious, HitlStandard, HitlParanoid:
		return true
	}
	return false
}

// UserPreferences holds a user's optional overrides. Nil fields mean
// "no preference"; permission gates decide whether a set value applies.
type UserPreferences struct {
	UserID    string     `json:"user_id"`
	Model     *string    `json:"model,omitempty"`
	HitlLevel *HitlLevel `json:"hitl_level,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
