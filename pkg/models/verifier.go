package models

import "time"

// Outcome is the result of one verifier evaluation. Outcomes form an ordered
// severity lattice: pass < warn < block.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeWarn  Outcome = "warn"
	OutcomeBlock Outcome = "block"
)

// Severity returns the lattice position of the outcome. Unknown values rank
// with warn.
func (o Outcome) Severity() int {
	switch o {
	case OutcomePass:
		return 0
	case OutcomeBlock:
		return 2
	default:
		return 1
	}
}

// VerifierResult is an append-only record of a non-pass verifier outcome.
type VerifierResult struct {
	SessionID    string    `json:"session_id"`
	ToolName     string    `json:"tool_name"`
	VerifierName string    `json:"verifier_name"`
	Outcome      Outcome   `json:"outcome"`
	Message      string    `json:"message,omitempty"`
	Input        string    `json:"input,omitempty"`
	Output       string    `json:"output,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
