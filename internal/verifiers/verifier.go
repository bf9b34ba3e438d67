// Package verifiers implements the post-tool verification pipeline: ordered
// checks over tool output, declarative schema and pattern verifiers, and
// user-authored custom verifiers executed in a sandboxed worker pool.
package verifiers

import (
	"context"
	"encoding/json"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// Role declares what a custom verifier guards. Timeouts and crashes in
// sandboxed execution resolve to block for write and warn otherwise.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAny   Role = "any"
)

// roleOutcome maps a role to the outcome synthesised on failure.
func roleOutcome(role Role) models.Outcome {
	if role == RoleWrite {
		return models.OutcomeBlock
	}
	return models.OutcomeWarn
}

// Verdict is the result of evaluating one verifier, or the aggregate of a
// whole pipeline run.
type Verdict struct {
	Outcome  models.Outcome `json:"outcome"`
	Verifier string         `json:"verifier,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Pass is the verdict of an empty pipeline.
func Pass() Verdict {
	return Verdict{Outcome: models.OutcomePass}
}

// Verifier is a named check over one tool call's output.
type Verifier interface {
	Name() string

	// Order is an alphanumeric sort key ("A-0001", "I-0001"); pipelines
	// evaluate ascending.
	Order() string

	Verify(ctx context.Context, tool string, args json.RawMessage, result string) Verdict
}

// ResultStore records non-pass verdicts. Append failures are non-fatal; the
// runner logs and moves on.
type ResultStore interface {
	Append(ctx context.Context, result models.VerifierResult) error
}
