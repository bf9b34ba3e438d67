package verifiers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// WildcardTool binds a verifier to every tool.
const WildcardTool = "*"

// Runner evaluates the verifier pipeline for a tool output. Declarative
// bindings come from configuration and never change; custom bindings are
// swapped wholesale when the verifier directory is reloaded.
type Runner struct {
	mu      sync.RWMutex
	static  map[string][]Verifier
	custom  map[string][]Verifier
	results ResultStore
	logger  *slog.Logger
}

// NewRunner creates a runner. results may be nil when verdict logging is
// disabled.
func NewRunner(results ResultStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		static:  make(map[string][]Verifier),
		custom:  make(map[string][]Verifier),
		results: results,
		logger:  logger,
	}
}

// Register binds a declarative verifier to a tool name ("*" for all tools).
func (r *Runner) Register(toolName string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[toolName] = append(r.static[toolName], v)
}

// SetCustom replaces every custom binding. Called on initial load and on
// each directory reload.
func (r *Runner) SetCustom(bindings map[string][]Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bindings == nil {
		bindings = make(map[string][]Verifier)
	}
	r.custom = bindings
}

// pipeline merges per-tool and wildcard bindings, de-duplicates by verifier
// name (first registration wins) and sorts ascending by order key.
func (r *Runner) pipeline(toolName string) []Verifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var merged []Verifier
	for _, set := range [][]Verifier{
		r.static[toolName], r.custom[toolName],
		r.static[WildcardTool], r.custom[WildcardTool],
	} {
		for _, v := range set {
			if seen[v.Name()] {
				continue
			}
			seen[v.Name()] = true
			merged = append(merged, v)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Order() != merged[j].Order() {
			return merged[i].Order() < merged[j].Order()
		}
		return merged[i].Name() < merged[j].Name()
	})
	return merged
}

// Verify runs the pipeline for one tool output. block short-circuits;
// otherwise the worst verdict across all verifiers is returned.
func (r *Runner) Verify(ctx context.Context, sessionID, toolName string, args json.RawMessage, result string) Verdict {
	worst := Pass()
	for _, v := range r.pipeline(toolName) {
		verdict := evaluate(ctx, v, toolName, args, result)
		if verdict.Outcome != models.OutcomePass {
			r.record(ctx, sessionID, toolName, args, result, verdict)
		}
		if verdict.Outcome == models.OutcomeBlock {
			return verdict
		}
		if verdict.Outcome.Severity() > worst.Outcome.Severity() {
			worst = verdict
		}
	}
	return worst
}

// evaluate runs one verifier, coercing unknown outcomes and panics to warn.
func evaluate(ctx context.Context, v Verifier, toolName string, args json.RawMessage, result string) (verdict Verdict) {
	defer func() {
		if p := recover(); p != nil {
			verdict = Verdict{
				Outcome:  models.OutcomeWarn,
				Verifier: v.Name(),
				Message:  fmt.Sprintf("verifier panicked: %v", p),
			}
		}
	}()
	verdict = v.Verify(ctx, toolName, args, result)
	if verdict.Verifier == "" {
		verdict.Verifier = v.Name()
	}
	switch verdict.Outcome {
	case models.OutcomePass, models.OutcomeWarn, models.OutcomeBlock:
	default:
		verdict = Verdict{
			Outcome:  models.OutcomeWarn,
			Verifier: v.Name(),
			Message:  fmt.Sprintf("unknown outcome %q coerced to warn", verdict.Outcome),
		}
	}
	return verdict
}

func (r *Runner) record(ctx context.Context, sessionID, toolName string, args json.RawMessage, result string, verdict Verdict) {
	if r.results == nil {
		return
	}
	row := models.VerifierResult{
		SessionID:    sessionID,
		ToolName:     toolName,
		VerifierName: verdict.Verifier,
		Outcome:      verdict.Outcome,
		Message:      verdict.Message,
		Input:        string(args),
		Output:       result,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.results.Append(ctx, row); err != nil {
		r.logger.Warn("verifier result log failed",
			"verifier", verdict.Verifier, "tool", toolName, "error", err)
	}
}
