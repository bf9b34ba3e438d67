// Package react implements the tool-calling loop: call the model, stream its
// text, execute requested tools, feed results back, repeat until the model
// stops asking for tools or the turn budget runs out. The loop is a lazy
// sequence of ReactEvent values; the consumer pumps them to the client.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsquire4/tool-forge-sub001/internal/llm"
	"github.com/jsquire4/tool-forge-sub001/internal/tools"
	"github.com/jsquire4/tool-forge-sub001/internal/verifiers"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

const defaultMaxTurns = 10

// Hooks let the caller gate and inspect tool execution.
type Hooks struct {
	// ShouldPause is consulted before each tool dispatch. Returning true
	// suspends the loop with a hitl event.
	ShouldPause func(spec *models.ToolSpec) bool

	// OnAfterToolCall verifies a tool's output. A warn verdict emits a
	// tool_warning; a block verdict emits one and halts further tool
	// dispatch for the turn.
	OnAfterToolCall func(ctx context.Context, call models.ToolCall, result string) verifiers.Verdict
}

// Config wires one loop run.
type Config struct {
	Provider    llm.Provider
	Model       string
	System      string
	MaxTokens   int
	MaxTurns    int
	Tools       []models.ToolSpec
	Dispatcher  *tools.Dispatcher
	Hooks       Hooks
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Run starts the loop over the given conversation and returns its event
// channel. The channel closes after exactly one terminal done event (or an
// error event followed by done), or after a hitl event when a gated tool
// suspends the run. Cancelling ctx stops the loop without further events.
func Run(ctx context.Context, cfg Config, messages []models.TurnMessage) <-chan models.ReactEvent {
	return start(ctx, cfg, func(ctx context.Context, l *loop) {
		l.run(ctx, messages, 0)
	})
}

// Resume continues a suspended loop from its stored snapshot. The first
// pending tool call was just approved and runs without another pause check;
// later pending calls are still subject to gating.
func Resume(ctx context.Context, cfg Config, state *models.PausedState) <-chan models.ReactEvent {
	return start(ctx, cfg, func(ctx context.Context, l *loop) {
		l.resume(ctx, state)
	})
}

func start(ctx context.Context, cfg Config, body func(context.Context, *loop)) <-chan models.ReactEvent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = llm.DefaultTurnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	events := make(chan models.ReactEvent)
	go func() {
		defer close(events)
		body(ctx, &loop{cfg: cfg, events: events, specs: indexSpecs(cfg.Tools)})
	}()
	return events
}

type loop struct {
	cfg    Config
	events chan<- models.ReactEvent
	specs  map[string]*models.ToolSpec

	inputTokens  int
	outputTokens int
}

func indexSpecs(specs []models.ToolSpec) map[string]*models.ToolSpec {
	index := make(map[string]*models.ToolSpec, len(specs))
	for i := range specs {
		index[specs[i].Name] = &specs[i]
	}
	return index
}

// emit sends one event unless the consumer is gone.
func (l *loop) emit(ctx context.Context, event models.ReactEvent) bool {
	select {
	case l.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *loop) done(ctx context.Context, exhausted bool) {
	l.emit(ctx, models.ReactEvent{
		Type: models.EventDone,
		Done: &models.DonePayload{
			InputTokens:    l.inputTokens,
			OutputTokens:   l.outputTokens,
			TurnsExhausted: exhausted,
		},
	})
}

func (l *loop) fail(ctx context.Context, err error) {
	l.emit(ctx, models.ReactEvent{Type: models.EventError, Error: err.Error()})
	l.done(ctx, false)
}

func (l *loop) run(ctx context.Context, messages []models.TurnMessage, turnIndex int) {
	for turn := turnIndex; turn < l.cfg.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return
		}

		toolCalls, assistantText, err := l.streamTurn(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.fail(ctx, err)
			return
		}

		if len(toolCalls) == 0 {
			l.done(ctx, false)
			return
		}

		messages = append(messages, models.TurnMessage{
			Role:      models.RoleAssistant,
			Content:   assistantText,
			ToolCalls: toolCalls,
		})

		results, terminated := l.toolPhase(ctx, turn, messages, toolCalls, nil, false)
		if terminated {
			return
		}
		messages = append(messages, models.TurnMessage{
			Role:        models.RoleUser,
			ToolResults: results,
		})
	}

	l.done(ctx, true)
}

// resume finishes the tool phase the pause interrupted, then rejoins the
// normal loop on the following turn. state.Messages already ends with the
// assistant message that requested the pending calls.
func (l *loop) resume(ctx context.Context, state *models.PausedState) {
	results, terminated := l.toolPhase(ctx, state.TurnIndex, state.Messages, state.PendingToolCalls, state.CompletedResults, true)
	if terminated {
		return
	}
	messages := append(state.Messages, models.TurnMessage{
		Role:        models.RoleUser,
		ToolResults: results,
	})
	l.run(ctx, messages, state.TurnIndex+1)
}

// toolPhase dispatches the turn's tool calls in order. messages must already
// end with the assistant message carrying the calls; prior holds results
// completed before a resume. approvedFirst skips the pause check for the
// first call only. The terminated return means the run is over (pause,
// cancellation) and no further events may be emitted.
func (l *loop) toolPhase(ctx context.Context, turn int, messages []models.TurnMessage, calls []models.ToolCall, prior []models.ToolCallResult, approvedFirst bool) ([]models.ToolCallResult, bool) {
	results := append([]models.ToolCallResult(nil), prior...)

	for i, call := range calls {
		spec := l.specs[call.Name]

		gated := l.cfg.Hooks.ShouldPause != nil && l.cfg.Hooks.ShouldPause(spec)
		if gated && !(approvedFirst && i == 0) {
			l.emit(ctx, models.ReactEvent{
				Type: models.EventHitl,
				Hitl: &models.HitlPayload{
					Tool:    call.Name,
					Args:    call.Input,
					Message: fmt.Sprintf("Tool %q needs confirmation before it runs.", call.Name),
					State: &models.PausedState{
						Tool:             call.Name,
						Args:             call.Input,
						PendingToolCalls: calls[i:],
						CompletedResults: results,
						Messages:         messages,
						TurnIndex:        turn,
						CreatedAt:        time.Now().UTC(),
					},
				},
			})
			return nil, true
		}

		if !l.emit(ctx, models.ReactEvent{Type: models.EventToolCall, ToolCall: &calls[i]}) {
			return nil, true
		}

		result, payload := l.dispatch(ctx, spec, call)
		results = append(results, result)

		if !l.emit(ctx, models.ReactEvent{Type: models.EventToolResult, ToolResult: &payload}) {
			return nil, true
		}

		if l.cfg.Hooks.OnAfterToolCall == nil {
			continue
		}
		verdict := l.cfg.Hooks.OnAfterToolCall(ctx, call, result.Content)
		if verdict.Outcome != models.OutcomeWarn && verdict.Outcome != models.OutcomeBlock {
			continue
		}
		if !l.emit(ctx, models.ReactEvent{Type: models.EventToolWarning, Warning: &models.ToolWarningPayload{
			Tool:     call.Name,
			Verifier: verdict.Verifier,
			Outcome:  verdict.Outcome,
			Message:  verdict.Message,
		}}) {
			return nil, true
		}
		if verdict.Outcome == models.OutcomeBlock {
			// Remaining calls this turn are skipped; their results record
			// the refusal so the model sees why nothing ran.
			for _, skipped := range calls[i+1:] {
				results = append(results, models.ToolCallResult{
					ToolCallID: skipped.ID,
					Content:    "tool call blocked by verifier",
					IsError:    true,
				})
			}
			break
		}
	}

	return results, false
}

// streamTurn runs one provider call, forwarding text deltas as they arrive
// and collecting tool calls for the tool phase.
func (l *loop) streamTurn(ctx context.Context, messages []models.TurnMessage) ([]models.ToolCall, string, error) {
	turnCtx, cancel := context.WithTimeout(ctx, l.cfg.TurnTimeout)
	defer cancel()

	chunks, err := l.cfg.Provider.Complete(turnCtx, &llm.Request{
		Model:     l.cfg.Model,
		System:    l.cfg.System,
		Messages:  messages,
		Tools:     l.cfg.Tools,
		MaxTokens: l.cfg.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}

	var toolCalls []models.ToolCall
	var text string
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, "", chunk.Err
		case chunk.Text != "":
			text += chunk.Text
			if !l.emit(ctx, models.ReactEvent{Type: models.EventTextDelta, Text: chunk.Text}) {
				return nil, "", ctx.Err()
			}
		case chunk.ToolCall != nil:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case chunk.Done:
			l.inputTokens += chunk.InputTokens
			l.outputTokens += chunk.OutputTokens
		}
	}
	return toolCalls, text, nil
}

// dispatch executes one tool call through the HTTP dispatcher and returns
// both the result threaded back to the model and the payload surfaced to the
// client.
func (l *loop) dispatch(ctx context.Context, spec *models.ToolSpec, call models.ToolCall) (models.ToolCallResult, models.ToolResultPayload) {
	payload := models.ToolResultPayload{ToolCallID: call.ID, Tool: call.Name}

	fail := func(msg string) (models.ToolCallResult, models.ToolResultPayload) {
		payload.Error = msg
		return models.ToolCallResult{ToolCallID: call.ID, Content: msg, IsError: true}, payload
	}
	if spec == nil {
		return fail(fmt.Sprintf("unknown tool %q", call.Name))
	}
	if l.cfg.Dispatcher == nil {
		return fail("tool dispatch is not configured")
	}

	res := l.cfg.Dispatcher.Dispatch(ctx, spec, call.Input)
	payload.Status = res.Status
	// A non-2xx still carries the response body; the client gets both it
	// and the error.
	if res.Body != "" {
		if json.Valid([]byte(res.Body)) {
			payload.Body = json.RawMessage(res.Body)
		} else {
			quoted, _ := json.Marshal(res.Body)
			payload.Body = quoted
		}
	}
	if res.IsError() {
		payload.Error = res.Error
	}
	return models.ToolCallResult{
		ToolCallID: call.ID,
		Content:    res.Content(),
		IsError:    res.IsError(),
	}, payload
}
