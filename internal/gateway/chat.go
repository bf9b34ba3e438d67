package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jsquire4/tool-forge-sub001/internal/agents"
	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/internal/conversation"
	"github.com/jsquire4/tool-forge-sub001/internal/hitl"
	"github.com/jsquire4/tool-forge-sub001/internal/llm"
	"github.com/jsquire4/tool-forge-sub001/internal/prefs"
	"github.com/jsquire4/tool-forge-sub001/internal/react"
	"github.com/jsquire4/tool-forge-sub001/internal/tools"
	"github.com/jsquire4/tool-forge-sub001/internal/verifiers"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// fallbackSystemPrompt is the lowest-precedence system prompt.
const fallbackSystemPrompt = "You are a helpful assistant."

var errNoHitlEngine = errors.New("gateway: HITL engine is not configured")

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
}

// chatContext is one prepared chat request: the resolved agent, settings,
// session, trailing history and loop configuration.
type chatContext struct {
	userID    string
	sessionID string
	agentID   string
	scoped    config.Scoped
	effective prefs.Effective
	loopCfg   react.Config
	messages  []models.TurnMessage
	model     string
	message   string
}

// handleChat serves POST /agent-api/chat: the streaming variant. Events flow
// to the client as SSE frames as the loop produces them.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cc, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}

	sink, err := NewSseSink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	sink.SendNamed("session", sessionPayload{SessionID: cc.sessionID, AgentID: cc.agentID})

	ctx, end := s.traceChat(r.Context(), "/agent-api/chat", cc.sessionID)
	defer end()

	events := react.Run(ctx, cc.loopCfg, cc.messages)
	result := s.driveLoop(ctx, events, sink, true, cc)

	s.recordChatAudit(ctx, cc, result)
}

// handleChatSync serves POST /agent-api/chat-sync: the buffered variant. The
// whole loop runs before a single JSON reply; a pause answers 409 with the
// resume token.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	cc, ok := s.prepare(w, r, &req)
	if !ok {
		return
	}

	ctx, end := s.traceChat(r.Context(), "/agent-api/chat-sync", cc.sessionID)
	defer end()

	sink := NewBufferSink(cc.sessionID, cc.agentID)
	events := react.Run(ctx, cc.loopCfg, cc.messages)
	result := s.driveLoop(ctx, events, sink, false, cc)

	s.recordChatAudit(ctx, cc, result)
	switch {
	case result.pauseErr != nil:
		writeError(w, http.StatusInternalServerError, "confirmation required but unavailable")
	case result.hitl:
		writeJSON(w, http.StatusConflict, map[string]string{
			"resumeToken": result.hitlPayload.ResumeToken,
			"tool":        result.hitlPayload.Tool,
			"message":     result.hitlPayload.Message,
		})
	default:
		reply := sink.Reply()
		reply.Message = result.text
		writeJSON(w, http.StatusOK, reply)
	}
}

// prepare runs the shared front half of both chat handlers: agent
// resolution, effective settings, system prompt, session bootstrap, history
// load and loop configuration. On failure it writes the error response and
// returns ok=false.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request, req *chatRequest) (*chatContext, bool) {
	ctx := r.Context()

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, false
	}

	agent, err := s.resolveAgent(ctx, req.AgentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return nil, false
	}

	cc := &chatContext{
		userID:  userID(ctx),
		message: req.Message,
	}
	if agent != nil {
		cc.agentID = agent.ID
	}

	cc.scoped = s.cfg.Scope(agent, s.overlay)
	cc.effective, err = s.resolver.ResolveEffective(ctx, cc.userID, cc.scoped)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings resolution failed")
		return nil, false
	}
	if cc.effective.APIKey == "" {
		writeError(w, http.StatusInternalServerError,
			"no API key configured for provider "+string(cc.effective.Provider))
		return nil, false
	}
	cc.model = cc.effective.Model

	provider, err := s.providers(cc.effective.Provider, cc.effective.APIKey)
	if err != nil {
		s.logger.Error("provider construction failed", "provider", cc.effective.Provider, "error", err)
		writeError(w, http.StatusInternalServerError, "provider unavailable")
		return nil, false
	}

	cc.sessionID = req.SessionID
	if cc.sessionID == "" {
		cc.sessionID = uuid.NewString()
	} else if s.convs != nil {
		// Session ownership is sticky: the first writer owns the id.
		owner, err := s.convs.GetSessionUserID(ctx, cc.sessionID)
		switch {
		case errors.Is(err, conversation.ErrSessionNotFound):
			// Fresh client-chosen id.
		case err != nil:
			s.logger.Error("session owner lookup failed", "session", cc.sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load session")
			return nil, false
		case owner != "" && owner != cc.userID:
			writeError(w, http.StatusForbidden, "forbidden")
			return nil, false
		}
	}

	cc.messages = s.loadHistory(ctx, cc.sessionID, cc.scoped.ConversationWindow)
	s.persistMessage(ctx, cc, models.RoleUser, req.Message)
	cc.messages = append(cc.messages, models.TurnMessage{Role: models.RoleUser, Content: req.Message})

	cc.loopCfg = s.loopConfig(ctx, provider, cc)
	return cc, true
}

// traceChat opens the per-request chat span when tracing is configured.
func (s *Server) traceChat(ctx context.Context, route, sessionID string) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := s.tracer.TraceChatRequest(ctx, route, sessionID)
	return ctx, func() { span.End() }
}

// resolveAgent maps a request's agent id to a registry agent. An explicit id
// must name an enabled agent; an absent id falls back to the default, and a
// registry without agents yields nil (base config applies).
func (s *Server) resolveAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	if s.agents == nil {
		return nil, nil
	}
	if agentID == "" {
		agent, err := s.agents.Default(ctx)
		if err != nil {
			s.logger.Warn("default agent lookup failed", "error", err)
			return nil, nil
		}
		return agent, nil
	}
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		return nil, agents.ErrAgentDisabled
	}
	return agent, nil
}

// systemPrompt applies the precedence agent > active prompt version > config
// > fallback. The agent's prompt already rides in the scoped config.
func (s *Server) systemPrompt(ctx context.Context, scoped config.Scoped) string {
	if scoped.SystemPrompt != "" {
		return scoped.SystemPrompt
	}
	if s.prompts != nil {
		if active, err := s.prompts.Active(ctx); err == nil && active != nil {
			return active.Content
		}
	}
	if s.cfg.SystemPrompt != "" {
		return s.cfg.SystemPrompt
	}
	return fallbackSystemPrompt
}

// visibleTools returns the promoted tools the agent's allowlist admits.
func (s *Server) visibleTools(scoped config.Scoped) []models.ToolSpec {
	if s.tools == nil {
		return nil
	}
	return tools.FilterAllowed(s.tools.All(), scoped.ToolAllowlist)
}

// loopConfig assembles the loop configuration for one request, wiring the
// pause policy and the verifier pipeline as hooks.
func (s *Server) loopConfig(ctx context.Context, provider llm.Provider, cc *chatContext) react.Config {
	sessionID := cc.sessionID
	level := cc.effective.HitlLevel

	hooks := react.Hooks{
		ShouldPause: func(spec *models.ToolSpec) bool {
			return hitl.ShouldPause(level, spec)
		},
	}
	if s.verifiers != nil {
		hooks.OnAfterToolCall = func(ctx context.Context, call models.ToolCall, result string) verifiers.Verdict {
			verdict := s.verifiers.Verify(ctx, sessionID, call.Name, call.Input, result)
			if s.metrics != nil && verdict.Verifier != "" {
				s.metrics.RecordVerifierOutcome(verdict.Verifier, string(verdict.Outcome))
			}
			return verdict
		}
	}

	return react.Config{
		Provider:   provider,
		Model:      cc.effective.Model,
		System:     s.systemPrompt(ctx, cc.scoped),
		MaxTokens:  cc.scoped.MaxTokens,
		MaxTurns:   cc.scoped.MaxTurns,
		Tools:      s.visibleTools(cc.scoped),
		Dispatcher: s.dispatcher,
		Hooks:      hooks,
		Logger:     s.logger,
	}
}

// loadHistory returns the trailing window of the session as loop messages.
// A read failure degrades to an empty history.
func (s *Server) loadHistory(ctx context.Context, sessionID string, window int) []models.TurnMessage {
	if s.convs == nil {
		return nil
	}
	rows, err := s.convs.GetHistory(ctx, sessionID, window)
	if err != nil {
		s.logger.Warn("history load failed", "session", sessionID, "error", err)
		return nil
	}
	messages := make([]models.TurnMessage, 0, len(rows))
	for _, row := range rows {
		switch row.Role {
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, models.TurnMessage{Role: row.Role, Content: row.Content})
		}
	}
	return messages
}

// persistMessage appends one conversation row. Failure is logged and the
// request proceeds.
func (s *Server) persistMessage(ctx context.Context, cc *chatContext, role models.Role, content string) {
	if s.convs == nil || content == "" {
		return
	}
	err := s.convs.PersistMessage(ctx, &models.ConversationMessage{
		ID:        uuid.NewString(),
		SessionID: cc.sessionID,
		Stage:     models.StageChat,
		Role:      role,
		Content:   content,
		AgentID:   cc.agentID,
		UserID:    cc.userID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("conversation persist failed",
			"session", cc.sessionID, "role", role, "error", err)
	}
}

// driveResult summarises one drained loop for the handler and the audit row.
type driveResult struct {
	text        string
	toolCount   int
	warnings    int
	hitl        bool
	hitlPayload *models.HitlPayload
	pauseErr    error
	errMsg      string
}

// driveLoop drains the loop's events into the sink. It owns the assistant
// text accumulator: deltas append, consolidated text overwrites, and the
// accumulated text is persisted on done and before each pause. In streaming
// mode a pause is forwarded with its resume token and draining continues; in
// sync mode it ends the drive so the handler can answer 409.
func (s *Server) driveLoop(ctx context.Context, events <-chan models.ReactEvent, sink EventSink, streaming bool, cc *chatContext) driveResult {
	var result driveResult
	var acc string

	for event := range events {
		switch event.Type {
		case models.EventTextDelta:
			acc += event.Text
			sink.Send(event)

		case models.EventText:
			acc = event.Text
			sink.Send(event)

		case models.EventToolCall:
			result.toolCount++
			sink.Send(event)

		case models.EventToolWarning:
			result.warnings++
			sink.Send(event)

		case models.EventError:
			result.errMsg = event.Error
			sink.Send(event)

		case models.EventHitl:
			if acc != "" {
				s.persistMessage(ctx, cc, models.RoleAssistant, acc)
				acc = ""
			}
			if s.hitl == nil {
				result.pauseErr = errNoHitlEngine
				if streaming {
					sink.Send(models.ReactEvent{Type: models.EventError, Error: "confirmation required but unavailable"})
				}
				return result
			}

			state := event.Hitl.State
			state.SessionID = cc.sessionID
			state.AgentID = cc.agentID
			state.UserID = cc.userID
			token, err := s.hitl.Pause(ctx, state)
			if err != nil {
				s.logger.Error("pause store failed", "session", cc.sessionID, "error", err)
				result.pauseErr = err
				if streaming {
					sink.Send(models.ReactEvent{Type: models.EventError, Error: "failed to store pause state"})
				}
				return result
			}
			if s.metrics != nil {
				s.metrics.RecordHitlEvent("paused")
			}

			event.Hitl.ResumeToken = token
			result.hitl = true
			result.hitlPayload = event.Hitl
			if !streaming {
				return result
			}
			sink.Send(event)

		case models.EventDone:
			if acc != "" {
				s.persistMessage(ctx, cc, models.RoleAssistant, acc)
			}
			result.text = acc
			if s.metrics != nil && event.Done != nil {
				s.metrics.RecordLLMRequest(string(cc.effective.Provider), cc.model,
					"success", 0, event.Done.InputTokens, event.Done.OutputTokens)
			}
			sink.Send(event)

		default:
			sink.Send(event)
		}
	}
	return result
}

// recordChatAudit enriches the request's audit row with loop-level detail.
// The audited middleware writes the row itself, exactly once, after the
// handler returns.
func (s *Server) recordChatAudit(ctx context.Context, cc *chatContext, result driveResult) {
	row := auditableRow(ctx)
	if row == nil {
		return
	}
	row.SessionID = cc.sessionID
	row.UserID = cc.userID
	row.AgentID = cc.agentID
	row.Model = cc.model
	row.Message = cc.message
	row.ToolCount = result.toolCount
	row.HitlTriggered = result.hitl
	row.WarningsCount = result.warnings
	row.ErrorMessage = result.errMsg
}
