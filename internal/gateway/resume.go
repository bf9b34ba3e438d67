package gateway

import (
	"errors"
	"net/http"

	"github.com/jsquire4/tool-forge-sub001/internal/hitl"
	"github.com/jsquire4/tool-forge-sub001/internal/react"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

type resumeRequest struct {
	ResumeToken string `json:"resumeToken"`
	Confirmed   bool   `json:"confirmed"`
}

// handleResume serves POST /agent-api/chat/resume. A confirmation redeems the
// token exactly once and continues the suspended loop over SSE. A cancel
// leaves the token untouched so the user can still confirm before it expires.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resumeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.ResumeToken == "" {
		writeError(w, http.StatusBadRequest, "resumeToken is required")
		return
	}

	if !req.Confirmed {
		if s.metrics != nil {
			s.metrics.RecordHitlEvent("cancelled")
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Cancelled"})
		return
	}

	if s.hitl == nil {
		writeError(w, http.StatusNotImplemented, "HITL is not enabled")
		return
	}

	state, err := s.hitl.Resume(ctx, req.ResumeToken)
	if err != nil {
		if errors.Is(err, hitl.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resume token not found or expired")
		} else {
			s.logger.Error("resume lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "resume failed")
		}
		return
	}

	cc := &chatContext{
		userID:    state.UserID,
		sessionID: state.SessionID,
		agentID:   state.AgentID,
	}
	if cc.userID == "" {
		cc.userID = userID(ctx)
	}

	// The paused agent may have been deleted or disabled since the pause;
	// base configuration applies then.
	var agent *models.Agent
	if s.agents != nil && state.AgentID != "" {
		if a, lookupErr := s.agents.Get(ctx, state.AgentID); lookupErr == nil && a.Enabled {
			agent = a
		} else {
			s.logger.Warn("paused agent unavailable, using base config", "agent", state.AgentID)
			cc.agentID = ""
		}
	}

	cc.scoped = s.cfg.Scope(agent, s.overlay)
	cc.effective, err = s.resolver.ResolveEffective(ctx, cc.userID, cc.scoped)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings resolution failed")
		return
	}
	if cc.effective.APIKey == "" {
		writeError(w, http.StatusInternalServerError,
			"no API key configured for provider "+string(cc.effective.Provider))
		return
	}
	cc.model = cc.effective.Model

	provider, err := s.providers(cc.effective.Provider, cc.effective.APIKey)
	if err != nil {
		s.logger.Error("provider construction failed", "provider", cc.effective.Provider, "error", err)
		writeError(w, http.StatusInternalServerError, "provider unavailable")
		return
	}
	cc.loopCfg = s.loopConfig(ctx, provider, cc)

	sink, err := NewSseSink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
		s.metrics.RecordHitlEvent("resumed")
	}

	sink.SendNamed("session", sessionPayload{SessionID: cc.sessionID, AgentID: cc.agentID})

	ctx, end := s.traceChat(ctx, "/agent-api/chat/resume", cc.sessionID)
	defer end()

	events := react.Resume(ctx, cc.loopCfg, state)
	result := s.driveLoop(ctx, events, sink, true, cc)

	s.recordChatAudit(ctx, cc, result)
}
