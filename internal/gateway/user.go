package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/jsquire4/tool-forge-sub001/internal/conversation"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// preferencesReply is the GET /agent-api/user/preferences body. Effective
// values fold the permission gates in so clients see what actually applies.
type preferencesReply struct {
	Model              *string           `json:"model,omitempty"`
	HitlLevel          *models.HitlLevel `json:"hitlLevel,omitempty"`
	EffectiveModel     string            `json:"effectiveModel"`
	EffectiveHitlLevel models.HitlLevel  `json:"effectiveHitlLevel"`
	ModelSelectable    bool              `json:"modelSelectable"`
	HitlConfigurable   bool              `json:"hitlConfigurable"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(ctx)

	scoped := s.cfg.Scope(nil, s.overlay)
	effective, err := s.resolver.ResolveEffective(ctx, uid, scoped)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings resolution failed")
		return
	}

	reply := preferencesReply{
		EffectiveModel:     effective.Model,
		EffectiveHitlLevel: effective.HitlLevel,
		ModelSelectable:    scoped.AllowUserModelSelect,
		HitlConfigurable:   scoped.AllowUserHitlConfig,
	}
	if s.prefs != nil {
		if stored, err := s.prefs.Get(ctx, uid); err == nil && stored != nil {
			reply.Model = stored.Model
			reply.HitlLevel = stored.HitlLevel
		}
	}
	writeJSON(w, http.StatusOK, reply)
}

type preferencesRequest struct {
	Model     *string           `json:"model"`
	HitlLevel *models.HitlLevel `json:"hitlLevel"`
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := userID(ctx)

	if s.prefs == nil {
		writeError(w, http.StatusNotImplemented, "preferences are not enabled")
		return
	}

	var req preferencesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	scoped := s.cfg.Scope(nil, s.overlay)
	if req.Model != nil && !scoped.AllowUserModelSelect {
		writeError(w, http.StatusForbidden, "model selection is not permitted")
		return
	}
	if req.HitlLevel != nil {
		if !scoped.AllowUserHitlConfig {
			writeError(w, http.StatusForbidden, "HITL configuration is not permitted")
			return
		}
		if !req.HitlLevel.Valid() {
			writeError(w, http.StatusBadRequest, "invalid hitlLevel")
			return
		}
	}

	prefs := &models.UserPreferences{
		UserID:    uid,
		Model:     req.Model,
		HitlLevel: req.HitlLevel,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.prefs.Upsert(ctx, prefs); err != nil {
		s.logger.Error("preferences upsert failed", "user", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.convs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"conversations": []conversation.SessionSummary{}})
		return
	}
	summaries, err := s.convs.ListSessions(ctx, userID(ctx))
	if err != nil {
		s.logger.Error("conversation list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if summaries == nil {
		summaries = []conversation.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

// conversationMessage is one history row in the GET conversation reply.
type conversationMessage struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := r.PathValue("sid")

	if s.convs == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	owner, err := s.convs.GetSessionUserID(ctx, sid)
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
		} else {
			s.logger.Error("session owner lookup failed", "session", sid, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load conversation")
		}
		return
	}
	if owner != "" && owner != userID(ctx) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	rows, err := s.convs.GetHistory(ctx, sid, 0)
	if err != nil {
		s.logger.Error("history load failed", "session", sid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	messages := make([]conversationMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, conversationMessage{
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sid,
		"messages":  messages,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := r.PathValue("sid")

	if s.convs == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	err := s.convs.DeleteSession(ctx, sid, userID(ctx))
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrNotOwner):
		writeError(w, http.StatusForbidden, "forbidden")
	case err != nil:
		s.logger.Error("conversation delete failed", "session", sid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// toolSummary is one entry in the GET /agent-api/tools reply.
type toolSummary struct {
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	Method               string `json:"method"`
	Endpoint             string `json:"endpoint,omitempty"`
	RequiresConfirmation bool   `json:"requiresConfirmation,omitempty"`
}

// handleListTools lists the promoted tools visible through the default
// agent's allowlist.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	agent, err := s.resolveAgent(ctx, "")
	if err != nil {
		agent = nil
	}
	scoped := s.cfg.Scope(agent, s.overlay)

	specs := s.visibleTools(scoped)
	out := make([]toolSummary, 0, len(specs))
	for i := range specs {
		spec := &specs[i]
		summary := toolSummary{
			Name:                 spec.Name,
			Description:          spec.Description,
			Method:               spec.Method(),
			RequiresConfirmation: spec.RequiresConfirmation,
		}
		if spec.MCPRouting != nil {
			summary.Endpoint = spec.MCPRouting.Endpoint
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}
