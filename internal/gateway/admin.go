package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jsquire4/tool-forge-sub001/internal/agents"
	"github.com/jsquire4/tool-forge-sub001/internal/config"
	"github.com/jsquire4/tool-forge-sub001/internal/prompts"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

func (s *Server) handleAdminListAgents(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []models.Agent{}})
		return
	}
	list, err := s.agents.List(r.Context())
	if err != nil {
		s.logger.Error("agent list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if list == nil {
		list = []models.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": list})
}

func (s *Server) handleAdminUpsertAgent(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, http.StatusNotImplemented, "agent registry is not enabled")
		return
	}
	var agent models.Agent
	if !s.decodeBody(w, r, &agent) {
		return
	}
	if !models.ValidAgentID(agent.ID) {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if agent.Name == "" {
		writeError(w, http.StatusBadRequest, "agent name is required")
		return
	}
	if err := s.agents.Upsert(r.Context(), &agent); err != nil {
		if errors.Is(err, agents.ErrInvalidAgentID) {
			writeError(w, http.StatusBadRequest, "invalid agent id")
			return
		}
		s.logger.Error("agent upsert failed", "agent", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAdminGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.agents == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	agent, err := s.agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
		} else {
			s.logger.Error("agent lookup failed", "agent", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load agent")
		}
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAdminDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.agents == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	err := s.agents.Delete(r.Context(), id)
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case err != nil:
		s.logger.Error("agent delete failed", "agent", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete agent")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleAdminSetDefault(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.agents == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	err := s.agents.SetDefault(r.Context(), id)
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, agents.ErrAgentDisabled):
		writeError(w, http.StatusBadRequest, "agent is disabled")
	case err != nil:
		s.logger.Error("set default agent failed", "agent", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set default agent")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "default set", "agentId": id})
	}
}

func (s *Server) handleAdminGetConfig(w http.ResponseWriter, r *http.Request) {
	overlay := map[string]map[string]any{}
	if s.overlay != nil {
		overlay = s.overlay.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sections": config.OverlaySections,
		"overlay":  overlay,
	})
}

func (s *Server) handleAdminGetSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if !config.ValidSection(section) {
		writeError(w, http.StatusNotFound, "unknown config section")
		return
	}
	values := map[string]any{}
	if s.overlay != nil {
		values = s.overlay.Section(section)
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": section, "values": values})
}

func (s *Server) handleAdminPutSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if !config.ValidSection(section) {
		writeError(w, http.StatusNotFound, "unknown config section")
		return
	}
	if s.overlay == nil {
		writeError(w, http.StatusNotImplemented, "runtime config overlay is not enabled")
		return
	}
	var values map[string]any
	if !s.decodeBody(w, r, &values) {
		return
	}
	// Put applies in memory first; a persistence failure leaves the live
	// overlay updated, so the request still succeeds.
	if err := s.overlay.Put(section, values); err != nil {
		s.logger.Warn("overlay persist failed", "section", section, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": section, "values": s.overlay.Section(section)})
}

func (s *Server) handleAdminListPrompts(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"prompts": []models.PromptVersion{}})
		return
	}
	list, err := s.prompts.List(r.Context())
	if err != nil {
		s.logger.Error("prompt list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	if list == nil {
		list = []models.PromptVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": list})
}

type createPromptRequest struct {
	Version string `json:"version"`
	Content string `json:"content"`
	Notes   string `json:"notes,omitempty"`
}

func (s *Server) handleAdminCreatePrompt(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		writeError(w, http.StatusNotImplemented, "prompt store is not enabled")
		return
	}
	var req createPromptRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Version == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "version and content are required")
		return
	}
	created, err := s.prompts.Create(r.Context(), req.Version, req.Content, req.Notes)
	if err != nil {
		s.logger.Error("prompt create failed", "version", req.Version, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create prompt version")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleAdminActivatePrompt(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		writeError(w, http.StatusNotImplemented, "prompt store is not enabled")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prompt id")
		return
	}
	if err := s.prompts.Activate(r.Context(), id); err != nil {
		if errors.Is(err, prompts.ErrVersionNotFound) {
			writeError(w, http.StatusNotFound, "prompt version not found")
		} else {
			s.logger.Error("prompt activate failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to activate prompt version")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated", "id": id})
}
