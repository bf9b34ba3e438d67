package conversation

import (
	"context"
	"sync"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// MemoryStore is the zero-config backend. Sessions live for the process
// lifetime only.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.ConversationMessage
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]models.ConversationMessage)}
}

func (s *MemoryStore) PersistMessage(ctx context.Context, msg *models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.SessionID]; !ok {
		s.order = append(s.order, msg.SessionID)
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 25
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationMessage
	for _, msg := range s.messages[sessionID] {
		if isCompleteMarker(msg.Role, msg.Content) {
			continue
		}
		out = append(out, msg)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SessionSummary
	for _, sid := range s.order {
		msgs := s.messages[sid]
		if len(msgs) == 0 || msgs[0].UserID != userID {
			continue
		}
		summary := SessionSummary{
			SessionID: sid,
			AgentID:   msgs[0].AgentID,
			FirstAt:   msgs[0].CreatedAt,
			LastAt:    msgs[len(msgs)-1].CreatedAt,
		}
		for _, msg := range msgs {
			if isCompleteMarker(msg.Role, msg.Content) {
				continue
			}
			summary.MessageCount++
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.messages[sessionID]
	if !ok || len(msgs) == 0 {
		return ErrSessionNotFound
	}
	if msgs[0].UserID != "" && msgs[0].UserID != userID {
		return ErrNotOwner
	}
	delete(s.messages, sessionID)
	for i, sid := range s.order {
		if sid == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) GetSessionUserID(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.messages[sessionID]
	if !ok || len(msgs) == 0 {
		return "", ErrSessionNotFound
	}
	return msgs[0].UserID, nil
}

func (s *MemoryStore) GetIncompleteSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, sid := range s.order {
		msgs := s.messages[sid]
		complete := false
		for _, msg := range msgs {
			if isCompleteMarker(msg.Role, msg.Content) {
				complete = true
				break
			}
		}
		if !complete {
			out = append(out, sid)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
