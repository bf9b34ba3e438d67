// Package prefs stores per-user preference overrides and resolves the
// effective model, HITL level, provider and API key for one request.
package prefs

import (
	"context"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// Store persists user preferences. Get returns nil without error for users
// that never saved any.
type Store interface {
	Get(ctx context.Context, userID string) (*models.UserPreferences, error)
	Upsert(ctx context.Context, prefs *models.UserPreferences) error
	Close() error
}

// MemoryStore is the zero-config backend.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]*models.UserPreferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]*models.UserPreferences)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.UserPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	return clonePrefs(p), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, prefs *models.UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePrefs(prefs)
	cp.UpdatedAt = time.Now().UTC()
	s.prefs[prefs.UserID] = cp
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

func clonePrefs(p *models.UserPreferences) *models.UserPreferences {
	cp := *p
	if p.Model != nil {
		m := *p.Model
		cp.Model = &m
	}
	if p.HitlLevel != nil {
		l := *p.HitlLevel
		cp.HitlLevel = &l
	}
	return &cp
}
