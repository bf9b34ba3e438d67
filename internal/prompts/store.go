// Package prompts stores versioned system prompts. At most one version is
// active at a time; activation is atomic so readers never observe two.
package prompts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// ErrVersionNotFound means no prompt version has the given id.
var ErrVersionNotFound = errors.New("prompts: version not found")

// Store is the prompt version capability set. Active returns nil without
// error when no version is active.
type Store interface {
	Create(ctx context.Context, version, content, notes string) (*models.PromptVersion, error)
	List(ctx context.Context) ([]models.PromptVersion, error)
	Get(ctx context.Context, id int64) (*models.PromptVersion, error)
	Activate(ctx context.Context, id int64) error
	Active(ctx context.Context) (*models.PromptVersion, error)
	Close() error
}

// MemoryStore is the zero-config backend.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	versions map[int64]*models.PromptVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[int64]*models.PromptVersion)}
}

func (s *MemoryStore) Create(ctx context.Context, version, content, notes string) (*models.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	v := &models.PromptVersion{
		ID:        s.nextID,
		Version:   version,
		Content:   content,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
	s.versions[v.ID] = v
	return cloneVersion(v), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PromptVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, ErrVersionNotFound
	}
	return cloneVersion(v), nil
}

func (s *MemoryStore) Activate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[id]
	if !ok {
		return ErrVersionNotFound
	}
	for _, v := range s.versions {
		v.IsActive = false
	}
	now := time.Now().UTC()
	target.IsActive = true
	target.ActivatedAt = &now
	return nil
}

func (s *MemoryStore) Active(ctx context.Context) (*models.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.IsActive {
			return cloneVersion(v), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

func cloneVersion(v *models.PromptVersion) *models.PromptVersion {
	cp := *v
	if v.ActivatedAt != nil {
		t := *v.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}
