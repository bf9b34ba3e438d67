// Package agents manages the agent registry: named profiles selectable per
// chat request, seeded from configuration and editable through the admin
// plane. The registry keeps at most one default among enabled agents.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

var (
	// ErrAgentNotFound means no agent has the given id.
	ErrAgentNotFound = errors.New("agents: agent not found")

	// ErrInvalidAgentID means the id is not a valid slug.
	ErrInvalidAgentID = errors.New("agents: invalid agent id")

	// ErrAgentDisabled means the agent exists but cannot be selected.
	ErrAgentDisabled = errors.New("agents: agent disabled")
)

// Registry is the agent CRUD capability set. Delete auto-promotes a new
// default when the deleted agent held it; SetDefault demotes every other
// agent in the same operation.
type Registry interface {
	Upsert(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context) ([]models.Agent, error)
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
	Default(ctx context.Context) (*models.Agent, error)
	Close() error
}

// Seed upserts config-declared agents, marking them seeded. The first seeded
// agent becomes the default when none exists yet. Seeding errors are logged
// and skipped, never fatal.
func Seed(ctx context.Context, registry Registry, seeds []models.Agent, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for i := range seeds {
		agent := seeds[i]
		agent.SeededFromConfig = true
		agent.Enabled = true
		if err := registry.Upsert(ctx, &agent); err != nil {
			logger.Warn("agent seed failed", "agent", agent.ID, "error", err)
			continue
		}
	}
	if def, err := registry.Default(ctx); err == nil && def == nil {
		all, err := registry.List(ctx)
		if err != nil || len(all) == 0 {
			return
		}
		if err := registry.SetDefault(ctx, all[0].ID); err != nil {
			logger.Warn("default agent promotion failed", "agent", all[0].ID, "error", err)
		}
	}
}

// MemoryRegistry is the zero-config backend.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{agents: make(map[string]*models.Agent)}
}

func (r *MemoryRegistry) Upsert(ctx context.Context, agent *models.Agent) error {
	if !models.ValidAgentID(agent.ID) {
		return ErrInvalidAgentID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cp := *agent
	cp.UpdatedAt = now
	if existing, ok := r.agents[agent.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	if cp.IsDefault && cp.Enabled {
		for _, other := range r.agents {
			other.IsDefault = false
		}
	} else {
		cp.IsDefault = false
	}
	r.agents[agent.ID] = &cp
	return nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, *agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	wasDefault := agent.IsDefault
	delete(r.agents, id)
	if wasDefault {
		r.promoteLocked()
	}
	return nil
}

// promoteLocked makes the first remaining enabled agent (by id) the default.
func (r *MemoryRegistry) promoteLocked() {
	var ids []string
	for id, agent := range r.agents {
		if agent.Enabled {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	r.agents[ids[0]].IsDefault = true
}

func (r *MemoryRegistry) SetDefault(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if !target.Enabled {
		return ErrAgentDisabled
	}
	for _, agent := range r.agents {
		agent.IsDefault = false
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRegistry) Default(ctx context.Context) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, agent := range r.agents {
		if agent.IsDefault && agent.Enabled {
			cp := *agent
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRegistry) Close() error { return nil }

var _ Registry = (*MemoryRegistry)(nil)
