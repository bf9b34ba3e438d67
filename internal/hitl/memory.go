package hitl

import (
	"context"
	"sync"
	"time"
)

const memorySweepInterval = 60 * time.Second

type memoryEntry struct {
	state     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process fallback backend. A 60 second sweep removes
// expired entries.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-memory backend and starts its sweep.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Put(ctx context.Context, token string, state []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(state))
	copy(cp, state)
	s.entries[token] = memoryEntry{state: cp, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, token string) ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	delete(s.entries, token)
	return entry.state, entry.expiresAt, nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for token, entry := range s.entries {
				if entry.expiresAt.Before(now) {
					delete(s.entries, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ Store = (*MemoryStore)(nil)
