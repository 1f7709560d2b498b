// Package memory defines the conversation history collaborator. The core
// reads a bounded window for context hydration and appends the user and
// assistant turns after each request.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Turn is one persisted conversation message.
type Turn struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	SessionKey string    `json:"session_key"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
}

// Roles used by the orchestrator.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store persists and reads conversation turns.
type Store interface {
	Recent(ctx context.Context, sessionKey string, limit int) ([]Turn, error)
	Append(ctx context.Context, turn Turn) error
}

// InMemoryStore is a process-local Store used in tests and development.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewInMemoryStore builds an empty in-process store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) Append(ctx context.Context, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := strings.TrimSpace(turn.SessionKey)
	if key == "" || strings.TrimSpace(turn.Content) == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[key] = append(s.turns[key], turn)
	return nil
}

func (s *InMemoryStore) Recent(ctx context.Context, sessionKey string, limit int) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[strings.TrimSpace(sessionKey)]
	if len(all) == 0 {
		return nil, nil
	}

	out := make([]Turn, len(all))
	copy(out, all)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
