package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*domain.Conversation)}
}

// Get implements ConversationStore.
func (s *MemoryStore) Get(_ context.Context, userID, threadNum string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[identity.ConversationKey(userID, threadNum)]
	if !ok {
		return nil, fmt.Errorf("conversation %s/%s: %w", userID, threadNum, errdefs.ErrNotFound)
	}
	return conv.Clone(), nil
}

// Save implements ConversationStore.
func (s *MemoryStore) Save(_ context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return fmt.Errorf("save conversation: %w", errdefs.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs[identity.ConversationKey(conv.UserID, conv.ThreadNum)] = conv.Clone()
	return nil
}

// Delete implements ConversationStore.
func (s *MemoryStore) Delete(_ context.Context, userID, threadNum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identity.ConversationKey(userID, threadNum)
	if _, ok := s.convs[key]; !ok {
		return fmt.Errorf("conversation %s/%s: %w", userID, threadNum, errdefs.ErrNotFound)
	}
	delete(s.convs, key)
	return nil
}

// Count implements ConversationStore.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs), nil
}

// DeleteExpired implements ConversationStore.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key, conv := range s.convs {
		if conv.UpdatedAt.Before(cutoff) {
			keys = append(keys, key)
			delete(s.convs, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping implements ConversationStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements ConversationStore.
func (s *MemoryStore) Close() error { return nil }
