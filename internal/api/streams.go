package api

import (
	"context"
	"log/slog"
	"sync"
)

type activeStream struct {
	id     uint64
	cancel context.CancelFunc
}

// StreamRegistry tracks the one active stream per conversation. Registering
// a new stream for a conversation cancels the one it replaces.
type StreamRegistry struct {
	mu     sync.Mutex
	nextID uint64
	active map[string]activeStream
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{active: make(map[string]activeStream)}
}

// Register derives a stream context from ctx for key. The returned release
// func must be called when the stream ends; it only unregisters the stream
// if it has not been replaced in the meantime.
func (m *StreamRegistry) Register(ctx context.Context, key string) (context.Context, func()) {
	streamCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	if existing, ok := m.active[key]; ok {
		existing.cancel()
		slog.Info("Chat stream replaced", "conversation", key)
	}
	m.active[key] = activeStream{id: id, cancel: cancel}
	m.mu.Unlock()

	release := func() {
		cancel()
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.active[key]; ok && current.id == id {
			delete(m.active, key)
		}
	}
	return streamCtx, release
}

// Close cancels the active stream of a conversation, if any.
func (m *StreamRegistry) Close(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[key]; ok {
		s.cancel()
		delete(m.active, key)
		slog.Info("Chat stream closed", "conversation", key)
	}
}

// CloseAll cancels every active stream.
func (m *StreamRegistry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.active {
		s.cancel()
		delete(m.active, key)
	}
}

// Len returns the number of active streams.
func (m *StreamRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
