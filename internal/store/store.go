// Package store provides conversation persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/ttakmal/internal/domain"
)

// ConversationStore persists the scripted backend's conversations. Lookups
// of unknown conversations return an error matching errdefs.IsNotFound.
type ConversationStore interface {
	// Get retrieves the conversation for a userId/threadNum pair.
	Get(ctx context.Context, userID, threadNum string) (*domain.Conversation, error)

	// Save creates or replaces a conversation.
	Save(ctx context.Context, conv *domain.Conversation) error

	// Delete removes a conversation.
	Delete(ctx context.Context, userID, threadNum string) error

	// Count returns the number of stored conversations.
	Count(ctx context.Context) (int, error)

	// DeleteExpired removes conversations not updated since cutoff and
	// returns their conversation keys.
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}
