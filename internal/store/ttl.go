package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the TTL worker looks for idle conversations.
const DefaultSweepInterval = 5 * time.Minute

// EvictCallback is called with the conversation key of each evicted conversation.
type EvictCallback func(key string)

// Expirer deletes conversations idle since before cutoff. A ConversationStore
// is one; the server passes its engine so eviction is serialized with turns.
type Expirer interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}

// StartTTLWorker runs a background goroutine that periodically deletes
// conversations idle for longer than ttl.
func StartTTLWorker(ctx context.Context, s Expirer, ttl, interval time.Duration, onEvict EvictCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, s, time.Now().Add(-ttl), onEvict)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, s Expirer, cutoff time.Time, onEvict EvictCallback) int {
	keys, err := s.DeleteExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("TTL worker: context canceled during sweep", "error", err)
			return 0
		}
		slog.Error("TTL worker failed to delete expired conversations", "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	for _, key := range keys {
		slog.Info("TTL worker evicted conversation", "conversation", key)
		if onEvict != nil {
			onEvict(key)
		}
	}
	slog.Info("TTL worker cleanup completed", "evicted", len(keys))
	return len(keys)
}
