// Package offline runs the scripted quote conversation in process so the
// chat can be exercised without a backend.
package offline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/quotebot"
)

// Default pacing, matching the development backend.
const (
	DefaultDelay         = 1500 * time.Millisecond
	DefaultPollInterval  = time.Second
	DefaultChunkInterval = 100 * time.Millisecond
)

// Options tunes the simulated latency.
type Options struct {
	Delay         time.Duration // before each send or status answer
	PollInterval  time.Duration
	ChunkInterval time.Duration
	Logger        *slog.Logger
}

// Simulator answers like the HTTP backend but from a local engine.
type Simulator struct {
	engine *quotebot.Engine
	opts   Options
}

// New creates a Simulator. Zero durations take the defaults; use a
// negative value for no delay.
func New(engine *quotebot.Engine, opts Options) *Simulator {
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ChunkInterval == 0 {
		opts.ChunkInterval = DefaultChunkInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Simulator{engine: engine, opts: opts}
}

// SendMessage answers one user turn after the configured delay.
func (s *Simulator) SendMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := sleep(ctx, s.opts.Delay); err != nil {
		return nil, err
	}
	return s.engine.Send(ctx, req)
}

// PollStatus mirrors client.PollStatus: immediate status, then one per
// interval until settled, error, or stop. It stops itself on error.
func (s *Simulator) PollStatus(
	ctx context.Context,
	userID, threadNum string,
	onUpdate func(*domain.ChatResponse),
	onError func(error),
) domain.StopFunc {
	h, pollCtx := newHandle(ctx)

	go func() {
		defer h.stop()

		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()

		for {
			if err := sleep(pollCtx, s.opts.Delay); err != nil {
				return
			}
			resp, err := s.engine.Status(pollCtx, userID, threadNum)
			if !h.live() {
				return
			}
			if err != nil {
				s.opts.Logger.Warn("offline status failed", "user_id", userID, "thread_num", threadNum, "error", err)
				onError(err)
				return
			}
			onUpdate(resp)
			if resp.Status.IsSettled() || resp.Status == domain.StatusError {
				return
			}

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return h.stop
}

// CreateStreamingConnection replays the engine's chunks at the chunk interval.
func (s *Simulator) CreateStreamingConnection(
	ctx context.Context,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onError func(error),
	onComplete func(),
) domain.StopFunc {
	h, streamCtx := newHandle(ctx)

	go func() {
		defer h.stop()

		chunks, err := s.engine.Stream(streamCtx, userID, threadNum)
		if err != nil {
			if h.live() {
				onError(err)
			}
			return
		}

		for _, chunk := range chunks {
			if err := sleep(streamCtx, s.opts.ChunkInterval); err != nil || !h.live() {
				return
			}
			if chunk.Type == domain.ChunkComplete {
				onChunk(chunk)
				h.stop()
				onComplete()
				return
			}
			onChunk(chunk)
		}
	}()

	return h.stop
}

type handle struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once
}

func newHandle(parent context.Context) (*handle, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &handle{cancel: cancel}, ctx
}

func (h *handle) stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		h.cancel()
	})
}

func (h *handle) live() bool { return !h.stopped.Load() }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
