package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/ttakmal/internal/domain"
)

// handle guards the callbacks of one polling loop or stream. After stop
// returns, no further callback is started.
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

func (h *handle) live() bool {
	return !h.stopped.Load()
}

// PollStatus issues an immediate status request and then one per poll
// interval until the status settles or turns to error, the returned
// StopFunc is called, or ctx ends. onError stops the loop unless the client
// was built with WithPollContinueOnError.
func (c *Client) PollStatus(
	ctx context.Context,
	userID, threadNum string,
	onUpdate func(*domain.ChatResponse),
	onError func(error),
) domain.StopFunc {
	h, pollCtx := newHandle(ctx)

	go func() {
		defer h.stop()

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			if !c.pollOnce(pollCtx, h, userID, threadNum, onUpdate, onError) {
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

// pollOnce performs one tick and reports whether polling should continue.
func (c *Client) pollOnce(
	ctx context.Context,
	h *handle,
	userID, threadNum string,
	onUpdate func(*domain.ChatResponse),
	onError func(error),
) bool {
	resp, err := c.GetStatus(ctx, userID, threadNum)
	if !h.live() || ctx.Err() != nil {
		// Late result from a cancelled loop.
		return false
	}
	if err != nil {
		c.logger.Warn("status poll failed", "user_id", userID, "thread_num", threadNum, "error", err)
		onError(err)
		return c.continueOnError
	}

	onUpdate(resp)
	return !(resp.Status.IsSettled() || resp.Status == domain.StatusError)
}
