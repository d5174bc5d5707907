package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/ttakmal/internal/domain"
)

// CreateWebSocketConnection is the WebSocket flavour of
// CreateStreamingConnection: the backend pushes the same chunks as JSON text
// messages on GET /chat/ws.
func (c *Client) CreateWebSocketConnection(
	ctx context.Context,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onError func(error),
	onComplete func(),
) domain.StopFunc {
	h, wsCtx := newHandle(ctx)

	go func() {
		defer h.stop()

		err := c.readWebSocket(wsCtx, h, userID, threadNum, onChunk, onComplete)
		if err != nil && h.live() && wsCtx.Err() == nil {
			c.logger.Warn("websocket stream failed", "user_id", userID, "thread_num", threadNum, "error", err)
			onError(err)
		}
	}()

	return h.stop
}

func (c *Client) readWebSocket(
	ctx context.Context,
	h *handle,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onComplete func(),
) error {
	conn, resp, err := websocket.Dial(ctx, c.webSocketURL(userID, threadNum), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "client done")
	}()
	conn.SetReadLimit(MaxChunkSize)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ErrStreamClosed
			}
			return fmt.Errorf("read websocket: %w", err)
		}

		var chunk domain.StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Warn("dropping malformed websocket chunk", "error", err, "size", len(data))
			continue
		}
		if !h.live() {
			return nil
		}

		switch chunk.Type {
		case domain.ChunkError:
			return &StreamError{Message: chunk.Data}
		case domain.ChunkComplete:
			onChunk(chunk)
			h.stop()
			onComplete()
			return nil
		default:
			onChunk(chunk)
		}
	}
}

func (c *Client) webSocketURL(userID, threadNum string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/chat/ws?" + conversationQuery(userID, threadNum)
}
