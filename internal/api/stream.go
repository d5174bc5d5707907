package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/containerd/errdefs"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
)

const sseRetry = 5 * time.Second

// chunkWriter delivers one chunk to a streaming client.
type chunkWriter func(ctx context.Context, chunk domain.StreamChunk) error

// HandleStream handles GET /api/chat/stream: the pending answer as
// server-sent events, one JSON chunk per event.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, threadNum := q.Get("userId"), q.Get("threadNum")
	if problem := conversationParams(userID, threadNum); problem != "" {
		Error(w, http.StatusBadRequest, problem)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetry.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	write := func(_ context.Context, chunk domain.StreamChunk) error {
		if err := writeSSE(w, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	h.serveChunks(r.Context(), "sse", userID, threadNum, write)
}

// HandleWebSocket handles GET /api/chat/ws: the same chunks as
// HandleStream, as JSON text messages.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, threadNum := q.Get("userId"), q.Get("threadNum")
	if problem := conversationParams(userID, threadNum); problem != "" {
		Error(w, http.StatusBadRequest, problem)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("WebSocket accept failed", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("WebSocket close failed", "error", closeErr)
		}
	}()

	// Reads are only needed to observe the client closing.
	ctx := ws.CloseRead(r.Context())

	write := func(ctx context.Context, chunk domain.StreamChunk) error {
		return wsjson.Write(ctx, ws, chunk)
	}
	h.serveChunks(ctx, "websocket", userID, threadNum, write)
}

// serveChunks registers the stream, renders the conversation and writes
// the chunks paced by the chunk interval. Failures are reported in band as
// an error chunk.
func (h *Handler) serveChunks(ctx context.Context, transport, userID, threadNum string, write chunkWriter) {
	key := identity.ConversationKey(userID, threadNum)
	ctx, release := h.streams.Register(ctx, key)
	defer release()
	defer h.metrics.StreamOpened(transport)()

	h.logger.Info("Chat stream connected", "user_id", userID, "thread_num", threadNum, "transport", transport)

	chunks, err := h.engine.Stream(ctx, userID, threadNum)
	if err != nil {
		_, msg := ErrorStatus(err)
		if !errdefs.IsNotFound(err) {
			h.logger.Error("Chat stream failed", "user_id", userID, "thread_num", threadNum, "error", err)
		}
		chunk := domain.StreamChunk{Type: domain.ChunkError, Data: msg, Timestamp: domain.Timestamp(time.Now())}
		if writeErr := write(ctx, chunk); writeErr != nil {
			h.logger.Warn("failed to write error chunk", "error", writeErr, "user_id", userID)
		}
		h.metrics.RecordChunk(transport, string(domain.ChunkError))
		return
	}

	var tick <-chan time.Time
	if h.chunkInterval > 0 {
		ticker := time.NewTicker(h.chunkInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, chunk := range chunks {
		if i > 0 && tick != nil {
			select {
			case <-ctx.Done():
				h.logger.Info("Chat stream disconnected", "user_id", userID, "thread_num", threadNum, "sent", i)
				return
			case <-tick:
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := write(ctx, chunk); err != nil {
			h.logger.Warn("failed to write stream chunk", "error", err, "user_id", userID, "transport", transport)
			return
		}
		h.metrics.RecordChunk(transport, string(chunk.Type))
	}
	h.logger.Info("Chat stream completed", "user_id", userID, "thread_num", threadNum, "chunks", len(chunks))
}

func writeSSE(w io.Writer, chunk domain.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
