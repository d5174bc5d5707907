// Package api provides the HTTP handlers of the development chat backend.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/ttakmal/internal/identity"
	"github.com/ashureev/ttakmal/internal/metrics"
	"github.com/ashureev/ttakmal/internal/quotebot"
	"github.com/ashureev/ttakmal/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// User-facing error messages.
const (
	msgBadRequest    = "잘못된 요청 형식입니다."
	msgMissingParams = "필수 파라미터가 누락되었습니다."
	msgInvalidKey    = "잘못된 대화 식별자입니다."
	msgNotFound      = "대화를 찾을 수 없습니다."
	msgConflict      = "지금은 요청을 처리할 수 없습니다."
	msgUnavailable   = "서비스를 일시적으로 사용할 수 없습니다."
	msgInternal      = "서버 내부 오류가 발생했습니다."
	msgDeleted       = "대화가 삭제되었습니다."
)

// Options tunes the simulated backend behaviour.
type Options struct {
	// ReplyDelay holds status polls back to mimic a slow model.
	ReplyDelay time.Duration
	// ChunkInterval paces streamed chunks.
	ChunkInterval time.Duration
	// HealthTimeout bounds the store ping of GET /health.
	HealthTimeout time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Handler serves the chat API.
type Handler struct {
	engine  *quotebot.Engine
	store   store.ConversationStore
	streams *StreamRegistry
	metrics *metrics.Metrics
	logger  *slog.Logger

	replyDelay    time.Duration
	chunkInterval time.Duration
	healthTimeout time.Duration
}

// NewHandler creates a Handler. streams may be shared with the TTL worker
// so evicted conversations drop their streams.
func NewHandler(engine *quotebot.Engine, st store.ConversationStore, streams *StreamRegistry, opts Options) *Handler {
	if streams == nil {
		streams = NewStreamRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	return &Handler{
		engine:        engine,
		store:         st,
		streams:       streams,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		replyDelay:    opts.ReplyDelay,
		chunkInterval: opts.ChunkInterval,
		healthTimeout: opts.HealthTimeout,
	}
}

// RegisterRoutes registers the chat routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Route("/chat", func(r chi.Router) {
			r.Post("/send", h.HandleSend)
			r.Get("/status", h.HandleStatus)
			r.Get("/stream", h.HandleStream)
			r.Get("/ws", h.HandleWebSocket)
			r.Delete("/{userId}/{threadNum}", h.HandleReset)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorStatus maps an error class to an HTTP status and a message that can
// be shown to the user.
func ErrorStatus(err error) (int, string) {
	var qe *quotebot.Error
	msg := ""
	if errors.As(err, &qe) {
		msg = qe.Message
	}
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsInvalidArgument(err):
		status = http.StatusBadRequest
		if msg == "" {
			msg = msgBadRequest
		}
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
		if msg == "" {
			msg = msgNotFound
		}
	case errdefs.IsFailedPrecondition(err), errdefs.IsConflict(err):
		status = http.StatusConflict
		if msg == "" {
			msg = msgConflict
		}
	case errdefs.IsUnavailable(err):
		status = http.StatusServiceUnavailable
		if msg == "" {
			msg = msgUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		msg = msgInternal
	}
	return status, msg
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Chat request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Chat request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}

// conversationParams checks a userId/threadNum pair. A non-empty problem
// is the message for a 400 response.
func conversationParams(userID, threadNum string) (problem string) {
	if userID == "" || threadNum == "" {
		return msgMissingParams
	}
	if !identity.ValidKey(userID) || !identity.ValidKey(threadNum) {
		return msgInvalidKey
	}
	return ""
}
