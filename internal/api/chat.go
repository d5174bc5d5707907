package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
)

// HandleSend handles POST /api/chat/send.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "요청 본문이 너무 큽니다.")
			return
		}
		Error(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	resp, err := h.engine.Send(r.Context(), req)
	if err != nil {
		h.metrics.RecordMessage("rejected")
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordMessage("accepted")

	h.logger.Info("Chat message received",
		"user_id", req.UserID,
		"thread_num", req.ThreadNum,
		"status", resp.Status,
		"message_length", len(req.Content),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	JSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /api/chat/status. The answer is held back by the
// configured reply delay; a client that goes away cancels it.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, threadNum := r.URL.Query().Get("userId"), r.URL.Query().Get("threadNum")
	if problem := conversationParams(userID, threadNum); problem != "" {
		Error(w, http.StatusBadRequest, problem)
		return
	}

	if h.replyDelay > 0 {
		timer := time.NewTimer(h.replyDelay)
		select {
		case <-r.Context().Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	resp, err := h.engine.Status(r.Context(), userID, threadNum)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// HandleReset handles DELETE /api/chat/{userId}/{threadNum}.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID, threadNum := chi.URLParam(r, "userId"), chi.URLParam(r, "threadNum")
	if problem := conversationParams(userID, threadNum); problem != "" {
		Error(w, http.StatusBadRequest, problem)
		return
	}

	if err := h.engine.Reset(r.Context(), userID, threadNum); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.streams.Close(identity.ConversationKey(userID, threadNum))
	h.refreshActive(r.Context())

	h.logger.Info("Conversation reset", "user_id", userID, "thread_num", threadNum)
	JSON(w, http.StatusOK, domain.ResetResponse{Message: msgDeleted})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	resp := domain.HealthResponse{
		Status:    "OK",
		Timestamp: domain.Timestamp(time.Now()),
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		resp.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else if n, err := h.engine.ActiveConversations(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		resp.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		resp.ActiveConversations = n
		h.metrics.SetActiveConversations(n)
	}

	JSON(w, statusCode, resp)
}

func (h *Handler) refreshActive(ctx context.Context) {
	if n, err := h.engine.ActiveConversations(ctx); err == nil {
		h.metrics.SetActiveConversations(n)
	}
}
