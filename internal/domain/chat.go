// Package domain contains the shared contract types of the quote chat.
package domain

import (
	"time"
)

// ChatMessage is a single entry in the client-side message log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"isBot"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is a quote candidate or the finally selected quote.
type Quote struct {
	ID       string   `json:"id" toml:"id"`
	Text     string   `json:"text" toml:"text"`
	Author   string   `json:"author" toml:"author"`
	Category string   `json:"category,omitempty" toml:"category"`
	Keywords []string `json:"keywords,omitempty" toml:"keywords"`
	Advice   string   `json:"advice,omitempty" toml:"advice"`
	Method   string   `json:"method,omitempty" toml:"-"`

	Similarity float64 `json:"similarity,omitempty" toml:"similarity"`
}

// QuoteSelection describes the backend's progress through quote candidates.
type QuoteSelection struct {
	Active       bool    `json:"active"`
	CurrentIndex int     `json:"current_index"`
	TotalCount   int     `json:"total_count"`
	QuoteID      *string `json:"quote_id"`
	Changed      bool    `json:"changed"`
}

// ChatRequest is the body of POST /chat/send.
type ChatRequest struct {
	UserID    string `json:"userId"`
	ThreadNum string `json:"threadNum"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChunkType tags a streaming chunk.
type ChunkType string

const (
	// ChunkContent carries a fragment of the bot reply.
	ChunkContent ChunkType = "content"
	// ChunkQuote carries a JSON-encoded Quote in Data.
	ChunkQuote ChunkType = "quote"
	// ChunkComplete ends the stream.
	ChunkComplete ChunkType = "complete"
	// ChunkError ends the stream with a backend error message in Data.
	ChunkError ChunkType = "error"
)

// StreamChunk is one server-sent event of the streaming endpoint.
type StreamChunk struct {
	Type      ChunkType `json:"type"`
	Data      string    `json:"data"`
	Timestamp string    `json:"timestamp"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status              string `json:"status"`
	Timestamp           string `json:"timestamp"`
	ActiveConversations int    `json:"activeConversations"`
}

// ResetResponse is returned by DELETE /chat/{userId}/{threadNum}.
type ResetResponse struct {
	Message string `json:"message"`
}

// StopFunc cancels a polling loop or streaming connection. Implementations
// are idempotent.
type StopFunc func()

// Timestamp formats t the way the backend contract expects.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
