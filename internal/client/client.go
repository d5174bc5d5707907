// Package client talks to the quote chat backend: one-shot sends, status
// polling, and streaming over SSE or WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/ttakmal/internal/domain"
)

// DefaultPollInterval is the fixed status polling interval.
const DefaultPollInterval = 3 * time.Second

const maxErrorBodySize = 4 << 10

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError for a missing conversation.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is an HTTP client for the backend contract.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	streamClient    *http.Client
	pollInterval    time.Duration
	continueOnError bool
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPollContinueOnError keeps polling after onError fires. By default a
// polling loop stops itself on the first error.
func WithPollContinueOnError() Option {
	return func(c *Client) { c.continueOnError = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL, e.g. http://localhost:3001/api.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{}, // streams are bounded by their context
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendMessage posts one user turn.
func (c *Client) SendMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var resp domain.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus fetches the current state of a conversation.
func (c *Client) GetStatus(ctx context.Context, userID, threadNum string) (*domain.ChatResponse, error) {
	var resp domain.ChatResponse
	if err := c.do(ctx, http.MethodGet, "/chat/status?"+conversationQuery(userID, threadNum), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health calls the development health endpoint.
func (c *Client) Health(ctx context.Context) (*domain.HealthResponse, error) {
	var resp domain.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetConversation deletes the backend's record of a conversation.
func (c *Client) ResetConversation(ctx context.Context, userID, threadNum string) error {
	path := "/chat/" + url.PathEscape(userID) + "/" + url.PathEscape(threadNum)
	var resp domain.ResetResponse
	return c.do(ctx, http.MethodDelete, path, nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	msg := http.StatusText(resp.StatusCode)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func conversationQuery(userID, threadNum string) string {
	v := url.Values{}
	v.Set("userId", userID)
	v.Set("threadNum", threadNum)
	return v.Encode()
}
