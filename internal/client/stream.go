package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/ttakmal/internal/domain"
)

// MaxChunkSize bounds a single SSE line.
const MaxChunkSize = 64 * 1024

var (
	// ErrStreamClosed is reported when the stream ends without a complete chunk.
	ErrStreamClosed = errors.New("stream closed before completion")
	// ErrChunkTooLarge is reported when an SSE line exceeds MaxChunkSize.
	ErrChunkTooLarge = errors.New("stream chunk exceeds maximum size")
)

// StreamError is an error chunk sent by the backend.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Message
}

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 4096)}
}

// ReadEvent returns the event type and the joined data lines of the next
// event. id:, retry: and comment lines are ignored. Returns io.EOF at the end.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
	}
}

func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, part...)
		if len(line) > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// CreateStreamingConnection opens GET /chat/stream and delivers every parsed
// chunk to onChunk. A complete chunk closes the connection and calls
// onComplete; an error chunk or a transport failure calls onError once.
// Chunks that fail to parse are logged and dropped.
func (c *Client) CreateStreamingConnection(
	ctx context.Context,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onError func(error),
	onComplete func(),
) domain.StopFunc {
	h, streamCtx := newHandle(ctx)

	go func() {
		defer h.stop()

		err := c.stream(streamCtx, h, userID, threadNum, onChunk, onComplete)
		if err != nil && h.live() && streamCtx.Err() == nil {
			c.logger.Warn("stream failed", "user_id", userID, "thread_num", threadNum, "error", err)
			onError(err)
		}
	}()

	return h.stop
}

func (c *Client) stream(
	ctx context.Context,
	h *handle,
	userID, threadNum string,
	onChunk func(domain.StreamChunk),
	onComplete func(),
) error {
	url := c.baseURL + "/chat/stream?" + conversationQuery(userID, threadNum)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}

	reader := NewSSEReader(resp.Body)
	for {
		_, data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("read stream: %w", err)
		}

		done, err := c.dispatch(h, data, onChunk, onComplete)
		if err != nil || done {
			return err
		}
	}
}

// dispatch decodes one chunk and hands it to the callbacks. It reports
// whether the stream has finished.
func (c *Client) dispatch(h *handle, data []byte, onChunk func(domain.StreamChunk), onComplete func()) (bool, error) {
	var chunk domain.StreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		c.logger.Warn("dropping malformed stream chunk", "error", err, "size", len(data))
		return false, nil
	}
	if !h.live() {
		return true, nil
	}

	switch chunk.Type {
	case domain.ChunkError:
		return true, &StreamError{Message: chunk.Data}
	case domain.ChunkComplete:
		onChunk(chunk)
		h.stop()
		onComplete()
		return true, nil
	default:
		onChunk(chunk)
		return false, nil
	}
}
