// Package completion talks to an OpenAI-compatible chat completion endpoint,
// streaming deltas when the server supports it.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeltaHandler receives each incremental text fragment as it arrives. A
// non-nil return aborts the stream.
type DeltaHandler func(delta string) error

// ConnectionError wraps transport-level failures (dial, timeout, broken
// stream) so callers can map them to an unavailable status.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "completion endpoint unreachable: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// APIError reports a non-2xx response from the endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Stream posts the conversation and feeds deltas to onDelta as they arrive.
// It returns the concatenated reply. Non-streaming responses are delivered
// as a single delta.
func (c *Client) Stream(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	return c.post(ctx, chatRequest{Model: c.cfg.Model, Messages: messages, Stream: true}, onDelta)
}

// Complete posts the conversation and returns the full reply in one piece.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.post(ctx, chatRequest{Model: c.cfg.Model, Messages: messages, Stream: false}, nil)
}

// Summarize condenses a conversation transcript into a few sentences. It
// satisfies the finalizer's summarizer contract.
func (c *Client) Summarize(ctx context.Context, conversation string) (string, error) {
	messages := []Message{
		{Role: "system", Content: "You summarize conversations. Reply with a 2-3 sentence summary and nothing else."},
		{Role: "user", Content: "Summarize the following conversation:\n\n" + conversation},
	}
	return c.Complete(ctx, messages)
}

func (c *Client) post(ctx context.Context, req chatRequest, onDelta DeltaHandler) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return c.consumeStreaming(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &ConnectionError{Err: err}
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text != "" && onDelta != nil {
			if err := onDelta(text); err != nil {
				return "", err
			}
		}
		return text, nil
	}
	text := extractText(obj)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (c *Client) consumeStreaming(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &ConnectionError{Err: err}
	}
	return out.String(), nil
}

// extractText pulls the reply text from the few response shapes OpenAI-style
// servers emit: streamed choice deltas, full choice messages, and flat
// text/delta keys.
func extractText(obj map[string]any) string {
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if delta, ok := choice["delta"].(map[string]any); ok {
				if s, ok := delta["content"].(string); ok {
					return s
				}
			}
			if msg, ok := choice["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok {
					return s
				}
			}
			if s, ok := choice["text"].(string); ok {
				return s
			}
		}
	}
	for _, k := range []string{"text", "delta", "output", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
