// Package synthesis streams text into a websocket speech backend and reads
// back audio chunks and viseme timing events.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/arivoice/aria/internal/reliability"
)

type EventType int

const (
	EventAudio EventType = iota
	EventViseme
	EventFinal
	EventError
)

// Event is one message from the speech backend. Audio arrives base64-encoded;
// visemes carry the mouth-shape id and its offset into the utterance.
type Event struct {
	Type        EventType
	AudioBase64 string
	VisemeID    int
	TimeMS      int64
	Code        string
	Detail      string
	Retryable   bool
}

// Stream is one open synthesis stream. Events() is closed when the backend
// finishes or the stream is closed.
type Stream interface {
	SendText(ctx context.Context, text string) error
	CloseInput(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// Provider opens synthesis streams. The websocket client below is the real
// implementation; tests substitute fakes.
type Provider interface {
	StartStream(ctx context.Context, voice, language string) (Stream, error)
}

type Config struct {
	WSBaseURL string
	APIKey    string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "ws://localhost:8090"
	}
	return &Client{cfg: cfg}
}

func (c *Client) StartStream(ctx context.Context, voice, language string) (Stream, error) {
	if strings.TrimSpace(voice) == "" {
		return nil, fmt.Errorf("voice is required")
	}

	u, err := url.Parse(strings.TrimRight(c.cfg.WSBaseURL, "/") + "/v1/synthesis/" + url.PathEscape(voice) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if language != "" {
		q.Set("language", language)
	}
	q.Set("include_visemes", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if c.cfg.APIKey != "" {
		headers.Set("xi-api-key", c.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial synthesis websocket: %w", err)
	}

	s := &wsStream{conn: conn, events: make(chan Event, 512), done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
	done      chan struct{}
}

func (s *wsStream) SendText(_ context.Context, text string) error {
	return s.writeJSON(map[string]any{"text": text})
}

// CloseInput tells the backend no more text is coming; the backend answers
// with its remaining audio and a final marker.
func (s *wsStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *wsStream) Events() <-chan Event { return s.events }

// Close unblocks the read loop and drops the connection. Only the read loop
// closes the events channel, so Close is safe while events are still being
// produced.
func (s *wsStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *wsStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop is the only goroutine that closes the events channel. Emits block
// on the buffer but abort when the stream is closed, so an abandoned consumer
// cannot wedge the loop.
func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		if audio := asString(raw["audio"]); audio != "" {
			if !s.emit(Event{Type: EventAudio, AudioBase64: audio}) {
				return
			}
		}
		if v, ok := raw["viseme"].(map[string]any); ok {
			if !s.emit(Event{Type: EventViseme, VisemeID: asInt(v["id"]), TimeMS: int64(asInt(v["time_ms"]))}) {
				return
			}
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			s.emit(Event{Type: EventFinal})
			return
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			code := asString(raw["message_type"])
			if !s.emit(Event{Type: EventError, Code: code, Detail: errMsg, Retryable: reliability.IsRetryableSynthesisMessageType(code)}) {
				return
			}
		}
	}
}

func (s *wsStream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case int:
		return t
	default:
		return 0
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
