package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arivoice/aria/internal/config"
	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/observability"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/stage/avatar"
	"github.com/arivoice/aria/internal/store"
	"github.com/arivoice/aria/internal/stream"
)

type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, unit frame.Data, emit stage.Emit) error {
	if unit.Text == "" {
		return nil
	}
	if err := emit(frame.Text("echo:"+unit.Text, false)); err != nil {
		return err
	}
	return emit(frame.FinalMarker())
}

func (echoProcessor) Flush(context.Context, stage.Emit) error { return nil }

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test")
	srv := New(config.Config{AllowAnyOrigin: true}, opts, store.New(), stage.FactoryFunc(func(frame.Config) stage.Processor {
		return echoProcessor{}
	}), metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamConfigThenDataRoundTrip(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "test"})
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(frame.NewConfig(frame.Config{SessionID: "s1"})); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := conn.WriteJSON(frame.NewData(frame.Text("hello", false))); err != nil {
		t.Fatalf("write data: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first frame.Frame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first reply: %v", err)
	}
	if first.Kind() != frame.KindData || first.Data.Text != "echo:hello" {
		t.Fatalf("first reply = %+v, want echoed text", first)
	}
	var second frame.Frame
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second reply: %v", err)
	}
	if second.Kind() != frame.KindData || !second.Data.IsFinal {
		t.Fatalf("second reply = %+v, want final marker", second)
	}
}

func TestStreamDataFirstIsRejected(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "test"})
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(frame.NewData(frame.Text("hello", false))); err != nil {
		t.Fatalf("write data: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if reply["type"] != "error" || reply["code"] != "invalid_argument" {
		t.Fatalf("error frame = %v, want invalid_argument", reply)
	}

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close error = %v, want policy violation", err)
	}
}

func TestStreamMissingRequiredFieldIsRejected(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "test", Required: []stream.Field{stream.FieldLanguage}})
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(frame.NewConfig(frame.Config{SessionID: "s1"})); err != nil {
		t.Fatalf("write config: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if reply["code"] != "invalid_argument" {
		t.Fatalf("error frame = %v, want invalid_argument", reply)
	}
}

func TestStreamSkipsUnknownFrameAfterConfig(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "test"})
	conn := dialStream(t, ts)

	if err := conn.WriteJSON(frame.NewConfig(frame.Config{SessionID: "s1"})); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","data":{"text":"x"}}`)); err != nil {
		t.Fatalf("write unknown frame: %v", err)
	}
	if err := conn.WriteJSON(frame.NewData(frame.Text("still alive", false))); err != nil {
		t.Fatalf("write data: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply frame.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Data == nil || reply.Data.Text != "echo:still alive" {
		t.Fatalf("reply = %+v, want echo after skipped frame", reply)
	}
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Run(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func TestTranscribeEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "stt", Transcribe: fakeTranscriber{text: "hello world"}})

	res, err := http.Post(ts.URL+"/v1/transcribe?format=webm", "application/octet-stream", bytes.NewReader([]byte("audio-bytes")))
	if err != nil {
		t.Fatalf("POST /v1/transcribe error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	var body transcribeResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Text != "hello world" {
		t.Fatalf("text = %q, want %q", body.Text, "hello world")
	}
}

func TestTranscribeRejectsEmptyBody(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "stt", Transcribe: fakeTranscriber{}})

	res, err := http.Post(ts.URL+"/v1/transcribe", "application/octet-stream", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST /v1/transcribe error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestRendererWSReceivesPublishedFrames(t *testing.T) {
	hub := avatar.NewHub()
	ts := newTestServer(t, Options{ServiceName: "avatar-sync", RendererHub: hub})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/renderer/ws?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial renderer ws: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("renderer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish("s1", frame.VisemeEvent(7, 250))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got frame.Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read renderer frame: %v", err)
	}
	if got.Data == nil || got.Data.Viseme == nil || got.Data.Viseme.ID != 7 {
		t.Fatalf("renderer frame = %+v, want viseme 7", got)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, Options{ServiceName: "test"})

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}
}
