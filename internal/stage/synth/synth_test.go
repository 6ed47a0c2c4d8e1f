package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/arivoice/aria/internal/extern/synthesis"
	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/status"
)

type fakeStream struct {
	events chan synthesis.Event
	sent   []string
	closed bool
}

func (s *fakeStream) SendText(_ context.Context, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeStream) CloseInput(context.Context) error { return nil }

func (s *fakeStream) Events() <-chan synthesis.Event { return s.events }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeProvider struct {
	stream      *fakeStream
	dialErr     error
	gotVoice    string
	gotLanguage string
}

func (p *fakeProvider) StartStream(_ context.Context, voice, language string) (synthesis.Stream, error) {
	p.gotVoice = voice
	p.gotLanguage = language
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	return p.stream, nil
}

func streamWith(events ...synthesis.Event) *fakeStream {
	ch := make(chan synthesis.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	return &fakeStream{events: ch}
}

func collectEmit(out *[]frame.Data) func(frame.Data) error {
	return func(d frame.Data) error {
		*out = append(*out, d)
		return nil
	}
}

func TestSynthesisEmitsAudioAndVisemesInOrder(t *testing.T) {
	stream := streamWith(
		synthesis.Event{Type: synthesis.EventAudio, AudioBase64: "QUJD"},
		synthesis.Event{Type: synthesis.EventViseme, VisemeID: 4, TimeMS: 120},
		synthesis.Event{Type: synthesis.EventAudio, AudioBase64: "REVG"},
		synthesis.Event{Type: synthesis.EventFinal},
	)
	provider := &fakeProvider{stream: stream}
	e := NewEngine(provider, Options{})
	proc := e.Factory().NewCall(frame.Config{SessionID: "s1", Voice: "nova", Language: "en"})

	var out []frame.Data
	if err := proc.Process(context.Background(), frame.Text("hello there", false), collectEmit(&out)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(out) != 3 {
		t.Fatalf("emitted %d units, want 3", len(out))
	}
	if out[0].AudioBase64 != "QUJD" {
		t.Fatalf("unit 0 = %+v, want first audio chunk", out[0])
	}
	if out[1].Viseme == nil || out[1].Viseme.ID != 4 || out[1].Viseme.TimeMS != 120 {
		t.Fatalf("unit 1 = %+v, want viseme 4 at 120ms", out[1])
	}
	if out[2].AudioBase64 != "REVG" {
		t.Fatalf("unit 2 = %+v, want second audio chunk", out[2])
	}
	if provider.gotVoice != "nova" || provider.gotLanguage != "en" {
		t.Fatalf("provider got voice=%q language=%q", provider.gotVoice, provider.gotLanguage)
	}
	if len(stream.sent) != 1 || stream.sent[0] != "hello there" {
		t.Fatalf("sent = %v", stream.sent)
	}
	if !stream.closed {
		t.Fatalf("stream should be closed after the utterance")
	}
}

func TestMissingVoiceFallsBackToDefault(t *testing.T) {
	provider := &fakeProvider{stream: streamWith(synthesis.Event{Type: synthesis.EventFinal})}
	e := NewEngine(provider, Options{DefaultVoice: "fallback"})
	proc := e.Factory().NewCall(frame.Config{SessionID: "s1"})

	if err := proc.Process(context.Background(), frame.Text("hi", false), collectEmit(&[]frame.Data{})); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if provider.gotVoice != "fallback" {
		t.Fatalf("voice = %q, want fallback", provider.gotVoice)
	}
}

func TestUpstreamFinalMarkerPassesThrough(t *testing.T) {
	e := NewEngine(&fakeProvider{}, Options{})
	proc := e.Factory().NewCall(frame.Config{SessionID: "s1", Voice: "nova"})

	var out []frame.Data
	if err := proc.Process(context.Background(), frame.FinalMarker(), collectEmit(&out)); err != nil {
		t.Fatalf("Process(final) error = %v", err)
	}
	if len(out) != 1 || !out[0].IsFinal {
		t.Fatalf("emitted = %+v, want final marker only", out)
	}
}

func TestBackendDialFailureIsUnavailable(t *testing.T) {
	provider := &fakeProvider{dialErr: errors.New("refused")}
	e := NewEngine(provider, Options{})
	proc := e.Factory().NewCall(frame.Config{SessionID: "s1", Voice: "nova"})

	err := proc.Process(context.Background(), frame.Text("hi", false), collectEmit(&[]frame.Data{}))
	var se *status.Error
	if !errors.As(err, &se) || se.Code != status.CodeUnavailable {
		t.Fatalf("error = %v, want unavailable status", err)
	}
}

func TestBackendErrorEventMapsByRetryability(t *testing.T) {
	cases := []struct {
		name      string
		retryable bool
		want      status.Code
	}{
		{"retryable", true, status.CodeUnavailable},
		{"fatal", false, status.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{stream: streamWith(
				synthesis.Event{Type: synthesis.EventError, Code: "backend_error", Detail: "boom", Retryable: tc.retryable},
			)}
			e := NewEngine(provider, Options{})
			proc := e.Factory().NewCall(frame.Config{SessionID: "s1", Voice: "nova"})

			err := proc.Process(context.Background(), frame.Text("hi", false), collectEmit(&[]frame.Data{}))
			var se *status.Error
			if !errors.As(err, &se) || se.Code != tc.want {
				t.Fatalf("error = %v, want %s status", err, tc.want)
			}
		})
	}
}
