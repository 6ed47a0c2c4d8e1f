package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the two wire variants of a stream frame.
type Kind string

const (
	KindConfig  Kind = "config"
	KindData    Kind = "data"
	KindUnknown Kind = ""
)

var ErrEmptyFrame = errors.New("frame carries no payload")

// Config is the first frame of every stream. SessionID is always required;
// Language and Voice are required only by the services that consume them.
type Config struct {
	SessionID  string `json:"session_id"`
	Language   string `json:"language,omitempty"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Format     string `json:"format,omitempty"`
}

// Viseme is a timed mouth-shape event accompanying synthesized audio.
type Viseme struct {
	ID     int   `json:"id"`
	TimeMS int64 `json:"time_ms"`
}

// Payload identifies which unit a Data frame carries.
type Payload string

const (
	PayloadAudio  Payload = "audio"
	PayloadText   Payload = "text"
	PayloadViseme Payload = "viseme"
	PayloadNone   Payload = "none"
)

// Data is every frame after Config. Exactly one unit field is expected;
// IsFinal marks the terminal frame of a response stream.
type Data struct {
	AudioBase64 string  `json:"audio_base64,omitempty"`
	Text        string  `json:"text,omitempty"`
	Viseme      *Viseme `json:"viseme,omitempty"`
	IsFinal     bool    `json:"is_final,omitempty"`
}

// Unit reports the payload variant of the frame. A final marker with an empty
// text payload still classifies as text so callers can forward it in order.
func (d Data) Unit() Payload {
	switch {
	case d.Viseme != nil:
		return PayloadViseme
	case d.AudioBase64 != "":
		return PayloadAudio
	case d.Text != "" || d.IsFinal:
		return PayloadText
	default:
		return PayloadNone
	}
}

// Frame is the tagged union carried on every stream in both directions.
type Frame struct {
	Type   Kind    `json:"type"`
	Config *Config `json:"config,omitempty"`
	Data   *Data   `json:"data,omitempty"`
}

// Kind resolves the discriminant once at decode time. A frame whose type tag
// and payload disagree, or whose payload is absent, classifies as unknown and
// is the caller's to skip or reject depending on stream position.
func (f Frame) Kind() Kind {
	switch f.Type {
	case KindConfig:
		if f.Config != nil {
			return KindConfig
		}
	case KindData:
		if f.Data != nil {
			return KindData
		}
	}
	return KindUnknown
}

// NewConfig wraps a Config payload in a wire frame.
func NewConfig(c Config) Frame {
	return Frame{Type: KindConfig, Config: &c}
}

// NewData wraps a Data payload in a wire frame.
func NewData(d Data) Frame {
	return Frame{Type: KindData, Data: &d}
}

// Text builds an outbound text unit.
func Text(text string, final bool) Data {
	return Data{Text: text, IsFinal: final}
}

// FinalMarker is the terminal frame of a streamed response: empty payload,
// is_final set.
func FinalMarker() Data {
	return Data{IsFinal: true}
}

// Audio builds an outbound audio-chunk unit.
func Audio(audioBase64 string) Data {
	return Data{AudioBase64: audioBase64}
}

// VisemeEvent builds an outbound viseme timing unit.
func VisemeEvent(id int, timeMS int64) Data {
	return Data{Viseme: &Viseme{ID: id, TimeMS: timeMS}}
}

// Decode parses one wire frame. A JSON-level failure is an error; a structurally
// valid frame of an unrecognized shape decodes with Kind() == KindUnknown so
// forward-compatible additions stay non-fatal mid-stream.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	if f.Config == nil && f.Data == nil {
		return f, ErrEmptyFrame
	}
	return f, nil
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
