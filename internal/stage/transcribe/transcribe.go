// Package transcribe is the stt-service stage: it buffers caller audio,
// normalizes it, and recognizes it into text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/arivoice/aria/internal/audio"
	"github.com/arivoice/aria/internal/extern/recognize"
	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/status"
)

// Transcoder normalizes arbitrary caller audio into 16kHz mono WAV.
type Transcoder interface {
	ToWAV(ctx context.Context, raw []byte, sourceFormat string) ([]byte, error)
}

// Recognizer turns WAV audio into text.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

type Engine struct {
	transcoder Transcoder
	recognizer Recognizer
}

func NewEngine(transcoder Transcoder, recognizer Recognizer) *Engine {
	return &Engine{transcoder: transcoder, recognizer: recognizer}
}

// Factory returns a per-call processor that buffers the call's audio chunks.
func (e *Engine) Factory() stage.Factory {
	return stage.FactoryFunc(func(cfg frame.Config) stage.Processor {
		format := strings.TrimSpace(cfg.Format)
		if format == "" {
			format = "wav"
		}
		return &call{engine: e, format: format, sampleRate: cfg.SampleRate}
	})
}

type call struct {
	engine     *Engine
	format     string
	sampleRate int
	buf        bytes.Buffer
	done       bool
}

// Process accumulates audio chunks. A final marker closes the utterance and
// triggers recognition; the result is emitted as one text unit followed by a
// final marker.
func (c *call) Process(ctx context.Context, unit frame.Data, emit stage.Emit) error {
	if unit.AudioBase64 != "" {
		chunk, err := base64.StdEncoding.DecodeString(unit.AudioBase64)
		if err != nil {
			return status.Invalidf("audio chunk is not valid base64: %v", err)
		}
		c.buf.Write(chunk)
	}
	if unit.IsFinal {
		return c.finish(ctx, emit)
	}
	return nil
}

// Flush recognizes any buffered audio when the caller ends the stream
// without an explicit final marker.
func (c *call) Flush(ctx context.Context, emit stage.Emit) error {
	if c.done || c.buf.Len() == 0 {
		return nil
	}
	return c.finish(ctx, emit)
}

func (c *call) finish(ctx context.Context, emit stage.Emit) error {
	c.done = true
	if c.buf.Len() == 0 {
		return emit(frame.FinalMarker())
	}

	text, err := c.engine.run(ctx, c.buf.Bytes(), c.format, c.sampleRate)
	c.buf.Reset()
	if err != nil {
		if errors.Is(err, recognize.ErrNoResult) {
			return emit(frame.FinalMarker())
		}
		return status.Internalf("speech recognition failed: %v", err)
	}
	if err := emit(frame.Text(text, false)); err != nil {
		return err
	}
	return emit(frame.FinalMarker())
}

// Run performs one blocking transcode-and-recognize pass. The streaming call
// path and the one-shot HTTP endpoint both go through it.
func (e *Engine) Run(ctx context.Context, raw []byte, sourceFormat string) (string, error) {
	return e.run(ctx, raw, sourceFormat, 0)
}

func (e *Engine) run(ctx context.Context, raw []byte, sourceFormat string, sampleRate int) (string, error) {
	var wav []byte
	var err error
	switch sourceFormat {
	case "pcm", "pcm16":
		// Raw PCM16LE mono needs only a container, not an ffmpeg pass.
		wav, err = audio.EncodeWAV(raw, sampleRate)
	default:
		wav, err = e.transcoder.ToWAV(ctx, raw, sourceFormat)
	}
	if err != nil {
		return "", err
	}
	return e.recognizer.Transcribe(ctx, wav)
}
