// Package synth is the tts-service stage: it streams reply text into the
// speech backend and forwards audio and viseme events as they are produced.
package synth

import (
	"context"
	"strings"

	"github.com/arivoice/aria/internal/extern/synthesis"
	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/status"
)

const defaultVoice = "aria"

type Options struct {
	DefaultVoice string
}

type Engine struct {
	provider synthesis.Provider
	opts     Options
}

func NewEngine(provider synthesis.Provider, opts Options) *Engine {
	if strings.TrimSpace(opts.DefaultVoice) == "" {
		opts.DefaultVoice = defaultVoice
	}
	return &Engine{provider: provider, opts: opts}
}

// Factory returns a per-call processor. A missing voice falls back to the
// configured default rather than failing the call.
func (e *Engine) Factory() stage.Factory {
	return stage.FactoryFunc(func(cfg frame.Config) stage.Processor {
		voice := strings.TrimSpace(cfg.Voice)
		if voice == "" {
			voice = e.opts.DefaultVoice
		}
		return &call{engine: e, voice: voice, language: cfg.Language}
	})
}

type call struct {
	engine   *Engine
	voice    string
	language string
}

// Process synthesizes one text unit. Audio chunks and visemes are emitted in
// backend order as they arrive; an upstream final marker is passed through
// after the utterance completes.
func (c *call) Process(ctx context.Context, unit frame.Data, emit stage.Emit) error {
	text := strings.TrimSpace(unit.Text)
	if text != "" {
		if err := c.synthesize(ctx, text, emit); err != nil {
			return err
		}
	}
	if unit.IsFinal {
		return emit(frame.FinalMarker())
	}
	return nil
}

func (c *call) Flush(context.Context, stage.Emit) error { return nil }

func (c *call) synthesize(ctx context.Context, text string, emit stage.Emit) error {
	s, err := c.engine.provider.StartStream(ctx, c.voice, c.language)
	if err != nil {
		return status.Unavailablef("speech backend unreachable: %v", err)
	}
	defer s.Close()

	if err := s.SendText(ctx, text); err != nil {
		return status.Unavailablef("send text to speech backend: %v", err)
	}
	if err := s.CloseInput(ctx); err != nil {
		return status.Unavailablef("close speech backend input: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return status.FromError(ctx.Err())
		case ev, ok := <-s.Events():
			if !ok {
				return status.Unavailablef("synthesis stream ended before completion")
			}
			switch ev.Type {
			case synthesis.EventAudio:
				if err := emit(frame.Audio(ev.AudioBase64)); err != nil {
					return err
				}
			case synthesis.EventViseme:
				if err := emit(frame.VisemeEvent(ev.VisemeID, ev.TimeMS)); err != nil {
					return err
				}
			case synthesis.EventFinal:
				return nil
			case synthesis.EventError:
				if ev.Retryable {
					return status.Unavailablef("speech backend error %s: %s", ev.Code, ev.Detail)
				}
				return status.Internalf("speech backend error %s: %s", ev.Code, ev.Detail)
			}
		}
	}
}
