// Package avatar is the avatar-sync stage: it pairs synthesized audio with
// viseme timing events and fans the combined stream out to renderer clients
// subscribed to the session.
package avatar

import (
	"context"
	"log"
	"sync"

	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/stage"
)

// subscriberBuffer bounds each renderer's queue; a slow renderer drops
// frames instead of stalling the pipeline.
const subscriberBuffer = 512

// Hub routes session-keyed frames to renderer subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan frame.Data]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan frame.Data]struct{})}
}

// Subscribe registers a renderer for one session. The returned cancel
// function must be called when the renderer disconnects; it closes the
// channel.
func (h *Hub) Subscribe(sessionID string) (<-chan frame.Data, func()) {
	ch := make(chan frame.Data, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan frame.Data]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers one frame to every renderer subscribed to the session.
// Delivery is best effort; a full subscriber queue drops the frame.
func (h *Hub) Publish(sessionID string, d frame.Data) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- d:
		default:
			log.Printf("avatar: session %s renderer queue full, dropping frame", sessionID)
		}
	}
}

// Subscribers reports how many renderers are attached to the session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

type Engine struct {
	hub *Hub
}

func NewEngine(hub *Hub) *Engine {
	return &Engine{hub: hub}
}

// Factory returns a per-call processor that republishes the call's audio and
// viseme frames to the session's renderers.
func (e *Engine) Factory() stage.Factory {
	return stage.FactoryFunc(func(cfg frame.Config) stage.Processor {
		return &call{hub: e.hub, sessionID: cfg.SessionID}
	})
}

type call struct {
	hub       *Hub
	sessionID string
}

// Process republishes the unit to renderers. Audio and visemes arrive
// interleaved from the synthesizer and are forwarded in that order, so
// renderers see mouth shapes alongside the audio they belong to. The final
// marker is echoed to the producing caller as a drain acknowledgement.
func (c *call) Process(_ context.Context, unit frame.Data, emit stage.Emit) error {
	switch unit.Unit() {
	case frame.PayloadAudio, frame.PayloadViseme:
		c.hub.Publish(c.sessionID, unit)
	}
	if unit.IsFinal {
		c.hub.Publish(c.sessionID, frame.FinalMarker())
		return emit(frame.FinalMarker())
	}
	return nil
}

func (c *call) Flush(context.Context, stage.Emit) error { return nil }
