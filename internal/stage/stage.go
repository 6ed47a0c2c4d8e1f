// Package stage defines the per-call processing contract each pipeline
// service implements: speech recognition, chat, synthesis, and renderer
// fan-out are all stages behind the same stream front end.
package stage

import (
	"context"

	"github.com/arivoice/aria/internal/frame"
)

// Emit delivers one output unit to the caller and, where configured, the
// downstream service. A non-nil error means the caller is gone and the stage
// should stop producing.
type Emit func(frame.Data) error

// Processor handles the data frames of one validated call. Process is called
// once per accepted unit in arrival order; Flush is called once when the
// inbound stream ends cleanly.
type Processor interface {
	Process(ctx context.Context, unit frame.Data, emit Emit) error
	Flush(ctx context.Context, emit Emit) error
}

// Factory builds a Processor for one call from its accepted configuration.
type Factory interface {
	NewCall(cfg frame.Config) Processor
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(cfg frame.Config) Processor

func (f FactoryFunc) NewCall(cfg frame.Config) Processor { return f(cfg) }
