// Package chat is the llm-engine stage: it turns each recognized utterance
// into an assistant reply using the session's recent history.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/arivoice/aria/internal/extern/completion"
	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/reliability"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/status"
	"github.com/arivoice/aria/internal/store"
)

const defaultSystemPrompt = "You are a helpful voice assistant. Keep replies short and conversational."

// maxPromptExchanges bounds how many past user/assistant exchanges are
// included in the prompt.
const maxPromptExchanges = 3

// CompletionClient is the slice of the completion client the stage uses.
type CompletionClient interface {
	Stream(ctx context.Context, messages []completion.Message, onDelta completion.DeltaHandler) (string, error)
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

type Options struct {
	SystemPrompt string
	MaxExchanges int
	Streaming    bool
}

type Engine struct {
	sessions *store.Store
	client   CompletionClient
	opts     Options
}

func NewEngine(sessions *store.Store, client CompletionClient, opts Options) *Engine {
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.MaxExchanges <= 0 {
		opts.MaxExchanges = maxPromptExchanges
	}
	return &Engine{sessions: sessions, client: client, opts: opts}
}

// Factory returns a per-call processor bound to the call's session.
func (e *Engine) Factory() stage.Factory {
	return stage.FactoryFunc(func(cfg frame.Config) stage.Processor {
		return &call{engine: e, sessionID: cfg.SessionID}
	})
}

type call struct {
	engine    *Engine
	sessionID string
}

// Process handles one recognized utterance. The reply streams back as text
// deltas followed by a final marker; both turns are recorded only after the
// reply completes, so a failed call leaves the history untouched.
func (c *call) Process(ctx context.Context, unit frame.Data, emit stage.Emit) error {
	input := strings.TrimSpace(unit.Text)
	if input == "" {
		return nil
	}

	e := c.engine
	messages := e.buildPrompt(c.sessionID, input)

	var reply string
	var err error
	if e.opts.Streaming {
		reply, err = e.client.Stream(ctx, messages, func(delta string) error {
			return emit(frame.Text(delta, false))
		})
	} else {
		reply, err = e.client.Complete(ctx, messages)
	}
	if err != nil {
		return mapCompletionError(err)
	}

	e.sessions.Append(c.sessionID, store.Turn{Role: "user", Content: input})
	e.sessions.Append(c.sessionID, store.Turn{Role: "assistant", Content: reply})

	if !e.opts.Streaming {
		return emit(frame.Data{Text: reply, IsFinal: true})
	}
	return emit(frame.FinalMarker())
}

func (c *call) Flush(context.Context, stage.Emit) error { return nil }

// buildPrompt assembles system instruction, the last few exchanges, and the
// new input, in chronological order.
func (e *Engine) buildPrompt(sessionID, input string) []completion.Message {
	history := e.sessions.History(sessionID)
	if keep := e.opts.MaxExchanges * 2; len(history) > keep {
		history = history[len(history)-keep:]
	}

	messages := make([]completion.Message, 0, len(history)+2)
	messages = append(messages, completion.Message{Role: "system", Content: e.opts.SystemPrompt})
	for _, turn := range history {
		messages = append(messages, completion.Message{Role: turn.Role, Content: turn.Content})
	}
	return append(messages, completion.Message{Role: "user", Content: input})
}

func mapCompletionError(err error) error {
	var connErr *completion.ConnectionError
	if errors.As(err, &connErr) {
		return status.Unavailablef("language model unreachable: %v", connErr.Err)
	}
	var apiErr *completion.APIError
	if errors.As(err, &apiErr) {
		if reliability.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return status.Unavailablef("language model overloaded: %v", apiErr)
		}
		return status.Internalf("language model error: %v", apiErr)
	}
	return status.FromError(err)
}
