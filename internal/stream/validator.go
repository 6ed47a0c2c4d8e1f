// Package stream enforces the inbound stream protocol: the first frame of a
// call is configuration, every frame after it is data.
package stream

import (
	"strings"

	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/status"
)

// Field names a configuration field a service requires to be non-empty.
type Field string

const (
	FieldLanguage Field = "language"
	FieldVoice    Field = "voice"
)

// StepKind classifies the outcome of feeding one frame to the validator.
type StepKind int

const (
	// StepConfig: the accepted configuration frame (first frame only).
	StepConfig StepKind = iota
	// StepData: an accepted data frame, in arrival order.
	StepData
	// StepSkip: an unclassifiable frame after configuration; callers log a
	// warning and move on so forward-compatible additions stay non-fatal.
	StepSkip
)

type Step struct {
	Kind   StepKind
	Config frame.Config
	Data   frame.Data
}

// Validator holds the per-call protocol state: whether the configuration
// frame has been seen. Reset per call by constructing a new one.
type Validator struct {
	required   []Field
	configSeen bool
}

func NewValidator(required ...Field) *Validator {
	return &Validator{required: required}
}

func (v *Validator) ConfigSeen() bool {
	return v.configSeen
}

// Accept validates one inbound frame against the protocol. Errors are
// structured invalid_argument statuses and abort the call; no frame after a
// protocol error should be processed.
func (v *Validator) Accept(f frame.Frame) (Step, error) {
	kind := f.Kind()

	if !v.configSeen {
		if kind != frame.KindConfig {
			return Step{}, status.Invalidf("first frame must be a configuration frame")
		}
		cfg := *f.Config
		if strings.TrimSpace(cfg.SessionID) == "" {
			return Step{}, status.Invalidf("configuration is missing session_id")
		}
		// Session ids name transcript files on eviction, so they must not
		// carry path separators or parent references.
		if strings.ContainsAny(cfg.SessionID, `/\`) || strings.Contains(cfg.SessionID, "..") {
			return Step{}, status.Invalidf("session_id must not contain path characters")
		}
		for _, field := range v.required {
			if strings.TrimSpace(v.fieldValue(cfg, field)) == "" {
				return Step{}, status.Invalidf("configuration is missing %s", field)
			}
		}
		v.configSeen = true
		return Step{Kind: StepConfig, Config: cfg}, nil
	}

	switch kind {
	case frame.KindConfig:
		return Step{}, status.Invalidf("configuration frame received after stream start")
	case frame.KindData:
		if f.Data.Unit() == frame.PayloadNone {
			return Step{Kind: StepSkip}, nil
		}
		return Step{Kind: StepData, Data: *f.Data}, nil
	default:
		return Step{Kind: StepSkip}, nil
	}
}

func (v *Validator) fieldValue(cfg frame.Config, field Field) string {
	switch field {
	case FieldLanguage:
		return cfg.Language
	case FieldVoice:
		return cfg.Voice
	default:
		return ""
	}
}
