package stream

import (
	"errors"
	"testing"

	"github.com/arivoice/aria/internal/frame"
	"github.com/arivoice/aria/internal/status"
)

func mustInvalid(t *testing.T, err error) {
	t.Helper()
	var se *status.Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want structured status", err)
	}
	if se.Code != status.CodeInvalidArgument {
		t.Fatalf("code = %q, want %q", se.Code, status.CodeInvalidArgument)
	}
}

func TestValidatorAcceptsConfigThenData(t *testing.T) {
	v := NewValidator()

	step, err := v.Accept(frame.NewConfig(frame.Config{SessionID: "s1"}))
	if err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}
	if step.Kind != StepConfig || step.Config.SessionID != "s1" {
		t.Fatalf("unexpected step: %+v", step)
	}

	step, err = v.Accept(frame.NewData(frame.Text("hello", false)))
	if err != nil {
		t.Fatalf("Accept(data) error = %v", err)
	}
	if step.Kind != StepData || step.Data.Text != "hello" {
		t.Fatalf("unexpected step: %+v", step)
	}
}

func TestValidatorRejectsDataFirst(t *testing.T) {
	v := NewValidator()
	_, err := v.Accept(frame.NewData(frame.Text("hello", false)))
	mustInvalid(t, err)
	if v.ConfigSeen() {
		t.Fatalf("ConfigSeen() should stay false after a rejected first frame")
	}
}

func TestValidatorRejectsEmptySessionID(t *testing.T) {
	v := NewValidator()
	_, err := v.Accept(frame.NewConfig(frame.Config{SessionID: "  "}))
	mustInvalid(t, err)
}

func TestValidatorRejectsPathLikeSessionID(t *testing.T) {
	for _, id := range []string{"../../etc/x", "a/b", `a\b`, "a..b"} {
		t.Run(id, func(t *testing.T) {
			v := NewValidator()
			_, err := v.Accept(frame.NewConfig(frame.Config{SessionID: id}))
			mustInvalid(t, err)
		})
	}
}

func TestValidatorRejectsMissingRequiredField(t *testing.T) {
	cases := []struct {
		name     string
		required Field
		cfg      frame.Config
		wantErr  bool
	}{
		{"language missing", FieldLanguage, frame.Config{SessionID: "s1"}, true},
		{"language present", FieldLanguage, frame.Config{SessionID: "s1", Language: "ko-KR"}, false},
		{"voice missing", FieldVoice, frame.Config{SessionID: "s1"}, true},
		{"voice present", FieldVoice, frame.Config{SessionID: "s1", Voice: "nova"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator(tc.required)
			_, err := v.Accept(frame.NewConfig(tc.cfg))
			if tc.wantErr {
				mustInvalid(t, err)
			} else if err != nil {
				t.Fatalf("Accept() error = %v", err)
			}
		})
	}
}

func TestValidatorRejectsSecondConfig(t *testing.T) {
	v := NewValidator()
	if _, err := v.Accept(frame.NewConfig(frame.Config{SessionID: "s1"})); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}
	_, err := v.Accept(frame.NewConfig(frame.Config{SessionID: "s1"}))
	mustInvalid(t, err)
}

func TestValidatorSkipsUnclassifiableAfterConfig(t *testing.T) {
	v := NewValidator()
	if _, err := v.Accept(frame.NewConfig(frame.Config{SessionID: "s1"})); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}

	// Unknown type tag.
	step, err := v.Accept(frame.Frame{Type: "ping", Data: &frame.Data{Text: "x"}})
	if err != nil || step.Kind != StepSkip {
		t.Fatalf("unknown frame: step = %+v, err = %v, want skip", step, err)
	}

	// Data frame with no payload variant set.
	step, err = v.Accept(frame.NewData(frame.Data{}))
	if err != nil || step.Kind != StepSkip {
		t.Fatalf("empty data frame: step = %+v, err = %v, want skip", step, err)
	}
}
