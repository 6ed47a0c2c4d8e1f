// Package recognize invokes a local whisper.cpp binary to turn WAV audio
// into text.
package recognize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoResult reports that recognition completed without producing text.
var ErrNoResult = errors.New("recognizer produced no result")

type WhisperConfig struct {
	CLIPath   string
	ModelPath string
	Language  string
	Threads   int
	BeamSize  int
	BestOf    int
}

type Whisper struct {
	cfg WhisperConfig
}

func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	if strings.TrimSpace(cfg.CLIPath) == "" {
		cfg.CLIPath = "whisper-cli"
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model not found: %s", cfg.ModelPath)
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en"
	}
	return &Whisper{cfg: cfg}, nil
}

// Transcribe runs the CLI over wav bytes and returns the recognized text.
// An empty transcription is ErrNoResult, a processing error rather than a
// timeout.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "aria-whisper-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "audio.wav")
	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		return "", err
	}
	outPrefix := filepath.Join(tmpDir, "out")

	// whisper.cpp CLI flag set varies slightly across builds; keep this conservative.
	args := []string{
		"-m", w.cfg.ModelPath,
		"-f", wavPath,
		"-l", w.cfg.Language,
		"-otxt",
		"-of", outPrefix,
		"-nt",
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}
	if w.cfg.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(w.cfg.BeamSize))
	}
	if w.cfg.BestOf > 0 {
		args = append(args, "-bo", strconv.Itoa(w.cfg.BestOf))
	}

	cmd := exec.CommandContext(ctx, w.cfg.CLIPath, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 8<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(8<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper.cpp failed: %s", detail)
	}

	b, err := os.ReadFile(outPrefix + ".txt")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoResult, err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", ErrNoResult
	}
	return text, nil
}
