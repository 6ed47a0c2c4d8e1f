// Package transcode shells out to ffmpeg to normalize caller audio into
// 16kHz mono WAV, the only format the recognizer accepts.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type FFmpeg struct {
	binPath string
}

func NewFFmpeg(binPath string) *FFmpeg {
	if strings.TrimSpace(binPath) == "" {
		binPath = "ffmpeg"
	}
	return &FFmpeg{binPath: binPath}
}

// ToWAV converts raw audio bytes in sourceFormat (a container/codec extension
// such as "webm", "ogg", "mp3") to 16kHz mono PCM WAV. Synchronous and
// blocking; any ffmpeg failure is a generic processing error.
func (f *FFmpeg) ToWAV(ctx context.Context, raw []byte, sourceFormat string) ([]byte, error) {
	ext := strings.TrimPrefix(strings.TrimSpace(sourceFormat), ".")
	if ext == "" {
		return nil, fmt.Errorf("source format is required")
	}

	tmpDir, err := os.MkdirTemp("", "aria-transcode-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, uuid.NewString()+"."+ext)
	outPath := strings.TrimSuffix(inPath, "."+ext) + ".wav"
	if err := os.WriteFile(inPath, raw, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, f.binPath, "-y", "-i", inPath, "-ar", "16000", "-ac", "1", outPath)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 4<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(4<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg transcode failed: %s", detail)
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded audio: %w", err)
	}
	return wav, nil
}
