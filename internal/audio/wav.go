// Package audio provides the minimal PCM/WAV plumbing the recognizer and
// transcoder boundaries need. Mono 16-bit little-endian only.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	numChannels   = 1
	bitsPerSample = 16
	formatPCM     = 1
)

// EncodeWAV wraps raw PCM16LE mono bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes raw PCM16LE mono bytes to path as a WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteWAV streams a WAV container for raw PCM16LE mono bytes to out.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	type field struct {
		v any
	}
	header := []field{
		{[]byte("RIFF")},
		{uint32(36) + dataSize},
		{[]byte("WAVE")},
		{[]byte("fmt ")},
		{uint32(16)},
		{uint16(formatPCM)},
		{uint16(numChannels)},
		{uint32(sampleRate)},
		{byteRate},
		{blockAlign},
		{uint16(bitsPerSample)},
		{[]byte("data")},
		{dataSize},
	}
	for _, f := range header {
		if err := binary.Write(out, binary.LittleEndian, f.v); err != nil {
			return fmt.Errorf("write wav header: %w", err)
		}
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}
