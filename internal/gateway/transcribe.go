package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arivoice/aria/internal/extern/recognize"
)

// maxTranscribeBody caps one-shot uploads at 32 MiB.
const maxTranscribeBody = 32 << 20

type transcribeResponse struct {
	Text string `json:"text"`
}

// handleTranscribe is the blocking one-shot endpoint: the whole clip in the
// request body, the whole transcription in the response. The semaphore bounds
// how many ffmpeg/whisper pairs run at once; extra requests queue.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		format = "wav"
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxTranscribeBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}
	if len(raw) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body is empty")
		return
	}
	if len(raw) > maxTranscribeBody {
		respondError(w, http.StatusRequestEntityTooLarge, "invalid_request", "audio exceeds the upload limit")
		return
	}

	ctx := r.Context()
	if err := s.workers.Acquire(ctx, 1); err != nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	}
	defer s.workers.Release(1)

	started := time.Now()
	text, err := s.opts.Transcribe.Run(ctx, raw, format)
	s.metrics.ObserveExternalLatency("transcribe", time.Since(started))
	if err != nil {
		if errors.Is(err, recognize.ErrNoResult) {
			respondJSON(w, http.StatusOK, transcribeResponse{Text: ""})
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, transcribeResponse{Text: text})
}
