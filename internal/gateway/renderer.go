package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/arivoice/aria/internal/frame"
)

// handleRendererWS attaches a renderer client to a session's synchronized
// audio/viseme stream. Renderers are read-only subscribers; a slow renderer
// loses frames rather than slowing the pipeline.
func (s *Server) handleRendererWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter session_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames, unsubscribe := s.opts.RendererHub.Subscribe(sessionID)
	defer unsubscribe()

	// Reads are discarded; they only surface the renderer disconnecting.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerGone:
			return
		case d, ok := <-frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame.NewData(d)); err != nil {
				return
			}
			s.metrics.Frames.WithLabelValues("renderer", "data").Inc()
		}
	}
}
