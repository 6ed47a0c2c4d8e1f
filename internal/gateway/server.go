// Package gateway is the stream front end every pipeline service runs: a chi
// router exposing the bidirectional stream endpoint, health and metrics, and
// the service-specific extras (one-shot transcription, renderer fan-out).
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/arivoice/aria/internal/config"
	"github.com/arivoice/aria/internal/observability"
	"github.com/arivoice/aria/internal/stage"
	"github.com/arivoice/aria/internal/stage/avatar"
	"github.com/arivoice/aria/internal/store"
	"github.com/arivoice/aria/internal/stream"
)

// Transcriber serves the blocking HTTP transcription endpoint.
type Transcriber interface {
	Run(ctx context.Context, raw []byte, sourceFormat string) (string, error)
}

// Options selects the service-specific pieces of the front end.
type Options struct {
	// ServiceName appears in health responses and logs.
	ServiceName string
	// Required lists configuration fields the stream validator enforces.
	Required []stream.Field
	// RelayURL is the next stage's stream endpoint; empty disables relaying.
	RelayURL string
	// Transcribe enables POST /v1/transcribe when non-nil.
	Transcribe Transcriber
	// TranscribeWorkers bounds concurrent one-shot transcriptions.
	TranscribeWorkers int
	// RendererHub enables GET /v1/renderer/ws when non-nil.
	RendererHub *avatar.Hub
}

type Server struct {
	cfg      config.Config
	opts     Options
	sessions *store.Store
	factory  stage.Factory
	metrics  *observability.Metrics
	workers  *semaphore.Weighted
	upgrader websocket.Upgrader
}

func New(cfg config.Config, opts Options, sessions *store.Store, factory stage.Factory, metrics *observability.Metrics) *Server {
	workers := opts.TranscribeWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Server{
		cfg:      cfg,
		opts:     opts,
		sessions: sessions,
		factory:  factory,
		metrics:  metrics,
		workers:  semaphore.NewWeighted(int64(workers)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only browser connections from the same origin unless opted out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/stream", s.handleStream)
	if s.opts.Transcribe != nil {
		r.Post("/v1/transcribe", s.handleTranscribe)
	}
	if s.opts.RendererHub != nil {
		r.Get("/v1/renderer/ws", s.handleRendererWS)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.opts.ServiceName,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"service":  s.opts.ServiceName,
		"sessions": s.sessions.Len(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
