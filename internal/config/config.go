package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings shared by the pipeline services. Each
// service binary reads the subset it needs; unrelated fields keep their
// defaults.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// DownstreamURL is the next pipeline stage's stream endpoint. Empty means
	// the service is the end of the pipeline and only replies to its caller.
	DownstreamURL string

	ReapInterval       time.Duration
	SessionIdleTimeout time.Duration
	MaxSessions        int
	SessionSaveDir     string
	DatabaseURL        string

	CompletionAPIURL    string
	CompletionAPIKey    string
	CompletionModel     string
	CompletionStreaming bool
	MaxPromptExchanges  int
	SystemPrompt        string

	FFmpegPath        string
	WhisperCLI        string
	WhisperModelPath  string
	WhisperLanguage   string
	WhisperThreads    int
	WhisperBeamSize   int
	WhisperBestOf     int
	TranscribeWorkers int

	SynthesisWSBaseURL string
	SynthesisAPIKey    string
	DefaultVoice       string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "aria"),
		AllowAnyOrigin:     false,
		DownstreamURL:      stringsTrimSpace("APP_DOWNSTREAM_URL"),
		SessionSaveDir:     envOrDefault("APP_SESSION_SAVE_DIR", "saved_sessions"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		CompletionAPIURL:   stringsTrimSpace("COMPLETION_API_URL"),
		CompletionAPIKey:   stringsTrimSpace("COMPLETION_API_KEY"),
		CompletionModel:    stringsTrimSpace("COMPLETION_MODEL"),
		SystemPrompt:       stringsTrimSpace("COMPLETION_SYSTEM_PROMPT"),
		FFmpegPath:         envOrDefault("FFMPEG_PATH", "ffmpeg"),
		WhisperCLI:         envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath:   envOrDefault("WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		WhisperLanguage:    envOrDefault("WHISPER_LANGUAGE", "en"),
		SynthesisWSBaseURL: envOrDefault("SYNTHESIS_WS_BASE_URL", "ws://localhost:8090"),
		SynthesisAPIKey:    stringsTrimSpace("SYNTHESIS_API_KEY"),
		DefaultVoice:       envOrDefault("SYNTHESIS_DEFAULT_VOICE", "aria"),

		ShutdownTimeout:     15 * time.Second,
		ReapInterval:        60 * time.Second,
		SessionIdleTimeout:  10 * time.Minute,
		MaxSessions:         1000,
		CompletionStreaming: true,
		MaxPromptExchanges:  3,
		WhisperThreads:      0,
		WhisperBeamSize:     1,
		WhisperBestOf:       1,
		TranscribeWorkers:   4,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReapInterval, err = durationFromEnv("APP_REAP_INTERVAL", cfg.ReapInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSessions, err = intFromEnv("APP_MAX_SESSIONS", cfg.MaxSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionStreaming, err = boolFromEnv("COMPLETION_STREAMING", cfg.CompletionStreaming)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxPromptExchanges, err = intFromEnv("COMPLETION_MAX_EXCHANGES", cfg.MaxPromptExchanges)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperBeamSize, err = intFromEnv("WHISPER_BEAM_SIZE", cfg.WhisperBeamSize)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperBestOf, err = intFromEnv("WHISPER_BEST_OF", cfg.WhisperBestOf)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeWorkers, err = intFromEnv("TRANSCRIBE_WORKERS", cfg.TranscribeWorkers)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.ReapInterval < time.Second {
		return Config{}, fmt.Errorf("APP_REAP_INTERVAL must be at least 1s")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_SESSIONS must be positive")
	}
	if cfg.MaxPromptExchanges <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_EXCHANGES must be positive")
	}
	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	if cfg.WhisperBeamSize <= 0 {
		return Config{}, fmt.Errorf("WHISPER_BEAM_SIZE must be positive")
	}
	if cfg.WhisperBestOf <= 0 {
		return Config{}, fmt.Errorf("WHISPER_BEST_OF must be positive")
	}
	if cfg.TranscribeWorkers <= 0 {
		return Config{}, fmt.Errorf("TRANSCRIBE_WORKERS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
