package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Summarizer condenses a finalized conversation. Implemented by the
// completion client; failures are tolerated.
type Summarizer interface {
	Summarize(ctx context.Context, conversation string) (string, error)
}

// Archiver mirrors finalized sessions to durable storage (Postgres). Optional
// and best-effort.
type Archiver interface {
	ArchiveSession(ctx context.Context, sessionID string, turns []Turn, summary string) error
}

// FileFinalizer writes one transcript file and one summary file per evicted
// session into a configured directory. Files are overwritten if a session id
// is reused after eviction.
type FileFinalizer struct {
	dir        string
	summarizer Summarizer
	archiver   Archiver
}

func NewFileFinalizer(dir string, summarizer Summarizer, archiver Archiver) (*FileFinalizer, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "saved_sessions"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session save dir: %w", err)
	}
	return &FileFinalizer{dir: dir, summarizer: summarizer, archiver: archiver}, nil
}

// Finalize persists the transcript, then requests a summary and persists it.
// A summarization failure leaves the transcript in place and is reported to
// the caller for logging only; eviction proceeds regardless.
func (f *FileFinalizer) Finalize(ctx context.Context, sessionID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	// The gateway rejects such ids at the protocol boundary; this guard keeps
	// the finalizer safe for any other caller.
	if sessionID != filepath.Base(sessionID) || strings.Contains(sessionID, "..") {
		return fmt.Errorf("unsafe session id %q", sessionID)
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "%s: %s\n\n", strings.ToUpper(t.Role), t.Content)
	}
	transcriptPath := filepath.Join(f.dir, sessionID+".txt")
	if err := os.WriteFile(transcriptPath, []byte(transcript.String()), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	summary := ""
	var summarizeErr error
	if f.summarizer != nil {
		var conversation strings.Builder
		for _, t := range turns {
			fmt.Fprintf(&conversation, "%s: %s\n", t.Role, t.Content)
		}
		summary, summarizeErr = f.summarizer.Summarize(ctx, conversation.String())
		if summarizeErr != nil {
			summary = ""
		} else {
			summaryPath := filepath.Join(f.dir, sessionID+"_summary.txt")
			if err := os.WriteFile(summaryPath, []byte(summary), 0o644); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
	}

	// Archive even when summarization failed: the turns are still worth
	// mirroring, with an empty summary.
	if f.archiver != nil {
		if err := f.archiver.ArchiveSession(ctx, sessionID, turns, summary); err != nil {
			// Archive is a mirror of the files, not the source of truth.
			log.Printf("finalize: archive session %s failed: %v", sessionID, err)
		}
	}
	if summarizeErr != nil {
		return fmt.Errorf("summarize session: %w", summarizeErr)
	}
	return nil
}
