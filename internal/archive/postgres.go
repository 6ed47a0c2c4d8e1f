// Package archive mirrors finalized session transcripts into PostgreSQL so
// the plain-text files in the save directory are not the only copy.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arivoice/aria/internal/store"
)

// PostgresArchive persists finalized sessions in PostgreSQL.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// New connects and prepares the schema. An empty databaseURL yields a nil
// archive, which callers treat as "archiving disabled".
func New(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresArchive{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS finalized_sessions (
			session_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			finalized_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS finalized_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_finalized_turns_session ON finalized_turns (session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// ArchiveSession upserts the session row and rewrites its turns. Idempotent:
// re-archiving a reused session id replaces the previous content, matching
// the overwrite semantics of the transcript files.
func (a *PostgresArchive) ArchiveSession(ctx context.Context, sessionID string, turns []store.Turn, summary string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO finalized_sessions (session_id, summary, finalized_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET summary = $2, finalized_at = $3`,
		sessionID, summary, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive session row: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM finalized_turns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear archived turns: %w", err)
	}
	for i, t := range turns {
		_, err := tx.Exec(ctx,
			`INSERT INTO finalized_turns (id, session_id, seq, role, content) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), sessionID, i, t.Role, t.Content,
		)
		if err != nil {
			return fmt.Errorf("archive turn %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func (a *PostgresArchive) Close() {
	a.pool.Close()
}
