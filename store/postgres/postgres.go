// Package postgres backs the task and metadata stores with PostgreSQL via
// pgx. Claim atomicity comes from a conditional UPDATE; everything else is
// plain row CRUD.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements store.TaskStore and store.MetadataStore over one pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema when it does not exist yet. Single-node
// deployments run it at startup; larger ones manage schema out of band.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    id                TEXT PRIMARY KEY,
    filename          TEXT NOT NULL,
    original_filename TEXT NOT NULL DEFAULT '',
    file_path         TEXT NOT NULL,
    file_size         BIGINT NOT NULL DEFAULT 0,
    duration          DOUBLE PRECISION NOT NULL DEFAULT 0,
    format            TEXT NOT NULL DEFAULT '',
    resolution        TEXT NOT NULL DEFAULT '',
    source            TEXT NOT NULL,
    status            TEXT NOT NULL,
    transcription     TEXT NOT NULL DEFAULT '',
    twitch_stream_id  TEXT NOT NULL DEFAULT '',
    twitch_title      TEXT NOT NULL DEFAULT '',
    twitch_game       TEXT NOT NULL DEFAULT '',
    uploaded_at       TIMESTAMPTZ NOT NULL,
    processed_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tasks (
    id               TEXT PRIMARY KEY,
    video_id         TEXT NOT NULL DEFAULT '',
    type             TEXT NOT NULL,
    status           TEXT NOT NULL,
    progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
    config           JSONB,
    custom_prompt    TEXT NOT NULL DEFAULT '',
    result           JSONB,
    error            TEXT NOT NULL DEFAULT '',
    attempt          INTEGER NOT NULL DEFAULT 0,
    not_before       TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    worker_id        TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status, created_at);
CREATE INDEX IF NOT EXISTS tasks_video_idx ON tasks (video_id);

CREATE TABLE IF NOT EXISTS highlights (
    id          TEXT PRIMARY KEY,
    video_id    TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
    start_time  DOUBLE PRECISION NOT NULL,
    end_time    DOUBLE PRECISION NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL,
    type        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metadata    JSONB,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS highlights_video_idx ON highlights (video_id);

CREATE TABLE IF NOT EXISTS clips (
    id            TEXT PRIMARY KEY,
    video_id      TEXT NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
    highlight_id  TEXT NOT NULL DEFAULT '',
    filename      TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    file_size     BIGINT NOT NULL DEFAULT 0,
    duration      DOUBLE PRECISION NOT NULL,
    start_time    DOUBLE PRECISION NOT NULL,
    end_time      DOUBLE PRECISION NOT NULL,
    format        TEXT NOT NULL,
    has_subtitles BOOLEAN NOT NULL DEFAULT FALSE,
    has_overlay   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS clips_video_idx ON clips (video_id);
`
