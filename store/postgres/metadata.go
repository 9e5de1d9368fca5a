package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

const videoColumns = `id, filename, original_filename, file_path, file_size,
	duration, format, resolution, source, status, transcription,
	twitch_stream_id, twitch_title, twitch_game, uploaded_at, processed_at`

func scanVideo(row pgx.Row) (*types.Video, error) {
	var v types.Video
	err := row.Scan(&v.ID, &v.Filename, &v.OriginalFilename, &v.FilePath, &v.FileSize,
		&v.Duration, &v.Format, &v.Resolution, &v.Source, &v.Status, &v.Transcription,
		&v.TwitchStreamID, &v.TwitchTitle, &v.TwitchGame, &v.UploadedAt, &v.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) CreateVideo(ctx context.Context, v *types.Video) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO videos (id, filename, original_filename, file_path, file_size,
			duration, format, resolution, source, status, transcription,
			twitch_stream_id, twitch_title, twitch_game, uploaded_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		v.ID, v.Filename, v.OriginalFilename, v.FilePath, v.FileSize,
		v.Duration, v.Format, v.Resolution, v.Source, v.Status, v.Transcription,
		v.TwitchStreamID, v.TwitchTitle, v.TwitchGame, v.UploadedAt, v.ProcessedAt)
	return err
}

func (s *Store) GetVideo(ctx context.Context, id string) (*types.Video, error) {
	return scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
}

func (s *Store) UpdateVideoStatus(ctx context.Context, id string, status types.VideoStatus, processedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos
		SET status = $2, processed_at = COALESCE($3, processed_at)
		WHERE id = $1`,
		id, status, processedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateVideoMedia(ctx context.Context, id string, size int64, duration float64, resolution string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos
		SET file_size = $2, duration = $3,
		    resolution = CASE WHEN $4 = '' THEN resolution ELSE $4 END
		WHERE id = $1`,
		id, size, duration, resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetVideoTranscription(ctx context.Context, id string, transcription string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET transcription = $2 WHERE id = $1`, id, transcription)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListVideos(ctx context.Context, status types.VideoStatus, limit int) ([]*types.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE ($1 = '' OR status = $1)
		ORDER BY uploaded_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ArchivedBefore(ctx context.Context, cutoff time.Time) ([]*types.Video, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE status = 'ARCHIVED' AND uploaded_at < $1
		ORDER BY uploaded_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ReplaceHighlights swaps a video's highlight set in one transaction.
func (s *Store) ReplaceHighlights(ctx context.Context, videoID string, hs []*types.Highlight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM highlights WHERE video_id = $1`, videoID); err != nil {
		return err
	}
	for _, h := range hs {
		meta, err := json.Marshal(h.Metadata)
		if err != nil {
			return fmt.Errorf("encode highlight metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO highlights (id, video_id, start_time, end_time, confidence,
				type, description, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			h.ID, h.VideoID, h.StartTime, h.EndTime, h.Confidence,
			h.Type, h.Description, meta, h.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const highlightColumns = `id, video_id, start_time, end_time, confidence,
	type, description, metadata, created_at`

func scanHighlight(row pgx.Row) (*types.Highlight, error) {
	var h types.Highlight
	var meta []byte
	err := row.Scan(&h.ID, &h.VideoID, &h.StartTime, &h.EndTime, &h.Confidence,
		&h.Type, &h.Description, &meta, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("decode highlight metadata: %w", err)
		}
	}
	return &h, nil
}

func (s *Store) ListHighlights(ctx context.Context, videoID string) ([]*types.Highlight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+highlightColumns+` FROM highlights
		WHERE video_id = $1
		ORDER BY confidence DESC, start_time`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Highlight
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetHighlight(ctx context.Context, id string) (*types.Highlight, error) {
	return scanHighlight(s.pool.QueryRow(ctx,
		`SELECT `+highlightColumns+` FROM highlights WHERE id = $1`, id))
}

// DeleteHighlight removes the highlight and clears the weak reference on
// derived clips.
func (s *Store) DeleteHighlight(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM highlights WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `UPDATE clips SET highlight_id = '' WHERE highlight_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const clipColumns = `id, video_id, highlight_id, filename, file_path, file_size,
	duration, start_time, end_time, format, has_subtitles, has_overlay, created_at`

func scanClip(row pgx.Row) (*types.Clip, error) {
	var c types.Clip
	err := row.Scan(&c.ID, &c.VideoID, &c.HighlightID, &c.Filename, &c.FilePath,
		&c.FileSize, &c.Duration, &c.StartTime, &c.EndTime, &c.Format,
		&c.HasSubtitles, &c.HasOverlay, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClip(ctx context.Context, c *types.Clip) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clips (id, video_id, highlight_id, filename, file_path, file_size,
			duration, start_time, end_time, format, has_subtitles, has_overlay, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.VideoID, c.HighlightID, c.Filename, c.FilePath, c.FileSize,
		c.Duration, c.StartTime, c.EndTime, c.Format, c.HasSubtitles, c.HasOverlay, c.CreatedAt)
	return err
}

func (s *Store) GetClip(ctx context.Context, id string) (*types.Clip, error) {
	return scanClip(s.pool.QueryRow(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE id = $1`, id))
}

func (s *Store) ListClips(ctx context.Context, videoID string) ([]*types.Clip, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+clipColumns+` FROM clips
		WHERE video_id = $1
		ORDER BY created_at`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteClip(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clips WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.MetadataStore = (*Store)(nil)
