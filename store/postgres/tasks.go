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

const taskColumns = `id, video_id, type, status, progress, config, custom_prompt,
	result, error, attempt, not_before, cancel_requested, worker_id,
	created_at, started_at, completed_at`

func scanTask(row pgx.Row) (*types.ProcessingTask, error) {
	var t types.ProcessingTask
	var config, result []byte
	err := row.Scan(&t.ID, &t.VideoID, &t.Type, &t.Status, &t.Progress, &config,
		&t.CustomPrompt, &result, &t.Error, &t.Attempt, &t.NotBefore,
		&t.CancelRequested, &t.WorkerID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Config = json.RawMessage(config)
	t.Result = json.RawMessage(result)
	return &t, nil
}

func (s *Store) scanTasks(ctx context.Context, query string, args ...any) ([]*types.ProcessingTask, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.ProcessingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, task *types.ProcessingTask) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, video_id, type, status, progress, config, custom_prompt,
			attempt, not_before, cancel_requested, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID, task.VideoID, task.Type, task.Status, task.Progress, []byte(task.Config),
		task.CustomPrompt, task.Attempt, task.NotBefore, task.CancelRequested,
		task.WorkerID, task.CreatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*types.ProcessingTask, error) {
	return scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (s *Store) FindActive(ctx context.Context, videoID string, taskType types.TaskType) (*types.ProcessingTask, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE video_id = $1 AND type = $2 AND status IN ('PENDING', 'RUNNING')
		LIMIT 1`, videoID, taskType))
	if err == store.ErrNotFound {
		return nil, nil
	}
	return t, err
}

func (s *Store) Pending(ctx context.Context) ([]*types.ProcessingTask, error) {
	return s.scanTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'PENDING'
		ORDER BY created_at, id`)
}

func (s *Store) Running(ctx context.Context) ([]*types.ProcessingTask, error) {
	return s.scanTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'RUNNING'
		ORDER BY started_at NULLS LAST, id`)
}

func (s *Store) ListByVideo(ctx context.Context, videoID string) ([]*types.ProcessingTask, error) {
	return s.scanTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE video_id = $1
		ORDER BY created_at, id`, videoID)
}

func (s *Store) List(ctx context.Context, status types.TaskStatus, taskType types.TaskType, limit int) ([]*types.ProcessingTask, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.scanTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3`, string(status), string(taskType), limit)
}

// Claim is the atomic PENDING -> RUNNING transition: the conditional UPDATE
// succeeds for exactly one claimant.
func (s *Store) Claim(ctx context.Context, id, workerID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'RUNNING', worker_id = $2, started_at = $3
		WHERE id = $1 AND status = 'PENDING' AND not_before <= $3`,
		id, workerID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetProgress(ctx context.Context, id string, progress float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET progress = GREATEST(progress, $2) WHERE id = $1`,
		id, progress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, id string, result json.RawMessage, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'COMPLETED', progress = 100, result = $2, completed_at = $3
		WHERE id = $1 AND status = 'RUNNING'`,
		id, []byte(result), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete task %s: not running", id)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, id string, cause string, retry bool, notBefore time.Time, at time.Time) error {
	var tag int64
	if retry {
		t, err := s.pool.Exec(ctx, `
			UPDATE tasks
			SET status = 'PENDING', error = $2, attempt = attempt + 1,
			    not_before = $3, progress = 0, worker_id = '', started_at = NULL
			WHERE id = $1 AND status = 'RUNNING'`,
			id, cause, notBefore)
		if err != nil {
			return err
		}
		tag = t.RowsAffected()
	} else {
		t, err := s.pool.Exec(ctx, `
			UPDATE tasks
			SET status = 'FAILED', error = $2, completed_at = $3
			WHERE id = $1 AND status = 'RUNNING'`,
			id, cause, at)
		if err != nil {
			return err
		}
		tag = t.RowsAffected()
	}
	if tag == 0 {
		return fmt.Errorf("fail task %s: not running", id)
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (types.TaskStatus, error) {
	var status types.TaskStatus
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status           = CASE WHEN status = 'PENDING' THEN 'CANCELLED' ELSE status END,
		    completed_at     = CASE WHEN status = 'PENDING' THEN $2 ELSE completed_at END,
		    cancel_requested = CASE WHEN status = 'RUNNING' THEN TRUE ELSE cancel_requested END
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
		RETURNING status`, id, at).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already terminal; read back to say which.
		t, gerr := s.Get(ctx, id)
		if gerr != nil {
			return "", gerr
		}
		return t.Status, fmt.Errorf("cancel task %s: status %s", id, t.Status)
	}
	return status, err
}

func (s *Store) FinishCancelled(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'CANCELLED', completed_at = $2
		WHERE id = $1 AND status = 'RUNNING'`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish cancelled task %s: not running", id)
	}
	return nil
}

var _ store.TaskStore = (*Store)(nil)
