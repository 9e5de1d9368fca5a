// Package redisq backs the task store with Redis: task records as JSON
// strings, a pending zset ordered by creation time, and claim atomicity via
// optimistic WATCH transactions.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

const (
	keyPrefix  = "clipmaster:"
	keyPending = keyPrefix + "tasks:pending"
	keyRunning = keyPrefix + "tasks:running"
	keyAll     = keyPrefix + "tasks:all"
)

func taskKey(id string) string { return keyPrefix + "task:" + id }

func videoKey(videoID string) string { return keyPrefix + "tasks:video:" + videoID }

func activeKey(videoID string, taskType types.TaskType) string {
	return keyPrefix + "tasks:active:" + videoID + ":" + string(taskType)
}

// Queue is a store.TaskStore over Redis.
type Queue struct {
	rdb *redis.Client
}

// Connect parses a redis:// URL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Queue{rdb: rdb}, nil
}

// New wraps an existing client.
func New(rdb *redis.Client) *Queue { return &Queue{rdb: rdb} }

// Close releases the client.
func (q *Queue) Close() error { return q.rdb.Close() }

func (q *Queue) Create(ctx context.Context, task *types.ProcessingTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	ok, err := q.rdb.SetNX(ctx, taskKey(task.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	pipe := q.rdb.Pipeline()
	pipe.ZAdd(ctx, keyPending, redis.Z{Score: float64(task.CreatedAt.UnixNano()), Member: task.ID})
	pipe.SAdd(ctx, keyAll, task.ID)
	if task.VideoID != "" {
		pipe.SAdd(ctx, videoKey(task.VideoID), task.ID)
		pipe.Set(ctx, activeKey(task.VideoID, task.Type), task.ID, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) load(ctx context.Context, id string) (*types.ProcessingTask, error) {
	raw, err := q.rdb.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t types.ProcessingTask
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*types.ProcessingTask, error) {
	return q.load(ctx, id)
}

func (q *Queue) loadMany(ctx context.Context, ids []string) ([]*types.ProcessingTask, error) {
	out := make([]*types.ProcessingTask, 0, len(ids))
	for _, id := range ids {
		t, err := q.load(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *Queue) FindActive(ctx context.Context, videoID string, taskType types.TaskType) (*types.ProcessingTask, error) {
	id, err := q.rdb.Get(ctx, activeKey(videoID, taskType)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := q.load(ctx, id)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.Status != types.TaskPending && t.Status != types.TaskRunning {
		return nil, nil
	}
	return t, nil
}

func (q *Queue) Pending(ctx context.Context) ([]*types.ProcessingTask, error) {
	ids, err := q.rdb.ZRange(ctx, keyPending, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return q.loadMany(ctx, ids)
}

func (q *Queue) Running(ctx context.Context) ([]*types.ProcessingTask, error) {
	ids, err := q.rdb.SMembers(ctx, keyRunning).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := q.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		ti, tj := tasks[i].StartedAt, tasks[j].StartedAt
		if ti == nil || tj == nil {
			return tasks[i].ID < tasks[j].ID
		}
		return ti.Before(*tj)
	})
	return tasks, nil
}

func (q *Queue) ListByVideo(ctx context.Context, videoID string) ([]*types.ProcessingTask, error) {
	ids, err := q.rdb.SMembers(ctx, videoKey(videoID)).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := q.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (q *Queue) List(ctx context.Context, status types.TaskStatus, taskType types.TaskType, limit int) ([]*types.ProcessingTask, error) {
	ids, err := q.rdb.SMembers(ctx, keyAll).Result()
	if err != nil {
		return nil, err
	}
	tasks, err := q.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	filtered := tasks[:0]
	for _, t := range tasks {
		if status != "" && t.Status != status {
			continue
		}
		if taskType != "" && t.Type != taskType {
			continue
		}
		filtered = append(filtered, t)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// mutate runs an optimistic CAS on one task record: load under WATCH, apply
// fn, write back with the index updates fn queued. A concurrent writer aborts
// the transaction and mutate reports a lost race.
func (q *Queue) mutate(ctx context.Context, id string, fn func(t *types.ProcessingTask, pipe redis.Pipeliner) error) error {
	key := taskKey(id)
	return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var t types.ProcessingTask
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decode task %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := fn(&t, pipe); err != nil {
				return err
			}
			updated, err := json.Marshal(&t)
			if err != nil {
				return fmt.Errorf("encode task: %w", err)
			}
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

// errLostRace aborts a mutate without surfacing an error to the caller.
var errLostRace = errors.New("redisq: lost claim race")

func (q *Queue) Claim(ctx context.Context, id, workerID string, at time.Time) (bool, error) {
	err := q.mutate(ctx, id, func(t *types.ProcessingTask, pipe redis.Pipeliner) error {
		if t.Status != types.TaskPending || at.Before(t.NotBefore) {
			return errLostRace
		}
		started := at
		t.Status = types.TaskRunning
		t.WorkerID = workerID
		t.StartedAt = &started
		pipe.ZRem(ctx, keyPending, id)
		pipe.SAdd(ctx, keyRunning, id)
		return nil
	})
	if errors.Is(err, errLostRace) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) SetProgress(ctx context.Context, id string, progress float64) error {
	return q.mutate(ctx, id, func(t *types.ProcessingTask, _ redis.Pipeliner) error {
		if progress > t.Progress {
			t.Progress = progress
		}
		return nil
	})
}

func (q *Queue) Complete(ctx context.Context, id string, result json.RawMessage, at time.Time) error {
	return q.mutate(ctx, id, func(t *types.ProcessingTask, pipe redis.Pipeliner) error {
		if t.Status != types.TaskRunning {
			return fmt.Errorf("complete task %s: status %s", id, t.Status)
		}
		done := at
		t.Status = types.TaskCompleted
		t.Progress = 100
		t.Result = result
		t.CompletedAt = &done
		pipe.SRem(ctx, keyRunning, id)
		q.clearActive(ctx, pipe, t)
		return nil
	})
}

func (q *Queue) Fail(ctx context.Context, id string, cause string, retry bool, notBefore time.Time, at time.Time) error {
	return q.mutate(ctx, id, func(t *types.ProcessingTask, pipe redis.Pipeliner) error {
		if t.Status != types.TaskRunning {
			return fmt.Errorf("fail task %s: status %s", id, t.Status)
		}
		t.Error = cause
		pipe.SRem(ctx, keyRunning, id)
		if retry {
			t.Status = types.TaskPending
			t.Attempt++
			t.NotBefore = notBefore
			t.Progress = 0
			t.WorkerID = ""
			t.StartedAt = nil
			pipe.ZAdd(ctx, keyPending, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: id})
			return nil
		}
		done := at
		t.Status = types.TaskFailed
		t.CompletedAt = &done
		q.clearActive(ctx, pipe, t)
		return nil
	})
}

func (q *Queue) Cancel(ctx context.Context, id string, at time.Time) (types.TaskStatus, error) {
	var status types.TaskStatus
	err := q.mutate(ctx, id, func(t *types.ProcessingTask, pipe redis.Pipeliner) error {
		switch t.Status {
		case types.TaskPending:
			done := at
			t.Status = types.TaskCancelled
			t.CompletedAt = &done
			pipe.ZRem(ctx, keyPending, id)
			q.clearActive(ctx, pipe, t)
		case types.TaskRunning:
			t.CancelRequested = true
		default:
			status = t.Status
			return fmt.Errorf("cancel task %s: status %s", id, t.Status)
		}
		status = t.Status
		return nil
	})
	return status, err
}

func (q *Queue) FinishCancelled(ctx context.Context, id string, at time.Time) error {
	return q.mutate(ctx, id, func(t *types.ProcessingTask, pipe redis.Pipeliner) error {
		if t.Status != types.TaskRunning {
			return fmt.Errorf("finish cancelled task %s: status %s", id, t.Status)
		}
		done := at
		t.Status = types.TaskCancelled
		t.CompletedAt = &done
		pipe.SRem(ctx, keyRunning, id)
		q.clearActive(ctx, pipe, t)
		return nil
	})
}

// clearActive drops the (video, type) active marker when a task settles.
func (q *Queue) clearActive(ctx context.Context, pipe redis.Pipeliner, t *types.ProcessingTask) {
	if t.VideoID != "" {
		pipe.Del(ctx, activeKey(t.VideoID, t.Type))
	}
}

var _ store.TaskStore = (*Queue)(nil)
