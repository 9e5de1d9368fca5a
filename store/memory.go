package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KenB-Good/ClipMaster/types"
)

// Memory is an in-process TaskStore + MetadataStore guarded by one mutex.
// Claim atomicity falls out of the lock; everything hands out copies so
// callers never alias store-owned records.
type Memory struct {
	mu         sync.Mutex
	tasks      map[string]*types.ProcessingTask
	videos     map[string]*types.Video
	highlights map[string]*types.Highlight
	clips      map[string]*types.Clip
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:      make(map[string]*types.ProcessingTask),
		videos:     make(map[string]*types.Video),
		highlights: make(map[string]*types.Highlight),
		clips:      make(map[string]*types.Clip),
	}
}

func copyTask(t *types.ProcessingTask) *types.ProcessingTask {
	c := *t
	return &c
}

// --- TaskStore ---

func (m *Memory) Create(_ context.Context, task *types.ProcessingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	m.tasks[task.ID] = copyTask(task)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (m *Memory) FindActive(_ context.Context, videoID string, taskType types.TaskType) (*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.VideoID == videoID && t.Type == taskType &&
			(t.Status == types.TaskPending || t.Status == types.TaskRunning) {
			return copyTask(t), nil
		}
	}
	return nil, nil
}

func (m *Memory) Pending(_ context.Context) ([]*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ProcessingTask
	for _, t := range m.tasks {
		if t.Status == types.TaskPending {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Running(_ context.Context) ([]*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ProcessingTask
	for _, t := range m.tasks {
		if t.Status == types.TaskRunning {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti == nil || tj == nil {
			return out[i].ID < out[j].ID
		}
		return ti.Before(*tj)
	})
	return out, nil
}

func (m *Memory) ListByVideo(_ context.Context, videoID string) ([]*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ProcessingTask
	for _, t := range m.tasks {
		if t.VideoID == videoID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) List(_ context.Context, status types.TaskStatus, taskType types.TaskType, limit int) ([]*types.ProcessingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.ProcessingTask
	for _, t := range m.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if taskType != "" && t.Type != taskType {
			continue
		}
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Claim(_ context.Context, id, workerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != types.TaskPending || at.Before(t.NotBefore) {
		return false, nil
	}
	started := at
	t.Status = types.TaskRunning
	t.WorkerID = workerID
	t.StartedAt = &started
	return true, nil
}

func (m *Memory) SetProgress(_ context.Context, id string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	return nil
}

func (m *Memory) Complete(_ context.Context, id string, result json.RawMessage, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != types.TaskRunning {
		return fmt.Errorf("complete task %s: status %s", id, t.Status)
	}
	done := at
	t.Status = types.TaskCompleted
	t.Progress = 100
	t.Result = result
	t.CompletedAt = &done
	return nil
}

func (m *Memory) Fail(_ context.Context, id string, cause string, retry bool, notBefore time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != types.TaskRunning {
		return fmt.Errorf("fail task %s: status %s", id, t.Status)
	}
	t.Error = cause
	if retry {
		t.Status = types.TaskPending
		t.Attempt++
		t.NotBefore = notBefore
		t.Progress = 0
		t.WorkerID = ""
		t.StartedAt = nil
		return nil
	}
	done := at
	t.Status = types.TaskFailed
	t.CompletedAt = &done
	return nil
}

func (m *Memory) Cancel(_ context.Context, id string, at time.Time) (types.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return "", ErrNotFound
	}
	switch t.Status {
	case types.TaskPending:
		done := at
		t.Status = types.TaskCancelled
		t.CompletedAt = &done
	case types.TaskRunning:
		t.CancelRequested = true
	default:
		return t.Status, fmt.Errorf("cancel task %s: status %s", id, t.Status)
	}
	return t.Status, nil
}

func (m *Memory) FinishCancelled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != types.TaskRunning {
		return fmt.Errorf("finish cancelled task %s: status %s", id, t.Status)
	}
	done := at
	t.Status = types.TaskCancelled
	t.CompletedAt = &done
	return nil
}

// --- MetadataStore ---

func (m *Memory) CreateVideo(_ context.Context, v *types.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *v
	m.videos[v.ID] = &c
	return nil
}

func (m *Memory) GetVideo(_ context.Context, id string) (*types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *v
	return &c, nil
}

func (m *Memory) UpdateVideoStatus(_ context.Context, id string, status types.VideoStatus, processedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	if processedAt != nil {
		v.ProcessedAt = processedAt
	}
	return nil
}

func (m *Memory) UpdateVideoMedia(_ context.Context, id string, size int64, duration float64, resolution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.FileSize = size
	v.Duration = duration
	if resolution != "" {
		v.Resolution = resolution
	}
	return nil
}

func (m *Memory) SetVideoTranscription(_ context.Context, id string, transcription string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	v.Transcription = transcription
	return nil
}

func (m *Memory) ListVideos(_ context.Context, status types.VideoStatus, limit int) ([]*types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Video
	for _, v := range m.videos {
		if status != "" && v.Status != status {
			continue
		}
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ArchivedBefore(_ context.Context, cutoff time.Time) ([]*types.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Video
	for _, v := range m.videos {
		if v.Status == types.VideoArchived && v.UploadedAt.Before(cutoff) {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (m *Memory) DeleteVideo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return ErrNotFound
	}
	delete(m.videos, id)
	return nil
}

func (m *Memory) ReplaceHighlights(_ context.Context, videoID string, hs []*types.Highlight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.highlights {
		if h.VideoID == videoID {
			delete(m.highlights, id)
		}
	}
	for _, h := range hs {
		c := *h
		m.highlights[h.ID] = &c
	}
	return nil
}

func (m *Memory) ListHighlights(_ context.Context, videoID string) ([]*types.Highlight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Highlight
	for _, h := range m.highlights {
		if h.VideoID == videoID {
			c := *h
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence == out[j].Confidence {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

func (m *Memory) GetHighlight(_ context.Context, id string) (*types.Highlight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.highlights[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *h
	return &c, nil
}

func (m *Memory) DeleteHighlight(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.highlights[id]; !ok {
		return ErrNotFound
	}
	delete(m.highlights, id)
	for _, c := range m.clips {
		if c.HighlightID == id {
			c.HighlightID = ""
		}
	}
	return nil
}

func (m *Memory) CreateClip(_ context.Context, c *types.Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clips[c.ID] = &cp
	return nil
}

func (m *Memory) GetClip(_ context.Context, id string) (*types.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListClips(_ context.Context, videoID string) ([]*types.Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Clip
	for _, c := range m.clips {
		if c.VideoID == videoID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteClip(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clips[id]; !ok {
		return ErrNotFound
	}
	delete(m.clips, id)
	return nil
}

var (
	_ TaskStore     = (*Memory)(nil)
	_ MetadataStore = (*Memory)(nil)
)
