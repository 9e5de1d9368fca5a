// Package orchestrator sequences the processing pipeline: a durable task
// queue with dependency ordering, retry policy, cooperative cancellation,
// and worker pools partitioned by resource class.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// Options tunes the retry policy and clock. Zero values fall back to the
// defaults in config.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	Now         func() time.Time
}

// Orchestrator owns every ProcessingTask status transition. It is safe for
// concurrent use by claimants, reporters, and cancellers.
type Orchestrator struct {
	tasks       store.TaskStore
	meta        store.MetadataStore
	maxRetries  int
	backoffBase time.Duration
	now         func() time.Time

	// wake nudges one idle worker when new work may be claimable.
	wake chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an orchestrator over the given stores.
func New(tasks store.TaskStore, meta store.MetadataStore, opts Options) *Orchestrator {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = config.MaxTaskRetries
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = config.RetryBackoffBase
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		tasks:       tasks,
		meta:        meta,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		now:         opts.Now,
		wake:        make(chan struct{}, 1),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Enqueue submits a task. Submission is idempotent per (videoID, type): when
// an equivalent PENDING or RUNNING task exists its record is returned
// instead of creating a duplicate.
func (o *Orchestrator) Enqueue(ctx context.Context, videoID string, taskType types.TaskType, cfg any, customPrompt string) (*types.ProcessingTask, error) {
	if videoID != "" {
		existing, err := o.tasks.FindActive(ctx, videoID, taskType)
		if err != nil {
			return nil, fmt.Errorf("find active task: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	raw, err := types.EncodeConfig(cfg)
	if err != nil {
		return nil, types.Invalid(err)
	}

	task := &types.ProcessingTask{
		ID:           uuid.NewString(),
		VideoID:      videoID,
		Type:         taskType,
		Status:       types.TaskPending,
		Config:       raw,
		CustomPrompt: customPrompt,
		CreatedAt:    o.now(),
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if videoID != "" {
		if err := o.syncVideoStatus(ctx, videoID); err != nil {
			log.Printf("sync video %s status after enqueue: %v", videoID, err)
		}
	}
	o.kick()
	return task, nil
}

// ClaimNext atomically hands one ready PENDING task of the given resource
// class to workerID. Tasks whose readiness predicate fails are skipped
// without side effects. Returns (nil, nil) when nothing is claimable.
func (o *Orchestrator) ClaimNext(ctx context.Context, workerID string, class types.ResourceClass) (*types.ProcessingTask, error) {
	pending, err := o.tasks.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}

	now := o.now()
	for _, t := range pending {
		if types.ResourceClassFor(t.Type) != class {
			continue
		}
		if now.Before(t.NotBefore) {
			continue
		}
		ready, err := o.ready(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		won, err := o.tasks.Claim(ctx, t.ID, workerID, now)
		if err != nil {
			return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
		}
		if !won {
			continue
		}
		return o.tasks.Get(ctx, t.ID)
	}
	return nil, nil
}

// ready evaluates the dependency predicate at claim time.
func (o *Orchestrator) ready(ctx context.Context, t *types.ProcessingTask) (bool, error) {
	switch t.Type {
	case types.TaskHighlightDetection:
		// Wait for the video's transcription, if one was enqueued, to
		// settle. A terminally failed transcription unblocks detection:
		// the scorer degrades to the remaining signals.
		dep, err := o.tasks.FindActive(ctx, t.VideoID, types.TaskTranscription)
		if err != nil {
			return false, err
		}
		return dep == nil, nil

	case types.TaskClipGeneration:
		cfg, err := types.DecodeConfig[types.ClipGenerationConfig](t)
		if err != nil {
			return false, err
		}
		if cfg.ExplicitRange() {
			return true, nil
		}
		if cfg.HighlightID != "" {
			_, err := o.meta.GetHighlight(ctx, cfg.HighlightID)
			if err == store.ErrNotFound {
				return false, nil
			}
			return err == nil, err
		}
		// Neither an explicit range nor a highlight reference: wait for
		// the video's detection pass.
		return o.detectionCompleted(ctx, t.VideoID)

	default:
		return true, nil
	}
}

func (o *Orchestrator) detectionCompleted(ctx context.Context, videoID string) (bool, error) {
	all, err := o.tasks.ListByVideo(ctx, videoID)
	if err != nil {
		return false, err
	}
	for _, t := range all {
		if t.Type == types.TaskHighlightDetection && t.Status == types.TaskCompleted {
			return true, nil
		}
	}
	return false, nil
}

// ReportProgress records a worker's progress. Reports are monotonic: a value
// lower than the recorded one is ignored, not an error.
func (o *Orchestrator) ReportProgress(ctx context.Context, taskID string, percent float64) error {
	percent = math.Max(0, math.Min(100, percent))
	return o.tasks.SetProgress(ctx, taskID, percent)
}

// Complete settles a RUNNING task. A task flagged for cancellation settles
// as CANCELLED even when the worker finished its work.
func (o *Orchestrator) Complete(ctx context.Context, taskID string, result any) error {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.CancelRequested {
		if err := o.tasks.FinishCancelled(ctx, taskID, o.now()); err != nil {
			return err
		}
		return o.syncVideoStatus(ctx, t.VideoID)
	}
	raw, err := types.EncodeResult(result)
	if err != nil {
		return err
	}
	if err := o.tasks.Complete(ctx, taskID, raw, o.now()); err != nil {
		return err
	}
	o.kick()
	return o.syncVideoStatus(ctx, t.VideoID)
}

// Fail applies the retry policy. Transient failures requeue with exponential
// backoff until the retry bound; everything else is terminal. A cancelled
// worker settles as CANCELLED, not FAILED.
func (o *Orchestrator) Fail(ctx context.Context, taskID string, cause error) error {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.CancelRequested || types.KindOf(cause) == types.KindCancelled {
		if err := o.tasks.FinishCancelled(ctx, taskID, o.now()); err != nil {
			return err
		}
		return o.syncVideoStatus(ctx, t.VideoID)
	}

	retry := types.IsTransient(cause) && t.Attempt < o.maxRetries
	notBefore := o.now().Add(o.backoffBase * time.Duration(1<<t.Attempt))
	wrapped := types.WrapTask(taskID, types.KindOf(cause), cause)
	if err := o.tasks.Fail(ctx, taskID, wrapped.Error(), retry, notBefore, o.now()); err != nil {
		return err
	}
	if retry {
		log.Printf("task %s attempt %d failed, retrying: %v", taskID, t.Attempt+1, cause)
		o.kick()
	} else {
		log.Printf("task %s failed terminally: %v", taskID, wrapped)
	}
	return o.syncVideoStatus(ctx, t.VideoID)
}

// Cancel stops a task. PENDING tasks settle immediately; RUNNING tasks are
// flagged and their worker context cancelled, with the worker observing the
// flag at its next safe point.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	status, err := o.tasks.Cancel(ctx, taskID, o.now())
	if err != nil {
		return types.Invalid(err)
	}
	if status == types.TaskRunning {
		o.mu.Lock()
		if cancel, ok := o.cancels[taskID]; ok {
			cancel()
		}
		o.mu.Unlock()
		return nil
	}
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return o.syncVideoStatus(ctx, t.VideoID)
}

// CancelRequested lets a worker poll the cooperative cancellation flag at a
// safe point.
func (o *Orchestrator) CancelRequested(ctx context.Context, taskID string) bool {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return false
	}
	return t.CancelRequested
}

// Task returns a task snapshot.
func (o *Orchestrator) Task(ctx context.Context, taskID string) (*types.ProcessingTask, error) {
	return o.tasks.Get(ctx, taskID)
}

// VideoTasks returns every task for a video, oldest first.
func (o *Orchestrator) VideoTasks(ctx context.Context, videoID string) ([]*types.ProcessingTask, error) {
	return o.tasks.ListByVideo(ctx, videoID)
}

// ListTasks filters tasks by status and type for the control plane.
func (o *Orchestrator) ListTasks(ctx context.Context, status types.TaskStatus, taskType types.TaskType, limit int) ([]*types.ProcessingTask, error) {
	return o.tasks.List(ctx, status, taskType, limit)
}

// RequeueStale requeues RUNNING tasks whose worker went quiet, preserving
// task identity and the attempt counter. Run periodically from cron.
func (o *Orchestrator) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	running, err := o.tasks.Running(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := o.now().Add(-olderThan)
	requeued := 0
	for _, t := range running {
		if t.StartedAt == nil || t.StartedAt.After(cutoff) {
			continue
		}
		retry := t.Attempt < o.maxRetries
		if err := o.tasks.Fail(ctx, t.ID, "requeued: worker went quiet", retry, o.now(), o.now()); err != nil {
			log.Printf("requeue stale task %s: %v", t.ID, err)
			continue
		}
		requeued++
		if err := o.syncVideoStatus(ctx, t.VideoID); err != nil {
			log.Printf("sync video %s status after requeue: %v", t.VideoID, err)
		}
	}
	if requeued > 0 {
		log.Printf("♻️  Requeued %d stale task(s)", requeued)
		o.kick()
	}
	return requeued, nil
}

// trackRunning registers a cancellable context for a claimed task so Cancel
// can interrupt the worker between safe points.
func (o *Orchestrator) trackRunning(parent context.Context, taskID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
	return ctx, func() {
		o.mu.Lock()
		delete(o.cancels, taskID)
		o.mu.Unlock()
		cancel()
	}
}

// syncVideoStatus recomputes a video's status as the join of its task
// statuses: PROCESSING while anything is pending or running, ERROR when a
// task failed terminally, PROCESSED when everything settled cleanly.
// Archived videos are immutable and never touched.
func (o *Orchestrator) syncVideoStatus(ctx context.Context, videoID string) error {
	if videoID == "" {
		return nil
	}
	v, err := o.meta.GetVideo(ctx, videoID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if v.Status == types.VideoArchived {
		return nil
	}

	all, err := o.tasks.ListByVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}

	var active, failed, completed bool
	for _, t := range all {
		switch t.Status {
		case types.TaskPending, types.TaskRunning:
			active = true
		case types.TaskFailed:
			failed = true
		case types.TaskCompleted:
			completed = true
		}
	}

	var status types.VideoStatus
	var processedAt *time.Time
	switch {
	case active:
		status = types.VideoProcessing
	case failed:
		status = types.VideoError
	case completed:
		status = types.VideoProcessed
		done := o.now()
		processedAt = &done
	default:
		// Only cancelled tasks remain; leave the video as it arrived.
		status = types.VideoUploaded
	}
	if status == v.Status {
		return nil
	}
	return o.meta.UpdateVideoStatus(ctx, videoID, status, processedAt)
}

func (o *Orchestrator) kick() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Wake exposes the notification channel so worker pools can block instead of
// spinning between polls.
func (o *Orchestrator) Wake() <-chan struct{} { return o.wake }
