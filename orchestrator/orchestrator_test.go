package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// fakeClock is a hand-advanced clock shared by the orchestrator under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Memory, *fakeClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := newFakeClock()
	orch := New(mem, mem, Options{
		MaxRetries:  3,
		BackoffBase: 10 * time.Second,
		Now:         clock.Now,
	})
	return orch, mem, clock
}

func addVideo(t *testing.T, mem *store.Memory, id string) {
	t.Helper()
	err := mem.CreateVideo(context.Background(), &types.Video{
		ID:         id,
		Filename:   id + ".mp4",
		Source:     types.SourceUpload,
		Status:     types.VideoUploaded,
		UploadedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
}

func TestEnqueueIsIdempotentPerVideoAndType(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	first, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, types.TranscriptionConfig{Model: "base"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, types.TranscriptionConfig{Model: "large"}, "")
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate enqueue created a new task: %s vs %s", second.ID, first.ID)
	}

	// A different type for the same video is independent work.
	other, err := orch.Enqueue(ctx, "vid-1", types.TaskClipGeneration,
		types.ClipGenerationConfig{StartTime: 0, EndTime: 10, Format: types.FormatHorizontal}, "")
	if err != nil {
		t.Fatalf("enqueue other type: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different task type reused the same task")
	}

	// Once the first task settles, re-submission mints a new task. Drain
	// both pending tasks so the transcription is RUNNING before Complete.
	for i := 0; i < 2; i++ {
		if _, err := orch.ClaimNext(ctx, "w1", types.ResourceCPU); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if err := orch.Complete(ctx, first.ID, types.TranscriptionResult{Text: "hi"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	third, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("settled task was returned for a fresh submission")
	}
}

func TestClaimNextMutualExclusion(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()

	const tasks = 20
	for i := 0; i < tasks; i++ {
		addVideo(t, mem, "vid-"+string(rune('a'+i)))
		if _, err := orch.Enqueue(ctx, "vid-"+string(rune('a'+i)), types.TaskTranscription, nil, ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	const claimants = 8
	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		worker := "worker-" + string(rune('0'+i))
		go func() {
			defer wg.Done()
			for {
				task, err := orch.ClaimNext(ctx, worker, types.ResourceCPU)
				if err != nil {
					t.Errorf("%s claim: %v", worker, err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[task.ID]; dup {
					t.Errorf("task %s claimed by both %s and %s", task.ID, prev, worker)
				}
				claimed[task.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != tasks {
		t.Fatalf("claimed %d tasks, want %d", len(claimed), tasks)
	}
}

func TestClaimNextFiltersByResourceClass(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	if _, err := orch.Enqueue(ctx, "vid-1", types.TaskHighlightDetection, nil, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task != nil {
		t.Fatalf("CPU pool claimed a GPU task: %s", task.Type)
	}
	task, err = orch.ClaimNext(ctx, "gpu-1", types.ResourceGPU)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if task == nil || task.Type != types.TaskHighlightDetection {
		t.Fatalf("GPU pool did not claim the detection task, got %+v", task)
	}
}

func TestHighlightDetectionWaitsForTranscription(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	tr, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue transcription: %v", err)
	}
	if _, err := orch.Enqueue(ctx, "vid-1", types.TaskHighlightDetection, nil, ""); err != nil {
		t.Fatalf("enqueue detection: %v", err)
	}

	if task, _ := orch.ClaimNext(ctx, "gpu-1", types.ResourceGPU); task != nil {
		t.Fatalf("detection claimable while transcription pending")
	}

	claimed, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
	if err != nil || claimed == nil || claimed.ID != tr.ID {
		t.Fatalf("claim transcription = %+v, %v", claimed, err)
	}
	if task, _ := orch.ClaimNext(ctx, "gpu-1", types.ResourceGPU); task != nil {
		t.Fatalf("detection claimable while transcription running")
	}

	if err := orch.Complete(ctx, tr.ID, types.TranscriptionResult{Text: "done"}); err != nil {
		t.Fatalf("complete transcription: %v", err)
	}
	task, err := orch.ClaimNext(ctx, "gpu-1", types.ResourceGPU)
	if err != nil {
		t.Fatalf("claim detection: %v", err)
	}
	if task == nil || task.Type != types.TaskHighlightDetection {
		t.Fatalf("detection not claimable after transcription settled, got %+v", task)
	}
}

func TestClipGenerationReadiness(t *testing.T) {
	t.Run("explicit range is immediately claimable", func(t *testing.T) {
		orch, mem, _ := newTestOrchestrator(t)
		ctx := context.Background()
		addVideo(t, mem, "vid-1")

		if _, err := orch.Enqueue(ctx, "vid-1", types.TaskClipGeneration,
			types.ClipGenerationConfig{StartTime: 5, EndTime: 25, Format: types.FormatVertical}, ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		task, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
		if err != nil || task == nil {
			t.Fatalf("claim = %+v, %v", task, err)
		}
	})

	t.Run("highlight reference waits for the highlight", func(t *testing.T) {
		orch, mem, _ := newTestOrchestrator(t)
		ctx := context.Background()
		addVideo(t, mem, "vid-1")

		if _, err := orch.Enqueue(ctx, "vid-1", types.TaskClipGeneration,
			types.ClipGenerationConfig{HighlightID: "hl-1", Format: types.FormatHorizontal}, ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if task, _ := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); task != nil {
			t.Fatal("claimable before the highlight exists")
		}

		err := mem.ReplaceHighlights(ctx, "vid-1", []*types.Highlight{{
			ID: "hl-1", VideoID: "vid-1", StartTime: 10, EndTime: 30,
			Confidence: 0.9, Type: types.HighlightContentPeak,
		}})
		if err != nil {
			t.Fatalf("replace highlights: %v", err)
		}
		task, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
		if err != nil || task == nil {
			t.Fatalf("claim = %+v, %v", task, err)
		}
	})
}

func TestReportProgressIsMonotonic(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
		t.Fatalf("claim: %v", err)
	}

	for _, step := range []struct {
		report float64
		want   float64
	}{
		{report: 30, want: 30},
		{report: 60, want: 60},
		{report: 45, want: 60}, // regression ignored
		{report: 250, want: 100},
		{report: 80, want: 100},
	} {
		if err := orch.ReportProgress(ctx, task.ID, step.report); err != nil {
			t.Fatalf("report %v: %v", step.report, err)
		}
		got, err := orch.Task(ctx, task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Progress != step.want {
			t.Fatalf("after report %v: progress = %v, want %v", step.report, got.Progress, step.want)
		}
	}
}

func TestFailRetriesTransientWithBackoff(t *testing.T) {
	orch, mem, clock := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	backoffs := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	for attempt, backoff := range backoffs {
		claimed, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
		if err != nil || claimed == nil {
			t.Fatalf("attempt %d claim = %+v, %v", attempt, claimed, err)
		}
		if err := orch.Fail(ctx, task.ID, types.Transient(errors.New("gpu oom"))); err != nil {
			t.Fatalf("fail: %v", err)
		}

		got, _ := orch.Task(ctx, task.ID)
		if got.Status != types.TaskPending {
			t.Fatalf("attempt %d: status %s, want PENDING", attempt, got.Status)
		}
		if got.Attempt != attempt+1 {
			t.Fatalf("attempt counter = %d, want %d", got.Attempt, attempt+1)
		}
		wantNotBefore := clock.Now().Add(backoff)
		if !got.NotBefore.Equal(wantNotBefore) {
			t.Fatalf("attempt %d: notBefore = %v, want %v", attempt, got.NotBefore, wantNotBefore)
		}

		// Not claimable until the backoff elapses.
		if c, _ := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); c != nil {
			t.Fatalf("attempt %d: claimed before backoff elapsed", attempt)
		}
		clock.Advance(backoff)
	}

	// Fourth transient failure exhausts the bound.
	claimed, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU)
	if err != nil || claimed == nil {
		t.Fatalf("final claim = %+v, %v", claimed, err)
	}
	if err := orch.Fail(ctx, task.ID, types.Transient(errors.New("gpu oom"))); err != nil {
		t.Fatalf("final fail: %v", err)
	}
	got, _ := orch.Task(ctx, task.ID)
	if got.Status != types.TaskFailed {
		t.Fatalf("status after retry exhaustion = %s, want FAILED", got.Status)
	}

	video, _ := mem.GetVideo(ctx, "vid-1")
	if video.Status != types.VideoError {
		t.Fatalf("video status = %s, want ERROR", video.Status)
	}
}

func TestFailIsTerminalForNonTransientKinds(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cause error
	}{
		{name: "invalid input", cause: types.Invalid(errors.New("end before start"))},
		{name: "unrecoverable", cause: types.Unrecoverable(errors.New("corrupt media"))},
		{name: "untagged", cause: errors.New("who knows")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			orch, mem, _ := newTestOrchestrator(t)
			ctx := context.Background()
			addVideo(t, mem, "vid-1")

			task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if err := orch.Fail(ctx, task.ID, tc.cause); err != nil {
				t.Fatalf("fail: %v", err)
			}
			got, _ := orch.Task(ctx, task.ID)
			if got.Status != types.TaskFailed {
				t.Fatalf("status = %s, want FAILED", got.Status)
			}
			if got.Attempt != 0 {
				t.Fatalf("attempt = %d, want 0 (no retry)", got.Attempt)
			}
		})
	}
}

func TestCancelPendingSettlesImmediately(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := orch.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := orch.Task(ctx, task.ID)
	if got.Status != types.TaskCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if c, _ := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); c != nil {
		t.Fatal("cancelled task was claimable")
	}
}

func TestCancelRunningIsCooperative(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
		t.Fatalf("claim: %v", err)
	}

	taskCtx, done := orch.trackRunning(ctx, task.ID)
	defer done()

	if err := orch.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Still RUNNING until the worker reaches a safe point.
	got, _ := orch.Task(ctx, task.ID)
	if got.Status != types.TaskRunning {
		t.Fatalf("status = %s, want RUNNING", got.Status)
	}
	if !got.CancelRequested {
		t.Fatal("cancel flag not set on running task")
	}
	select {
	case <-taskCtx.Done():
	default:
		t.Fatal("worker context not cancelled")
	}
	if !orch.CancelRequested(ctx, task.ID) {
		t.Fatal("CancelRequested not observable by the worker")
	}

	// A worker that finished anyway still settles as CANCELLED.
	if err := orch.Complete(ctx, task.ID, types.TranscriptionResult{Text: "late"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = orch.Task(ctx, task.ID)
	if got.Status != types.TaskCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}
	if len(got.Result) != 0 {
		t.Fatal("cancelled task recorded a result")
	}
}

func TestCancelTerminalTaskIsInvalidInput(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	task, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := orch.Complete(ctx, task.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err = orch.Cancel(ctx, task.ID)
	if err == nil {
		t.Fatal("cancelling a settled task succeeded")
	}
	if types.KindOf(err) != types.KindInvalidInput {
		t.Fatalf("kind = %s, want INVALID_INPUT", types.KindOf(err))
	}
}

func TestVideoStatusFollowsTaskJoin(t *testing.T) {
	orch, mem, _ := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")

	tr, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	v, _ := mem.GetVideo(ctx, "vid-1")
	if v.Status != types.VideoProcessing {
		t.Fatalf("video status after enqueue = %s, want PROCESSING", v.Status)
	}

	if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := orch.Complete(ctx, tr.ID, types.TranscriptionResult{Text: "hi"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	v, _ = mem.GetVideo(ctx, "vid-1")
	if v.Status != types.VideoProcessed {
		t.Fatalf("video status after completion = %s, want PROCESSED", v.Status)
	}
	if v.ProcessedAt == nil {
		t.Fatal("ProcessedAt not set")
	}
}

func TestRequeueStaleRunningTasks(t *testing.T) {
	orch, mem, clock := newTestOrchestrator(t)
	ctx := context.Background()
	addVideo(t, mem, "vid-1")
	addVideo(t, mem, "vid-2")

	stale, err := orch.Enqueue(ctx, "vid-1", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := orch.ClaimNext(ctx, "cpu-1", types.ResourceCPU); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(45 * time.Minute)

	fresh, err := orch.Enqueue(ctx, "vid-2", types.TaskTranscription, nil, "")
	if err != nil {
		t.Fatalf("enqueue fresh: %v", err)
	}
	if _, err := orch.ClaimNext(ctx, "cpu-2", types.ResourceCPU); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	n, err := orch.RequeueStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}

	got, _ := orch.Task(ctx, stale.ID)
	if got.Status != types.TaskPending || got.Attempt != 1 {
		t.Fatalf("stale task = %s attempt %d, want PENDING attempt 1", got.Status, got.Attempt)
	}
	got, _ = orch.Task(ctx, fresh.ID)
	if got.Status != types.TaskRunning {
		t.Fatalf("fresh task = %s, want RUNNING", got.Status)
	}
}
