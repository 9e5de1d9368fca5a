package events

import (
	"context"
	"errors"
	"testing"

	"github.com/KenB-Good/ClipMaster/types"
)

type fakeEnqueuer struct {
	err   error
	tasks []*types.ProcessingTask
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, videoID string, taskType types.TaskType, cfg any, prompt string) (*types.ProcessingTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := types.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	task := &types.ProcessingTask{
		ID:           "task-1",
		VideoID:      videoID,
		Type:         taskType,
		Status:       types.TaskPending,
		Config:       raw,
		CustomPrompt: prompt,
	}
	f.tasks = append(f.tasks, task)
	return task, nil
}

func TestCaptureHandlerEnqueuesStreamCapture(t *testing.T) {
	enq := &fakeEnqueuer{}
	handler := NewCaptureHandler(enq)

	mark, err := handler.Handle(context.Background(),
		[]byte(`{"channel":"streamer","auto_clip":true,"chat_monitoring":true}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !mark {
		t.Fatal("handled request not marked")
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(enq.tasks))
	}
	task := enq.tasks[0]
	if task.Type != types.TaskStreamCapture {
		t.Fatalf("task type = %s", task.Type)
	}
	cfg, err := types.DecodeConfig[types.StreamCaptureConfig](task)
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Channel != "streamer" || !cfg.AutoClip || !cfg.ChatMonitoring {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestCaptureHandlerDropsMalformedRequests(t *testing.T) {
	enq := &fakeEnqueuer{}
	handler := NewCaptureHandler(enq)

	for _, payload := range []string{`{not json`, `{"auto_clip":true}`} {
		mark, err := handler.Handle(context.Background(), []byte(payload))
		if err != nil {
			t.Fatalf("handle %q: %v", payload, err)
		}
		if !mark {
			t.Fatalf("payload %q should be marked and skipped", payload)
		}
	}
	if len(enq.tasks) != 0 {
		t.Fatalf("malformed requests enqueued tasks: %+v", enq.tasks)
	}
}

func TestCaptureHandlerLeavesFailedSubmissionsForRetry(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("store down")}
	handler := NewCaptureHandler(enq)

	mark, err := handler.Handle(context.Background(), []byte(`{"channel":"streamer"}`))
	if err == nil {
		t.Fatal("expected submission error")
	}
	if mark {
		t.Fatal("failed submission must stay unmarked for redelivery")
	}
}
