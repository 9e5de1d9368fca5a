package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/twitch"
	"github.com/KenB-Good/ClipMaster/types"
)

func TestStateTransitionTable(t *testing.T) {
	legal := []struct{ from, to SessionState }{
		{StateIdle, StateConnecting},
		{StateConnecting, StateCapturing},
		{StateConnecting, StateError},
		{StateConnecting, StateIdle},
		{StateCapturing, StateFinalizing},
		{StateCapturing, StateError},
		{StateFinalizing, StateIdle},
		{StateFinalizing, StateError},
		{StateError, StateIdle},
	}
	for _, tr := range legal {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be legal", tr.from, tr.to)
		}
	}
	illegal := []struct{ from, to SessionState }{
		{StateIdle, StateCapturing},
		{StateIdle, StateFinalizing},
		{StateCapturing, StateIdle},
		{StateCapturing, StateConnecting},
		{StateError, StateCapturing},
		{StateFinalizing, StateCapturing},
		{StateIdle, StateIdle},
	}
	for _, tr := range illegal {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s should be illegal", tr.from, tr.to)
		}
	}
}

// --- fakes ---

type fakeLive struct {
	mu sync.Mutex
	// responses are consumed in order; the last one repeats forever.
	responses []*twitch.StreamInfo
}

func (f *fakeLive) GetStream(_ context.Context, _ string) (*twitch.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil, nil
	}
	head := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return head, nil
}

type fakeRecording struct {
	path string
	size int64
}

func (r *fakeRecording) Stop() (int64, error) { return r.size, nil }
func (r *fakeRecording) Path() string         { return r.path }

type fakeRecorder struct {
	size int64
}

func (f *fakeRecorder) Start(_ context.Context, _ string, outputPath string) (Recording, error) {
	return &fakeRecording{path: outputPath, size: f.size}, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*types.ProcessingTask
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, videoID string, taskType types.TaskType, cfg any, prompt string) (*types.ProcessingTask, error) {
	raw, err := types.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	task := &types.ProcessingTask{
		ID:           string(taskType) + "-" + videoID,
		VideoID:      videoID,
		Type:         taskType,
		Status:       types.TaskPending,
		Config:       raw,
		CustomPrompt: prompt,
	}
	// ID is synthetic; only type/video/config matter to these tests.
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	return task, nil
}

func (f *fakeEnqueuer) byType(taskType types.TaskType) []*types.ProcessingTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ProcessingTask
	for _, task := range f.tasks {
		if task.Type == taskType {
			out = append(out, task)
		}
	}
	return out
}

type fakeChat struct {
	connectErr error
	messages   []types.ChatMessage
}

func (f *fakeChat) Connect(_ context.Context) error { return f.connectErr }
func (f *fakeChat) Close() error                    { return nil }

func (f *fakeChat) Listen(ctx context.Context, onMessage func(types.ChatMessage)) error {
	for _, msg := range f.messages {
		onMessage(msg)
	}
	<-ctx.Done()
	return errors.New("connection closed")
}

func fastOptions(dir string) Options {
	return Options{
		CheckInterval:    5 * time.Millisecond,
		ScoreInterval:    10 * time.Millisecond,
		SlidingWindow:    5 * time.Minute,
		ErrorCooldown:    time.Millisecond,
		MaxOfflineChecks: 2,
		MaxReconnects:    1,
		OutputDir:        dir,
	}
}

func liveStream() *twitch.StreamInfo {
	return &twitch.StreamInfo{ID: "stream-1", Title: "ranked grind", GameName: "Apex Legends"}
}

func TestSessionRecordsUntilStreamEnds(t *testing.T) {
	mem := store.NewMemory()
	enq := &fakeEnqueuer{}
	// Live for the first poll, offline from then on.
	live := &fakeLive{responses: []*twitch.StreamInfo{liveStream(), nil}}

	session := NewSession(
		types.StreamCaptureConfig{Channel: "streamer", AutoClip: false, ChatMonitoring: false},
		live,
		func(string) ChatSource { return &fakeChat{} },
		&fakeRecorder{size: 50 << 20},
		highlight.NewScorer(highlight.DefaultConfig(), nil),
		mem, enq, fastOptions(t.TempDir()),
	)

	result, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result == nil || result.VideoID == "" {
		t.Fatalf("result = %+v, want a video", result)
	}
	if result.Partial {
		t.Fatal("clean stream end reported as partial")
	}
	if session.State() != StateIdle {
		t.Fatalf("final state = %s, want IDLE", session.State())
	}

	video, err := mem.GetVideo(context.Background(), result.VideoID)
	if err != nil {
		t.Fatalf("video record: %v", err)
	}
	if video.Source != types.SourceTwitchStream {
		t.Fatalf("video source = %s, want TWITCH_STREAM", video.Source)
	}
	if video.FileSize != 50<<20 {
		t.Fatalf("video size = %d", video.FileSize)
	}
	if video.TwitchTitle != "ranked grind" || video.TwitchGame != "Apex Legends" {
		t.Fatalf("stream metadata not recorded: %+v", video)
	}

	if len(enq.byType(types.TaskTranscription)) != 1 {
		t.Fatal("transcription not enqueued on finalize")
	}
	if len(enq.byType(types.TaskHighlightDetection)) != 1 {
		t.Fatal("highlight detection not enqueued on finalize")
	}
}

func TestSessionFinalizesPartialAfterChatReconnectBound(t *testing.T) {
	mem := store.NewMemory()
	enq := &fakeEnqueuer{}
	live := &fakeLive{responses: []*twitch.StreamInfo{liveStream()}}

	session := NewSession(
		types.StreamCaptureConfig{Channel: "streamer", ChatMonitoring: true},
		live,
		func(string) ChatSource { return &fakeChat{connectErr: errors.New("refused")} },
		&fakeRecorder{size: 10 << 20},
		highlight.NewScorer(highlight.DefaultConfig(), nil),
		mem, enq, fastOptions(t.TempDir()),
	)

	result, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result == nil || !result.Partial {
		t.Fatalf("result = %+v, want partial footage", result)
	}
	// Partial footage still enters the pipeline.
	if len(enq.byType(types.TaskTranscription)) != 1 {
		t.Fatal("partial footage not queued for processing")
	}
	if session.State() != StateIdle {
		t.Fatalf("final state = %s, want IDLE", session.State())
	}
}

func TestSessionGivesUpWhenChannelNeverGoesLive(t *testing.T) {
	mem := store.NewMemory()
	enq := &fakeEnqueuer{}
	session := NewSession(
		types.StreamCaptureConfig{Channel: "streamer"},
		&fakeLive{},
		func(string) ChatSource { return &fakeChat{} },
		&fakeRecorder{size: 1 << 20},
		highlight.NewScorer(highlight.DefaultConfig(), nil),
		mem, enq, fastOptions(t.TempDir()),
	)

	result, err := session.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want nil for a channel that never went live", result)
	}
	if len(enq.tasks) != 0 {
		t.Fatalf("tasks enqueued without footage: %+v", enq.tasks)
	}
	if videos, _ := mem.ListVideos(context.Background(), "", 0); len(videos) != 0 {
		t.Fatalf("video records created without footage: %+v", videos)
	}
	if session.State() != StateIdle {
		t.Fatalf("final state = %s, want IDLE", session.State())
	}
}

func TestSessionAutoClipsHotChatWindows(t *testing.T) {
	mem := store.NewMemory()
	enq := &fakeEnqueuer{}
	live := &fakeLive{responses: []*twitch.StreamInfo{liveStream()}}

	// Timestamps sit shortly after the session start so their media-time
	// offsets land in the first chat window.
	var burst []types.ChatMessage
	for i := 0; i < 12; i++ {
		burst = append(burst, types.ChatMessage{
			Timestamp: time.Now().Add(2*time.Second + time.Duration(i)*10*time.Millisecond),
			Username:  "fan" + string(rune('a'+i)),
			Text:      "POGGERS clip it!!!",
		})
	}

	session := NewSession(
		types.StreamCaptureConfig{Channel: "streamer", AutoClip: true, ChatMonitoring: true},
		live,
		func(string) ChatSource { return &fakeChat{messages: burst} },
		&fakeRecorder{size: 10 << 20},
		highlight.NewScorer(highlight.DefaultConfig(), nil),
		mem, enq, fastOptions(t.TempDir()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	result, err := session.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result == nil || !result.Partial {
		t.Fatalf("result = %+v, want partial after cancellation", result)
	}

	clips := enq.byType(types.TaskClipGeneration)
	if len(clips) != 1 {
		t.Fatalf("got %d auto-clip tasks, want 1: %+v", len(clips), clips)
	}
	cfg, err := types.DecodeConfig[types.ClipGenerationConfig](clips[0])
	if err != nil {
		t.Fatalf("decode clip config: %v", err)
	}
	if !cfg.ExplicitRange() {
		t.Fatalf("auto-clip config lacks an explicit range: %+v", cfg)
	}
	if cfg.StartTime != 0 || cfg.EndTime != 30 {
		t.Fatalf("clip range = [%v, %v], want the hot chat window [0, 30]", cfg.StartTime, cfg.EndTime)
	}
	if session.Snapshot().AutoClips != 1 {
		t.Fatalf("stats.AutoClips = %d, want 1", session.Snapshot().AutoClips)
	}
}
