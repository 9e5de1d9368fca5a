package capture

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/twitch"
	"github.com/KenB-Good/ClipMaster/types"
)

// LiveChecker polls a channel's live status. *twitch.HelixClient implements
// it.
type LiveChecker interface {
	GetStream(ctx context.Context, channel string) (*twitch.StreamInfo, error)
}

// ChatSource is one chat connection. *twitch.ChatClient implements it.
type ChatSource interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context, onMessage func(types.ChatMessage)) error
	Close() error
}

// ChatDialer mints a fresh ChatSource per (re)connection attempt.
type ChatDialer func(channel string) ChatSource

// Enqueuer submits follow-up tasks. The orchestrator implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, videoID string, taskType types.TaskType, cfg any, customPrompt string) (*types.ProcessingTask, error)
}

// Options tunes session timing. Zero values fall back to the defaults in
// config.
type Options struct {
	CheckInterval    time.Duration
	ScoreInterval    time.Duration
	SlidingWindow    time.Duration
	ErrorCooldown    time.Duration
	MaxOfflineChecks int
	MaxReconnects    int
	OutputDir        string
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CheckInterval == 0 {
		o.CheckInterval = config.LiveCheckInterval
	}
	if o.ScoreInterval == 0 {
		o.ScoreInterval = config.LiveScoreInterval
	}
	if o.SlidingWindow == 0 {
		o.SlidingWindow = config.SlidingWindow
	}
	if o.ErrorCooldown == 0 {
		o.ErrorCooldown = config.ErrorCooldown
	}
	if o.MaxOfflineChecks == 0 {
		o.MaxOfflineChecks = config.MaxOfflineChecks
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = config.MaxReconnectAttempts
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Stats is a session's observable progress.
type Stats struct {
	Channel      string     `json:"channel"`
	State        string     `json:"state"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	MessagesSeen int        `json:"messages_seen"`
	AutoClips    int        `json:"auto_clips"`
	Reconnects   int        `json:"reconnects"`
	VideoID      string     `json:"video_id,omitempty"`
}

// Session captures one channel. The Run loop owns all mutable capture data;
// chat arrives over a channel, never through shared memory.
type Session struct {
	channel  string
	cfg      types.StreamCaptureConfig
	opts     Options
	live     LiveChecker
	dialChat ChatDialer
	recorder Recorder
	scorer   *highlight.Scorer
	meta     store.MetadataStore
	enq      Enqueuer

	mu    sync.Mutex
	state SessionState
	stats Stats
}

// NewSession wires a session. The scorer is used over the chat sliding
// window only; full-signal scoring happens later in the pipeline.
func NewSession(cfg types.StreamCaptureConfig, live LiveChecker, dialChat ChatDialer, recorder Recorder,
	scorer *highlight.Scorer, meta store.MetadataStore, enq Enqueuer, opts Options) *Session {
	return &Session{
		channel:  cfg.Channel,
		cfg:      cfg,
		opts:     opts.withDefaults(),
		live:     live,
		dialChat: dialChat,
		recorder: recorder,
		scorer:   scorer,
		meta:     meta,
		enq:      enq,
		state:    StateIdle,
		stats:    Stats{Channel: cfg.Channel, State: string(StateIdle)},
	}
}

// State returns the current FSM state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the session's stats.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// setState is the single state mutator; an illegal transition is a bug in
// the Run loop and fails loudly.
func (s *Session) setState(to SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkTransition(s.state, to); err != nil {
		panic(err)
	}
	log.Printf("📡 Capture session %s: %s -> %s", s.channel, s.state, to)
	s.state = to
	s.stats.State = string(to)
}

// Run drives the session to completion: wait for the channel to go live,
// record and watch chat, then finalize footage into the pipeline. A nil
// result with nil error means the channel never went live.
func (s *Session) Run(ctx context.Context) (*types.StreamCaptureResult, error) {
	s.setState(StateConnecting)

	stream, err := s.waitForLive(ctx)
	if err != nil {
		return nil, s.failWithCooldown(ctx, err)
	}
	if stream == nil {
		s.setState(StateIdle)
		log.Printf("📴 Channel %s never went live, giving up", s.channel)
		return nil, nil
	}

	startedAt := s.opts.Now()
	video := &types.Video{
		ID:               uuid.NewString(),
		Filename:         fmt.Sprintf("%s_%s.mp4", s.channel, startedAt.Format("20060102_150405")),
		OriginalFilename: stream.Title,
		Source:           types.SourceTwitchStream,
		Status:           types.VideoProcessing,
		TwitchStreamID:   stream.ID,
		TwitchTitle:      stream.Title,
		TwitchGame:       stream.GameName,
		UploadedAt:       startedAt,
	}
	video.FilePath = filepath.Join(s.opts.OutputDir, video.Filename)
	if err := s.meta.CreateVideo(ctx, video); err != nil {
		return nil, s.failWithCooldown(ctx, types.Transient(fmt.Errorf("create video record: %w", err)))
	}

	recording, err := s.recorder.Start(ctx, s.channel, video.FilePath)
	if err != nil {
		s.meta.DeleteVideo(ctx, video.ID)
		return nil, s.failWithCooldown(ctx, err)
	}

	s.mu.Lock()
	s.stats.StartedAt = &startedAt
	s.stats.VideoID = video.ID
	s.mu.Unlock()
	s.setState(StateCapturing)

	history, partial := s.captureLoop(ctx, startedAt)

	return s.finalize(ctx, video, recording, startedAt, history, partial)
}

// waitForLive polls until the channel is live. Returns nil after the offline
// bound without the channel ever streaming.
func (s *Session) waitForLive(ctx context.Context) (*twitch.StreamInfo, error) {
	checks := 0
	for {
		stream, err := s.live.GetStream(ctx, s.channel)
		if err != nil {
			if !types.IsTransient(err) {
				return nil, err
			}
			log.Printf("⚠️ Live check for %s failed: %v", s.channel, err)
		} else if stream != nil {
			return stream, nil
		}
		checks++
		if checks >= s.opts.MaxOfflineChecks {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, types.WrapTask("", types.KindCancelled, ctx.Err())
		case <-time.After(s.opts.CheckInterval):
		}
	}
}

// captureLoop owns the chat window and the live/score tickers. It returns
// when capture should finalize, handing back the full chat history; the bool
// reports whether footage is partial (connection bound hit or cancellation)
// rather than a clean stream end.
func (s *Session) captureLoop(ctx context.Context, startedAt time.Time) (history []types.ChatMessage, partial bool) {
	chatCh := make(chan types.ChatMessage, 256)
	chatDead := make(chan struct{}, 1)
	chatCtx, stopChat := context.WithCancel(ctx)
	defer stopChat()
	if s.cfg.ChatMonitoring {
		go s.chatLoop(chatCtx, startedAt, chatCh, chatDead)
	}

	liveTicker := time.NewTicker(s.opts.CheckInterval)
	defer liveTicker.Stop()
	scoreTicker := time.NewTicker(s.opts.ScoreInterval)
	defer scoreTicker.Stop()

	var window []types.ChatMessage
	clipped := map[float64]bool{}
	offline := 0

	for {
		select {
		case <-ctx.Done():
			return history, true

		case <-chatDead:
			log.Printf("💬 Chat reconnect bound reached for %s, finalizing partial footage", s.channel)
			return history, true

		case msg := <-chatCh:
			window = append(window, msg)
			history = append(history, msg)
			s.mu.Lock()
			s.stats.MessagesSeen++
			s.mu.Unlock()

		case <-scoreTicker.C:
			window = s.pruneWindow(window)
			if s.cfg.AutoClip && len(window) > 0 {
				s.autoClip(ctx, window, clipped)
			}

		case <-liveTicker.C:
			stream, err := s.live.GetStream(ctx, s.channel)
			switch {
			case err != nil:
				log.Printf("⚠️ Live check for %s failed: %v", s.channel, err)
			case stream == nil:
				offline++
				if offline >= s.opts.MaxOfflineChecks {
					log.Printf("📴 %s offline for %d checks, finalizing", s.channel, offline)
					return history, false
				}
			default:
				offline = 0
			}
		}
	}
}

// chatLoop keeps one chat connection alive, reconnecting up to the bound.
// Messages get their media-time offset stamped before crossing the channel.
func (s *Session) chatLoop(ctx context.Context, startedAt time.Time, out chan<- types.ChatMessage, dead chan<- struct{}) {
	push := func(msg types.ChatMessage) {
		msg.Offset = msg.Timestamp.Sub(startedAt).Seconds()
		if msg.Offset < 0 {
			return
		}
		select {
		case out <- msg:
		default:
			// Drop rather than stall the reader under chat floods.
		}
	}

	attempts := 0
	for {
		src := s.dialChat(s.channel)
		err := src.Connect(ctx)
		if err == nil {
			err = src.Listen(ctx, push)
		}
		src.Close()
		if ctx.Err() != nil {
			return
		}

		attempts++
		s.mu.Lock()
		s.stats.Reconnects = attempts
		s.mu.Unlock()
		if attempts > s.opts.MaxReconnects {
			select {
			case dead <- struct{}{}:
			default:
			}
			return
		}
		log.Printf("💬 Chat connection for %s dropped (attempt %d/%d): %v", s.channel, attempts, s.opts.MaxReconnects, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempts) * time.Second):
		}
	}
}

// pruneWindow drops messages older than the sliding window.
func (s *Session) pruneWindow(window []types.ChatMessage) []types.ChatMessage {
	cutoff := s.opts.Now().Add(-s.opts.SlidingWindow)
	keep := window[:0]
	for _, msg := range window {
		if !msg.Timestamp.Before(cutoff) {
			keep = append(keep, msg)
		}
	}
	return keep
}

// autoClip scores the chat window and enqueues clip tasks for hot moments
// not already clipped. Ranges are media-relative, so the clip task can cut
// straight from the growing recording.
func (s *Session) autoClip(ctx context.Context, window []types.ChatMessage, clipped map[float64]bool) {
	s.mu.Lock()
	videoID := s.stats.VideoID
	s.mu.Unlock()

	for _, p := range s.scorer.ChatWindows(window) {
		if p.Confidence < config.DefaultConfidenceThreshold || clipped[p.StartTime] {
			continue
		}
		clipped[p.StartTime] = true
		_, err := s.enq.Enqueue(ctx, videoID, types.TaskClipGeneration, types.ClipGenerationConfig{
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Format:    types.FormatHorizontal,
		}, "")
		if err != nil {
			log.Printf("⚠️ Auto-clip enqueue for %s failed: %v", s.channel, err)
			continue
		}
		s.mu.Lock()
		s.stats.AutoClips++
		s.mu.Unlock()
		log.Printf("✂️ Auto-clip queued for %s [%.0fs - %.0fs] (confidence %.2f)", s.channel, p.StartTime, p.EndTime, p.Confidence)
	}
}

// finalize settles the recording, updates the video record, and enqueues the
// processing pass. Partial footage goes through the same path; losing the
// stream must never lose what was already captured.
func (s *Session) finalize(ctx context.Context, video *types.Video, recording Recording, startedAt time.Time, history []types.ChatMessage, partial bool) (*types.StreamCaptureResult, error) {
	s.setState(StateFinalizing)

	// Finalization must complete even when the session was cancelled.
	ctx = context.WithoutCancel(ctx)

	size, err := recording.Stop()
	if err != nil {
		return nil, s.failWithCooldown(ctx, err)
	}
	if size == 0 {
		s.meta.DeleteVideo(ctx, video.ID)
		s.setState(StateIdle)
		return nil, types.Transient(fmt.Errorf("recording of %s produced no usable footage", s.channel))
	}

	duration := s.opts.Now().Sub(startedAt).Seconds()
	if err := s.meta.UpdateVideoMedia(ctx, video.ID, size, duration, ""); err != nil {
		log.Printf("⚠️ Update video %s media facts: %v", video.ID, err)
	}

	// The chat log rides along as a sidecar so highlight detection can score
	// it against the footage.
	if len(history) > 0 {
		if err := media.WriteChatLog(media.ChatSidecarPath(video.FilePath), history); err != nil {
			log.Printf("⚠️ Persist chat log for %s: %v", video.ID, err)
		}
	}

	if _, err := s.enq.Enqueue(ctx, video.ID, types.TaskTranscription, types.TranscriptionConfig{}, ""); err != nil {
		log.Printf("⚠️ Enqueue transcription for %s: %v", video.ID, err)
	}
	if _, err := s.enq.Enqueue(ctx, video.ID, types.TaskHighlightDetection, types.HighlightDetectionConfig{
		UseTranscription: true,
		UseChat:          s.cfg.ChatMonitoring,
	}, ""); err != nil {
		log.Printf("⚠️ Enqueue highlight detection for %s: %v", video.ID, err)
	}

	s.setState(StateIdle)
	log.Printf("✅ Capture of %s finalized: %.0fs of footage (%d bytes, partial=%t)", s.channel, duration, size, partial)
	return &types.StreamCaptureResult{
		VideoID:  video.ID,
		Duration: duration,
		Partial:  partial,
	}, nil
}

// failWithCooldown parks the session in Error for the cooldown before
// returning it to Idle, so a flapping dependency cannot spin the FSM.
func (s *Session) failWithCooldown(ctx context.Context, cause error) error {
	if types.KindOf(cause) == types.KindCancelled {
		s.forceIdle()
		return cause
	}
	s.setState(StateError)
	select {
	case <-ctx.Done():
	case <-time.After(s.opts.ErrorCooldown):
	}
	s.setState(StateIdle)
	return cause
}

// forceIdle returns to Idle through whatever legal path exists from the
// current state.
func (s *Session) forceIdle() {
	switch s.State() {
	case StateIdle:
	case StateConnecting, StateFinalizing, StateError:
		s.setState(StateIdle)
	case StateCapturing:
		s.setState(StateFinalizing)
		s.setState(StateIdle)
	}
}
