package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/twitch"
	"github.com/KenB-Good/ClipMaster/types"
)

// Manager tracks at most one live session per channel and exposes their
// state to the control plane. Sessions run inside STREAM_CAPTURE tasks; the
// manager only registers them.
type Manager struct {
	live     LiveChecker
	recorder Recorder
	scorer   *highlight.Scorer
	meta     store.MetadataStore
	enq      Enqueuer
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the session dependencies once; every session shares them.
func NewManager(live LiveChecker, recorder Recorder, scorer *highlight.Scorer,
	meta store.MetadataStore, enq Enqueuer, opts Options) *Manager {
	return &Manager{
		live:     live,
		recorder: recorder,
		scorer:   scorer,
		meta:     meta,
		enq:      enq,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Run executes one capture session for the worker that claimed the task.
// A second session on the same channel is rejected while one is active.
func (m *Manager) Run(ctx context.Context, cfg types.StreamCaptureConfig) (*types.StreamCaptureResult, error) {
	if cfg.Channel == "" {
		return nil, types.Invalid(fmt.Errorf("stream capture requires a channel"))
	}

	session := NewSession(cfg, m.live, m.dialChat, m.recorder, m.scorer, m.meta, m.enq, m.opts)

	m.mu.Lock()
	if existing, ok := m.sessions[cfg.Channel]; ok && existing.State() != StateIdle {
		m.mu.Unlock()
		return nil, types.Invalid(fmt.Errorf("capture session for %s already active", cfg.Channel))
	}
	m.sessions[cfg.Channel] = session
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.sessions[cfg.Channel] == session {
			delete(m.sessions, cfg.Channel)
		}
		m.mu.Unlock()
	}()

	return session.Run(ctx)
}

// Status returns the stats of the channel's active session.
func (m *Manager) Status(channel string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[channel]
	if !ok {
		return Stats{}, false
	}
	return session.Snapshot(), true
}

// List snapshots every active session.
func (m *Manager) List() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session.Snapshot())
	}
	return out
}

func (m *Manager) dialChat(channel string) ChatSource {
	return twitch.NewChatClient(channel)
}
