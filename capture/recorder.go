package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/KenB-Good/ClipMaster/types"
)

// Recorder starts stream recordings. Implementations must tolerate the
// stream dropping mid-recording; Stop settles whatever footage exists.
type Recorder interface {
	Start(ctx context.Context, channel, outputPath string) (Recording, error)
}

// Recording is one in-flight stream recording.
type Recording interface {
	// Stop terminates the recording and returns the footage size in bytes.
	// Footage below a sanity floor is discarded and reported as size 0.
	Stop() (int64, error)
	Path() string
}

// minRecordingBytes guards against keeping connection-failure stubs.
const minRecordingBytes = 1 << 20

// StreamlinkRecorder records Twitch streams by running streamlink, which
// handles the HLS handshake and ad-segment skipping.
type StreamlinkRecorder struct {
	Binary string
}

// NewStreamlinkRecorder returns a recorder using the streamlink binary on
// PATH.
func NewStreamlinkRecorder() *StreamlinkRecorder {
	return &StreamlinkRecorder{Binary: "streamlink"}
}

// Start launches streamlink writing the best quality variant to outputPath.
func (r *StreamlinkRecorder) Start(ctx context.Context, channel, outputPath string) (Recording, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, types.Transient(fmt.Errorf("create recording dir: %w", err))
	}
	cmd := exec.CommandContext(ctx, r.Binary,
		fmt.Sprintf("https://www.twitch.tv/%s", channel),
		"best",
		"-o", outputPath,
		"--retry-streams", "5",
		"--retry-max", "10",
	)
	if err := cmd.Start(); err != nil {
		return nil, types.Transient(fmt.Errorf("start streamlink: %w", err))
	}
	log.Printf("🔴 Started recording %s to %s", channel, outputPath)
	return &streamlinkRecording{cmd: cmd, path: outputPath}, nil
}

type streamlinkRecording struct {
	cmd  *exec.Cmd
	path string
}

func (rec *streamlinkRecording) Path() string { return rec.path }

func (rec *streamlinkRecording) Stop() (int64, error) {
	if rec.cmd.Process != nil {
		_ = rec.cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() {
			rec.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = rec.cmd.Process.Kill()
			<-done
		}
	}

	info, err := os.Stat(rec.path)
	if err != nil {
		return 0, types.Transient(fmt.Errorf("stat recording: %w", err))
	}
	if info.Size() < minRecordingBytes {
		os.Remove(rec.path)
		log.Printf("⚠️ Recording %s was too small (%d bytes), removed", filepath.Base(rec.path), info.Size())
		return 0, nil
	}
	return info.Size(), nil
}

var _ Recorder = (*StreamlinkRecorder)(nil)
