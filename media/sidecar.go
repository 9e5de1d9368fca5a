package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/KenB-Good/ClipMaster/types"
)

// Sidecar artifacts live next to the video file they describe: the timed
// transcript and, for captured streams, the chat log. Downstream tasks read
// them instead of re-deriving the signals.

// TranscriptSidecarPath returns the transcript sidecar for a video file.
func TranscriptSidecarPath(videoPath string) string {
	return videoPath + ".transcript.json"
}

// ChatSidecarPath returns the chat-log sidecar for a video file.
func ChatSidecarPath(videoPath string) string {
	return videoPath + ".chat.json"
}

// WriteTranscript persists a transcript sidecar.
func WriteTranscript(path string, t *types.Transcript) error {
	return writeJSON(path, t)
}

// ReadTranscript loads a transcript sidecar. A missing file returns
// (nil, nil): the video simply has no timed transcript.
func ReadTranscript(path string) (*types.Transcript, error) {
	var t types.Transcript
	ok, err := readJSON(path, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// WriteChatLog persists the captured chat log.
func WriteChatLog(path string, messages []types.ChatMessage) error {
	return writeJSON(path, messages)
}

// ReadChatLog loads a chat-log sidecar. A missing file returns (nil, nil).
func ReadChatLog(path string) ([]types.ChatMessage, error) {
	var messages []types.ChatMessage
	ok, err := readJSON(path, &messages)
	if err != nil || !ok {
		return nil, err
	}
	return messages, nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode sidecar %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, types.Unrecoverable(fmt.Errorf("parse sidecar %s: %w", path, err))
	}
	return true, nil
}
