package pipeline

import (
	"context"
	"fmt"

	"github.com/KenB-Good/ClipMaster/capture"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/types"
)

// StreamCapture runs one live capture session inside a worker slot, so
// concurrent captures are bounded the same way as any other CPU task.
type StreamCapture struct {
	manager *capture.Manager
}

// NewStreamCapture wires the handler.
func NewStreamCapture(manager *capture.Manager) *StreamCapture {
	return &StreamCapture{manager: manager}
}

func (h *StreamCapture) Type() types.TaskType { return types.TaskStreamCapture }

func (h *StreamCapture) Run(ctx context.Context, task *types.ProcessingTask, report orchestrator.ProgressFunc) (any, error) {
	cfg, err := types.DecodeConfig[types.StreamCaptureConfig](task)
	if err != nil {
		return nil, err
	}
	if cfg.Channel == "" {
		return nil, types.Invalid(fmt.Errorf("stream capture requires a channel"))
	}

	report(5)
	result, err := h.manager.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// The channel never went live; the task still completes.
		return nil, nil
	}
	return result, nil
}

var _ orchestrator.Handler = (*StreamCapture)(nil)
