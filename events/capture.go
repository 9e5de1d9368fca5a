package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/KenB-Good/ClipMaster/types"
)

// CaptureHandler turns capture requests from the bus into STREAM_CAPTURE
// tasks. A request for a channel that is already being captured still
// enqueues; the capture manager rejects the duplicate session when the task
// runs.
type CaptureHandler struct {
	enq Enqueuer
}

// NewCaptureHandler wires the handler to a task submitter.
func NewCaptureHandler(enq Enqueuer) *CaptureHandler {
	return &CaptureHandler{enq: enq}
}

// NewCaptureConsumer joins the capture-request topic with a CaptureHandler.
func NewCaptureConsumer(brokers []string, topic, groupID string, enq Enqueuer) (*Consumer, error) {
	return NewConsumer(brokers, topic, groupID, NewCaptureHandler(enq))
}

// Handle decodes and submits one request. Malformed or channel-less requests
// are marked so they are never redelivered; a failed submission is left
// unmarked for retry.
func (h *CaptureHandler) Handle(ctx context.Context, message []byte) (bool, error) {
	var req CaptureRequest
	if err := json.Unmarshal(message, &req); err != nil {
		log.Printf("⚠️ Dropping malformed capture request: %v", err)
		return true, nil
	}
	if req.Channel == "" {
		log.Printf("⚠️ Dropping capture request without a channel")
		return true, nil
	}

	cfg := types.StreamCaptureConfig{
		Channel:        req.Channel,
		AutoClip:       req.AutoClip,
		ChatMonitoring: req.ChatMonitoring,
	}
	task, err := h.enq.Enqueue(ctx, "", types.TaskStreamCapture, cfg, req.CustomPrompt)
	if err != nil {
		return false, err
	}
	log.Printf("📡 Capture request for %s queued as task %s", req.Channel, task.ID)
	return true, nil
}

var _ Handler = (*CaptureHandler)(nil)
