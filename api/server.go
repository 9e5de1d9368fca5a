// Package api exposes the control plane over HTTP: task submission and
// inspection, video/highlight/clip browsing, and live capture sessions.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KenB-Good/ClipMaster/capture"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/types"
)

// Server carries the handler dependencies.
type Server struct {
	orch    *orchestrator.Orchestrator
	meta    store.MetadataStore
	capture *capture.Manager
}

// NewServer wires the control plane.
func NewServer(orch *orchestrator.Orchestrator, meta store.MetadataStore, capture *capture.Manager) *Server {
	return &Server{orch: orch, meta: meta, capture: capture}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/tasks", s.listTasks)
		api.POST("/tasks", s.createTask)
		api.GET("/tasks/:id", s.getTask)
		api.POST("/tasks/:id/cancel", s.cancelTask)

		api.GET("/videos", s.listVideos)
		api.GET("/videos/:id", s.getVideo)
		api.GET("/videos/:id/tasks", s.videoTasks)
		api.GET("/videos/:id/highlights", s.videoHighlights)
		api.GET("/videos/:id/clips", s.videoClips)

		api.POST("/capture", s.startCapture)
		api.GET("/capture", s.listCaptures)
		api.GET("/capture/:channel", s.captureStatus)
	}
	return router
}

// fail maps the error taxonomy onto HTTP statuses.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case err == store.ErrNotFound:
		status = http.StatusNotFound
	case types.KindOf(err) == types.KindInvalidInput:
		status = http.StatusBadRequest
	case types.KindOf(err) == types.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// --- tasks ---

func (s *Server) listTasks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	tasks, err := s.orch.ListTasks(c.Request.Context(),
		types.TaskStatus(c.Query("status")), types.TaskType(c.Query("type")), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type createTaskRequest struct {
	VideoID      string          `json:"video_id"`
	Type         types.TaskType  `json:"type" binding:"required"`
	Config       json.RawMessage `json:"config"`
	CustomPrompt string          `json:"custom_prompt"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Type {
	case types.TaskTranscription, types.TaskHighlightDetection,
		types.TaskClipGeneration, types.TaskSubtitleGeneration,
		types.TaskStreamCapture:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task type " + string(req.Type)})
		return
	}
	if req.VideoID != "" {
		if _, err := s.meta.GetVideo(c.Request.Context(), req.VideoID); err != nil {
			fail(c, err)
			return
		}
	}

	var cfg any
	if len(req.Config) > 0 {
		cfg = req.Config
	}
	task, err := s.orch.Enqueue(c.Request.Context(), req.VideoID, req.Type, cfg, req.CustomPrompt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.orch.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	task, err := s.orch.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// --- videos ---

func (s *Server) listVideos(c *gin.Context) {
	videos, err := s.meta.ListVideos(c.Request.Context(), types.VideoStatus(c.Query("status")), 100)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

func (s *Server) getVideo(c *gin.Context) {
	video, err := s.meta.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

func (s *Server) videoTasks(c *gin.Context) {
	tasks, err := s.orch.VideoTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) videoHighlights(c *gin.Context) {
	highlights, err := s.meta.ListHighlights(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"highlights": highlights})
}

func (s *Server) videoClips(c *gin.Context) {
	clips, err := s.meta.ListClips(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clips": clips})
}

// --- capture ---

type startCaptureRequest struct {
	Channel        string `json:"channel" binding:"required"`
	AutoClip       bool   `json:"auto_clip"`
	ChatMonitoring bool   `json:"chat_monitoring"`
	CustomPrompt   string `json:"custom_prompt"`
}

func (s *Server) startCapture(c *gin.Context) {
	var req startCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := s.orch.Enqueue(c.Request.Context(), "", types.TaskStreamCapture, types.StreamCaptureConfig{
		Channel:        req.Channel,
		AutoClip:       req.AutoClip,
		ChatMonitoring: req.ChatMonitoring,
	}, req.CustomPrompt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) listCaptures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.capture.List()})
}

func (s *Server) captureStatus(c *gin.Context) {
	stats, ok := s.capture.Status(c.Param("channel"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for " + c.Param("channel")})
		return
	}
	c.JSON(http.StatusOK, stats)
}
