package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/UniQw/taskstream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Broker is the part of *taskstream.Broker the handlers use.
type Broker interface {
	Publish(ctx context.Context, stream string, message any, opts ...taskstream.PublishOption) (string, error)
	Status(ctx context.Context, id string) (*taskstream.StatusRecord, error)
}

type Handler struct {
	broker  Broker
	rdb     redis.UniversalClient
	streams map[string]int64
}

// New builds the handlers. streams maps every stream that accepts tasks over
// HTTP to its maxlen (0 for untrimmed).
func New(b Broker, rdb redis.UniversalClient, streams map[string]int64) *Handler {
	return &Handler{broker: b, rdb: rdb, streams: streams}
}

// Register mounts the routes on r.
func Register(r gin.IRouter, h *Handler) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	api := r.Group("/api/v1")
	{
		api.POST("/streams/:stream/tasks", h.PublishTask)
		api.GET("/tasks/:id", h.GetTaskStatus)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ready": false, "error": "redis ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "timestamp": time.Now().UTC()})
}

// PublishTaskRequest is the body of POST /api/v1/streams/:stream/tasks.
type PublishTaskRequest struct {
	TaskName      string            `json:"task_name" binding:"required"`
	Payload       map[string]any    `json:"payload"`
	Headers       map[string]string `json:"headers"`
	CorrelationID string            `json:"correlation_id"`
}

// POST /api/v1/streams/:stream/tasks
func (h *Handler) PublishTask(c *gin.Context) {
	stream := c.Param("stream")
	maxLen, ok := h.streams[stream]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream", "stream": stream})
		return
	}
	var req PublishTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	opts := []taskstream.PublishOption{taskstream.WithHeaders(req.Headers)}
	if req.CorrelationID != "" {
		opts = append(opts, taskstream.WithCorrelationID(req.CorrelationID))
	}
	if maxLen > 0 {
		opts = append(opts, taskstream.WithMaxLen(maxLen))
	}
	id, err := h.broker.Publish(c.Request.Context(), stream, gin.H{"task_name": req.TaskName, "payload": req.Payload}, opts...)
	if err != nil && id == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "publish failed", "detail": err.Error()})
		return
	}
	resp := gin.H{"id": id, "stream": stream}
	if err != nil {
		// published, but the PENDING record could not be written
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusAccepted, resp)
}

// GET /api/v1/tasks/:id
func (h *Handler) GetTaskStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	rec, err := h.broker.Status(c.Request.Context(), id)
	if errors.Is(err, taskstream.ErrStatusNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "id": id})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read status failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "task": rec})
}
