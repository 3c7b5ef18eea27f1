package handler

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
)

// StreamJobs handles GET /api/v1/projects/:project_id/jobs/stream
// Pushes progress events as server-sent events until the client disconnects
func (h *JobHandler) StreamJobs(c *gin.Context) {
	projectID := c.Param("project_id")

	sub := h.progress.Subscribe(projectID)
	defer h.progress.Unsubscribe(sub)

	h.logger.Info("StreamJobs connected", slog.String("project_id", projectID))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.EventType()), ev)
			return true
		}
	})

	h.logger.Info("StreamJobs disconnected", slog.String("project_id", projectID))
}
