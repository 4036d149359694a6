package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
	"github.com/xaenox/midas/internal/classifier"
	"github.com/xaenox/midas/internal/models"
)

type LogsHandler struct {
	Pipeline *classifier.Pipeline
	Agent    agent.Agent
	Now      func() time.Time
	Logger   *zap.Logger
}

func (h *LogsHandler) Register(r *gin.Engine) {
	r.GET("/api/logs", h.list)
	r.DELETE("/api/logs", h.clear)
	r.GET("/api/docker-logs", h.containerLogs)
}

func (h *LogsHandler) list(c *gin.Context) {
	topic := models.LogTopic(c.Query("type"))
	if topic == "all" {
		topic = ""
	}
	limit := intQuery(c, "limit", classifier.DefaultLimit)

	logs, err := h.Pipeline.Recent(c.Request.Context(), limit, topic)
	if err != nil {
		h.Logger.Warn("logs fetch failed", zap.Error(err))
		writeFallback(c, gin.H{"logs": []models.LogEntry{}, "error": "Failed to fetch logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// clear restarts the agent, which empties its stdout.
func (h *LogsHandler) clear(c *gin.Context) {
	if err := h.Agent.Restart(c.Request.Context()); err != nil {
		h.Logger.Error("agent restart failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to clear logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logs cleared"})
}

func (h *LogsHandler) containerLogs(c *gin.Context) {
	container := c.DefaultQuery("container", "tradingbot")
	lines := intQuery(c, "lines", 30)
	if lines <= 0 || lines > classifier.MaxLimit {
		lines = 30
	}
	now := h.Now().UTC().Format(time.RFC3339)

	res, err := h.Agent.ContainerLogs(c.Request.Context(), container, lines)
	if errors.Is(err, agent.ErrUnknownContainer) {
		writeError(c, http.StatusBadRequest, "Invalid container")
		return
	}
	if err != nil {
		h.Logger.Warn("container logs failed", zap.Error(err), zap.String("container", container))
		writeFallback(c, gin.H{
			"container": container,
			"status":    "error",
			"logs":      "Failed to fetch logs",
			"timestamp": now,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"container": res.Container,
		"status":    res.Status,
		"logs":      res.Logs,
		"timestamp": now,
	})
}
