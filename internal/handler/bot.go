package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/ratelimit"
)

const agentVersion = "4.0.0"

type BotHandler struct {
	Agent   agent.Agent
	Limiter *ratelimit.Limiter
	Now     func() time.Time
	Logger  *zap.Logger
}

func (h *BotHandler) Register(r *gin.Engine) {
	limited := r.Group("/api/bot", RateLimit(h.Limiter))
	limited.GET("", h.status)
	limited.POST("", h.control)
}

func (h *BotHandler) status(c *gin.Context) {
	ctx := c.Request.Context()
	insp, err := h.Agent.Inspect(ctx)
	if err != nil {
		h.Logger.Warn("agent inspect failed", zap.Error(err))
		writeFallback(c, models.BotStatus{Capital: agent.DefaultCapital})
		return
	}

	now := h.Now()
	st := models.BotStatus{
		Running:      insp.Running,
		LastActivity: &now,
		Capital:      agent.DefaultCapital,
		Version:      agentVersion,
	}
	if insp.Running {
		st.Uptime = int64(insp.Uptime(now) / time.Second)
		if state, err := h.Agent.GetState(ctx); err == nil {
			st.Capital = state.Capital()
			st.OpenPositions = len(state.OpenPositions)
		}
	}
	c.JSON(http.StatusOK, st)
}

type controlRequest struct {
	Action string `json:"action"`
}

type botAction struct {
	run     func(h *BotHandler, ctx context.Context) error
	message string
}

var botActions = map[string]botAction{
	"start":    {func(h *BotHandler, ctx context.Context) error { return h.Agent.Start(ctx) }, "Container started"},
	"stop":     {func(h *BotHandler, ctx context.Context) error { return h.Agent.Stop(ctx) }, "Container stopped"},
	"restart":  {func(h *BotHandler, ctx context.Context) error { return h.Agent.Restart(ctx) }, "Container restarted"},
	"scan":     {func(h *BotHandler, ctx context.Context) error { return h.Agent.RunDetached(ctx, agent.JobScan) }, "Full scan started"},
	"feedback": {func(h *BotHandler, ctx context.Context) error { return h.Agent.RunDetached(ctx, agent.JobFeedback) }, "Feedback loop started"},
}

func (h *BotHandler) control(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid action")
		return
	}
	action, ok := botActions[req.Action]
	if !ok {
		writeError(c, http.StatusBadRequest, "Invalid action")
		return
	}
	if err := action.run(h, c.Request.Context()); err != nil {
		h.Logger.Error("bot control failed", zap.Error(err), zap.String("action", req.Action))
		writeError(c, http.StatusInternalServerError, "Failed to control bot")
		return
	}
	h.Logger.Info("bot control", zap.String("action", req.Action))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": action.message})
}
