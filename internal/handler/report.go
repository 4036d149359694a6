package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
)

var errInvalidReport = errors.New("report generator returned invalid JSON")

type ReportHandler struct {
	Agent   agent.Agent
	Timeout time.Duration
	Logger  *zap.Logger
}

func (h *ReportHandler) Register(r *gin.Engine) {
	r.GET("/api/report", h.latest)
	r.POST("/api/report", h.generate)
}

func (h *ReportHandler) latest(c *gin.Context) {
	out, err := h.Agent.LatestReport(c.Request.Context())
	out = strings.TrimSpace(out)
	if out == "" {
		out = "{}"
	}
	if err != nil || !json.Valid([]byte(out)) {
		writeFallback(c, gin.H{"error": "No report available"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
}

func (h *ReportHandler) generate(c *gin.Context) {
	h.Logger.Info("generating report")
	out, err := h.Agent.RunScript(c.Request.Context(), agent.ScriptReportGenerator, nil, h.Timeout)
	out = strings.TrimSpace(out)
	if err == nil && !json.Valid([]byte(out)) {
		err = errInvalidReport
	}
	if err != nil {
		h.Logger.Error("report generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
}
