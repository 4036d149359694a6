package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/prepare"
)

type PrepareHandler struct {
	Runner *prepare.Runner
	Logger *zap.Logger
}

func (h *PrepareHandler) Register(r *gin.Engine) {
	r.GET("/api/prepare", h.status)
	r.POST("/api/prepare", h.start)
}

func (h *PrepareHandler) status(c *gin.Context) {
	doc := h.Runner.Results()
	if c.Query("type") == "progress" {
		doc = h.Runner.Progress()
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

func (h *PrepareHandler) start(c *gin.Context) {
	var opts prepare.Options
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "Invalid preparation options")
		return
	}
	st, err := h.Runner.Start(c.Request.Context(), opts)
	if err != nil {
		h.Logger.Error("prepare start failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Preparation started",
		"runId":   st.RunID,
		"config":  st.Config,
	})
}
