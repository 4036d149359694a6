package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/settings"
)

type SettingsHandler struct {
	Store  *settings.Store
	Logger *zap.Logger
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	r.GET("/api/settings", h.get)
	r.POST("/api/settings", h.update)
}

func (h *SettingsHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Load().Masked())
}

func (h *SettingsHandler) update(c *gin.Context) {
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid settings payload")
		return
	}
	if _, err := h.Store.Apply(c.Request.Context(), u); err != nil {
		if errors.Is(err, settings.ErrInvalidTelegram) {
			writeError(c, http.StatusBadRequest, "Invalid Telegram bot token or chat ID")
			return
		}
		h.Logger.Error("settings save failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Settings saved"})
}
