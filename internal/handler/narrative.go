package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/narrative"
	"github.com/xaenox/midas/internal/ratelimit"
	"github.com/xaenox/midas/internal/symbol"
)

type NarrativeHandler struct {
	Generator narrative.Generator
	Limiter   *ratelimit.Limiter
	Logger    *zap.Logger
}

func (h *NarrativeHandler) Register(r *gin.Engine) {
	r.GET("/api/narrative", RateLimit(h.Limiter), h.get)
}

func (h *NarrativeHandler) get(c *gin.Context) {
	raw := c.Query("symbol")
	if raw == "" {
		writeError(c, http.StatusBadRequest, "Symbol required")
		return
	}
	sym, ok := symbol.Sanitize(raw)
	if !ok {
		writeError(c, http.StatusBadRequest, invalidSymbolMessage)
		return
	}
	doc, err := h.Generator.Generate(c.Request.Context(), sym)
	if err != nil {
		h.Logger.Error("narrative generation failed", zap.Error(err), zap.String("symbol", sym))
		writeError(c, http.StatusInternalServerError, "Failed to generate narrative")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}
