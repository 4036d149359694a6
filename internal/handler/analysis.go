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
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/ratelimit"
	"github.com/xaenox/midas/internal/storage"
	"github.com/xaenox/midas/internal/symbol"
)

const (
	recentAnalyses       = 20
	invalidSymbolMessage = "Invalid symbol format. Must be 1-10 alphanumeric characters."
)

type AnalysisHandler struct {
	Runtime agent.Runtime
	History storage.HistoryStore
	Limiter *ratelimit.Limiter
	Timeout time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

func (h *AnalysisHandler) Register(r *gin.Engine) {
	r.GET("/api/analysis", RateLimit(h.Limiter), h.get)
	r.POST("/api/analysis", RateLimit(h.Limiter), h.create)
	r.DELETE("/api/analysis", h.remove)
}

func (h *AnalysisHandler) get(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("history") == "true" {
		c.JSON(http.StatusOK, gin.H{"analyses": h.History.Load(ctx)})
		return
	}
	raw := c.Query("symbol")
	if raw == "" {
		entries := h.History.Load(ctx)
		if len(entries) > recentAnalyses {
			entries = entries[:recentAnalyses]
		}
		c.JSON(http.StatusOK, gin.H{"analyses": entries})
		return
	}
	sym, ok := symbol.Sanitize(raw)
	if !ok {
		writeError(c, http.StatusBadRequest, invalidSymbolMessage)
		return
	}
	a, ok := h.analyze(c, sym)
	if !ok {
		writeFallback(c, a)
		return
	}
	c.JSON(http.StatusOK, a)
}

type analyzeRequest struct {
	Symbol string `json:"symbol"`
}

func (h *AnalysisHandler) create(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, invalidSymbolMessage)
		return
	}
	sym, ok := symbol.Sanitize(req.Symbol)
	if !ok {
		writeError(c, http.StatusBadRequest, invalidSymbolMessage)
		return
	}
	a, ok := h.analyze(c, sym)
	if !ok {
		writeFallback(c, a)
		return
	}
	entry, err := h.History.Append(c.Request.Context(), a)
	if err != nil {
		h.Logger.Error("history append failed", zap.Error(err), zap.String("symbol", sym))
		writeError(c, http.StatusInternalServerError, "Analysis failed")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// analyze runs the analysis script. On any failure it returns the fallback
// analysis and false.
func (h *AnalysisHandler) analyze(c *gin.Context, sym string) (models.Analysis, bool) {
	out, err := h.Runtime.RunScript(c.Request.Context(), agent.ScriptDetailedAnalyze, []string{sym}, h.Timeout)
	if err == nil {
		var a models.Analysis
		if err = json.Unmarshal([]byte(strings.TrimSpace(out)), &a); err == nil {
			if a.Symbol == "" {
				a.Symbol = sym
				delete(a.Extra, "symbol")
			}
			h.Logger.Info("analysis complete", zap.String("symbol", sym), zap.Float64("score", a.FinalScore))
			return a, true
		}
	}
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	h.Logger.Warn("analysis failed", zap.String("symbol", sym), zap.String("error", msg))
	return models.FallbackAnalysis(sym, h.Now()), false
}

func (h *AnalysisHandler) remove(c *gin.Context) {
	ctx := c.Request.Context()
	var err error
	if id := c.Query("id"); id != "" {
		err = h.History.RemoveByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	} else {
		err = h.History.Clear(ctx)
	}
	if err != nil {
		h.Logger.Error("history delete failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to delete history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
