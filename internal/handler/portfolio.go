package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/backend"
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/symbol"
)

// Backend is the subset of the backend client the portfolio pages use.
type Backend interface {
	Portfolio(ctx context.Context) (models.Portfolio, error)
	Trades(ctx context.Context) (json.RawMessage, error)
	TradeHistory(ctx context.Context) (json.RawMessage, error)
	PortfolioHistory(ctx context.Context, period string) (json.RawMessage, error)
	PositionHistory(ctx context.Context, symbol string) (json.RawMessage, error)
	Export(ctx context.Context, kind string) ([]byte, error)
}

type PortfolioHandler struct {
	Backend Backend
	Now     func() time.Time
	Logger  *zap.Logger
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	r.GET("/api/portfolio", h.portfolio)
	r.GET("/api/portfolio/history", h.portfolioHistory)
	r.GET("/api/trades", h.trades)
	r.GET("/api/trades/history", h.tradeHistory)
	r.GET("/api/position/history", h.positionHistory)
	r.GET("/api/export", h.export)
}

func (h *PortfolioHandler) portfolio(c *gin.Context) {
	p, err := h.Backend.Portfolio(c.Request.Context())
	if err != nil {
		h.Logger.Warn("portfolio fetch failed", zap.Error(err))
		writeFallback(c, backend.FallbackPortfolio())
		return
	}
	c.JSON(http.StatusOK, p)
}

func rawJSON(c *gin.Context, doc json.RawMessage) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

func (h *PortfolioHandler) trades(c *gin.Context) {
	doc, err := h.Backend.Trades(c.Request.Context())
	if err != nil {
		h.Logger.Warn("trades fetch failed", zap.Error(err))
		writeFallback(c, gin.H{"trades": backend.MockTrades(h.Now())})
		return
	}
	rawJSON(c, doc)
}

func (h *PortfolioHandler) tradeHistory(c *gin.Context) {
	doc, err := h.Backend.TradeHistory(c.Request.Context())
	if err != nil {
		h.Logger.Warn("trade history fetch failed", zap.Error(err))
		writeFallback(c, gin.H{"trades": []models.Trade{}})
		return
	}
	rawJSON(c, doc)
}

func (h *PortfolioHandler) portfolioHistory(c *gin.Context) {
	period := c.DefaultQuery("period", "24h")
	doc, err := h.Backend.PortfolioHistory(c.Request.Context(), period)
	if err != nil {
		h.Logger.Warn("portfolio history fetch failed", zap.Error(err))
		writeFallback(c, gin.H{"history": backend.MockPortfolioHistory(period, h.Now()), "period": period})
		return
	}
	rawJSON(c, doc)
}

func (h *PortfolioHandler) positionHistory(c *gin.Context) {
	sym, ok := symbol.Sanitize(c.Query("symbol"))
	if !ok {
		writeError(c, http.StatusBadRequest, "Invalid symbol")
		return
	}
	doc, err := h.Backend.PositionHistory(c.Request.Context(), sym)
	if err != nil {
		h.Logger.Warn("position history fetch failed", zap.Error(err), zap.String("symbol", sym))
		writeFallback(c, gin.H{"history": []any{}, "message": "History not available"})
		return
	}
	rawJSON(c, doc)
}

func (h *PortfolioHandler) export(c *gin.Context) {
	kind := c.DefaultQuery("type", backend.ExportTrades)
	if kind != backend.ExportTrades {
		kind = backend.ExportAnalysis
	}
	data, err := h.Backend.Export(c.Request.Context(), kind)
	if err != nil {
		h.Logger.Error("export failed", zap.Error(err), zap.String("type", kind))
		writeError(c, http.StatusInternalServerError, "Failed to export data")
		return
	}
	name := fmt.Sprintf("%s-export-%s.csv", kind, h.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "text/csv", data)
}
