package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/offline"
)

const maxProxyBody = 1 << 20

type OfflineHandler struct {
	Worker *offline.Worker
	// Proxy serves every non-API route through the worker when set.
	Proxy  bool
	Logger *zap.Logger
}

func (h *OfflineHandler) Register(r *gin.Engine) {
	r.POST("/api/push", h.push)
	r.POST("/api/sync/:tag", h.sync)
	r.GET("/api/offline", h.state)
	if h.Proxy {
		r.NoRoute(h.proxy)
	}
}

func (h *OfflineHandler) state(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cache": h.Worker.CacheName(), "state": h.Worker.State().String()})
}

func (h *OfflineHandler) push(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid push payload")
		return
	}
	n, err := h.Worker.Push(c.Request.Context(), payload)
	if errors.Is(err, offline.ErrBadPushPayload) {
		writeError(c, http.StatusBadRequest, "Invalid push payload")
		return
	}
	if err != nil {
		h.Logger.Warn("push delivery failed", zap.Error(err))
		writeError(c, http.StatusBadGateway, "Notification delivery failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notification": n})
}

func (h *OfflineHandler) sync(c *gin.Context) {
	tag := c.Param("tag")
	err := h.Worker.Sync(c.Request.Context(), tag)
	if errors.Is(err, offline.ErrUnknownSyncTag) {
		writeError(c, http.StatusNotFound, "Unknown sync tag")
		return
	}
	if err != nil {
		h.Logger.Error("sync failed", zap.Error(err), zap.String("tag", tag))
		writeError(c, http.StatusInternalServerError, "Sync failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tag": tag})
}

// proxy forwards unmatched routes to the UI upstream through the worker.
func (h *OfflineHandler) proxy(c *gin.Context) {
	if isAPIPath(c.Request.URL.Path) {
		writeError(c, http.StatusNotFound, "Not found")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	req := &offline.Request{
		Method: c.Request.Method,
		URL:    c.Request.URL.RequestURI(),
		Header: c.Request.Header.Clone(),
		Body:   body,
	}
	resp, err := h.Worker.Fetch(c.Request.Context(), req)
	if err != nil {
		h.Logger.Warn("offline fetch failed", zap.Error(err), zap.String("url", req.URL))
		writeError(c, http.StatusServiceUnavailable, "Offline and not cached")
		return
	}
	for k, vs := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.Status)
	c.Writer.Write(resp.Body)
}
