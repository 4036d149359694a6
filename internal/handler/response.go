package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// writeFallback answers 200 with a degraded payload so the UI can still
// render.
func writeFallback(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}
