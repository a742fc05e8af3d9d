package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"triple-impacto/internal/utils"
)

var reqID atomic.Uint64

func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strconv.FormatUint(reqID.Add(1), 10)
		c.Header("X-Request-Id", requestID)

		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"bytes":      c.Writer.Size(),
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		}).Info("request")
	}
}

// AllowIPs rejects requests whose client IP is outside allowed. An empty
// list allows everyone.
func AllowIPs(allowed []*net.IPNet, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if !utils.IsAllowedIP(ip, allowed) {
			logger.WithField("client_ip", ip).Warn("request from address outside allow-list")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "forbidden", "kind": "forbidden"})
			return
		}
		c.Next()
	}
}
