package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aionpay/relayer/core/logger"
)

// ginLogger routes gin's request log lines through the structured logger
// instead of gin's default stdout writer, mirroring how chainlink's web
// layer wires its own request logging through core/logger.
func ginLogger(lggr logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		lggr.Infow("handled request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"clientIP", c.ClientIP(),
		)
	}
}
