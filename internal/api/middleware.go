package api

import (
	"log/slog"
	"time"

	"vexchange/internal/infra"

	"github.com/gin-gonic/gin"
)

// AccessLog logs one line per request through slog.
func AccessLog(logger *slog.Logger, metrics *infra.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.Last().Error()))
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case status >= 400:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Debug("HTTP request", attrs...)
		}
	}
}

// Recovery turns a handler panic into a 500 and logs it.
func Recovery(logger *slog.Logger, metrics *infra.Metrics) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		metrics.RecordError()
		logger.Error("💥 Handler panic",
			slog.String("path", c.FullPath()),
			slog.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(500, ErrorResp{Error: "internal error", Kind: "internal"})
	})
}
