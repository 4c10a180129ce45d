package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter returns an engine with panic recovery, request logging and a
// health endpoint.
func NewRouter(log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Logger(log))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Logger logs every request at debug level and failed ones at warn.
func Logger(log *slog.Logger) gin.HandlerFunc {
	log = log.With(slog.String("component", "http"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.Group(
				"req",
				slog.String("method", c.Request.Method),
				slog.String("path", c.FullPath()),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
			),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("request failed", attrs...)
			return
		}
		log.Debug("request", attrs...)
	}
}
