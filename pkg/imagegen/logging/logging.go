package logging

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

// New builds a logger writing to w. Unknown formats fall back to text.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	return slog.New(lo.Ternary[slog.Handler](
		format == FormatJson,
		slog.NewJSONHandler(w, opts),
		slog.NewTextHandler(w, opts),
	))
}

// Middleware logs every request once it has been served.
func Middleware(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if lo.Contains(skipPaths, path) {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"clientIp", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		slog.Log(c.Request.Context(), LevelForStatus(status), "request served", attrs...)
	}
}

// LevelForStatus logs client errors and load shedding at warn, other server
// errors at error.
func LevelForStatus(status int) slog.Level {
	switch {
	case status == http.StatusServiceUnavailable:
		return slog.LevelWarn
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
