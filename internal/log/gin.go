package log

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// GinLogger logs one line per HTTP request under the GIN group.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		var code string
		switch {
		case statusCode >= 500:
			code = Red("%d", statusCode)
		case statusCode >= 400:
			code = Yellow("%d", statusCode)
		case statusCode >= 300:
			code = Cyan("%d", statusCode)
		default:
			code = Green("%d", statusCode)
		}

		msg := fmt.Sprintf("%s %s %s", code, c.Request.Method, path)
		if query != "" {
			msg += "?" + query
		}
		msg += fmt.Sprintf(" | %s | %s", c.ClientIP(), latency)
		if len(c.Errors) > 0 {
			msg += " | " + c.Errors.String()
		}

		level := slog.LevelDebug
		if statusCode >= 500 {
			level = slog.LevelError
		} else if statusCode >= 400 {
			level = slog.LevelWarn
		}

		handler := slog.Default().Handler()
		if !handler.Enabled(c.Request.Context(), level) {
			return
		}
		r := slog.NewRecord(time.Now(), level, msg, 0)
		r.AddAttrs(slog.String(GroupKey, "GIN"))
		_ = handler.Handle(c.Request.Context(), r)
	}
}

// GinRecovery turns handler panics into a JSON 500 so API callers always get JSON.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				msg := fmt.Sprintf("panic recovered: %v | %s %s (%s)", err, c.Request.Method, c.Request.URL.Path, FileWithLineNum())
				r := slog.NewRecord(time.Now(), slog.LevelError, msg, 0)
				r.AddAttrs(slog.String(GroupKey, "GIN"))
				_ = slog.Default().Handler().Handle(c.Request.Context(), r)
				c.AbortWithStatusJSON(500, gin.H{"error": fmt.Sprint(err)})
			}
		}()
		c.Next()
	}
}

func FileWithLineNum() string {
	pcs := [20]uintptr{}
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for i := 0; i < n; i++ {
		frame, _ := frames.Next()

		if !strings.HasPrefix(frame.Function, "runtime") &&
			!strings.HasPrefix(frame.Function, "github.com/gin-gonic") &&
			!strings.HasPrefix(frame.Function, "log") ||
			strings.HasSuffix(frame.File, "_test.go") {
			return string(strconv.AppendInt(append([]byte(frame.File), ':'), int64(frame.Line), 10))
		}
	}

	return ""
}
