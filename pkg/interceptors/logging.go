package interceptors

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type loggingConfig struct {
	ignorePath []string

	defaultLevel     slog.Level
	clientErrorLevel slog.Level
	serverErrorLevel slog.Level
}

type LoggerOption func(*loggingConfig)

// WithIgnorePath skips logging for the given exact paths.
func WithIgnorePath(paths ...string) LoggerOption {
	return func(c *loggingConfig) {
		c.ignorePath = paths
	}
}

// NewLogging logs one line per request; 4xx at warn and 5xx at error.
func NewLogging(logger *slog.Logger, options ...LoggerOption) func(http.Handler) http.Handler {
	l := &loggingConfig{
		defaultLevel:     slog.LevelInfo,
		clientErrorLevel: slog.LevelWarn,
		serverErrorLevel: slog.LevelError,
	}
	for _, option := range options {
		option(l)
	}

	ignore := make(map[string]struct{}, len(l.ignorePath))
	for _, path := range l.ignorePath {
		ignore[path] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ignore[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			latency := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := l.defaultLevel
			if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
				level = l.clientErrorLevel
			}
			if status >= http.StatusInternalServerError {
				level = l.serverErrorLevel
			}

			attributes := []slog.Attr{
				slog.Int("status", status),
				slog.Int64("latency", latency.Milliseconds()),
				slog.String("client_ip", r.RemoteAddr),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("data_length", ww.BytesWritten()),
				slog.String("user_agent", r.UserAgent()),
			}
			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				attributes = append(attributes, slog.String("request_id", reqID))
			}
			if userID, ok := GetUserIDFromContext(r.Context()); ok {
				attributes = append(attributes, slog.String("user_id", userID.String()))
			}

			logger.LogAttrs(r.Context(), level, fmt.Sprintf("%s %s", r.Method, r.URL.Path), attributes...)
		})
	}
}
