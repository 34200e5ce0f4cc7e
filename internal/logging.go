package internal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"rtb-inventory-api/internal/auth"
)

type logFieldsKey struct{}

// logFields is filled in by inner middleware for the request log line
type logFields struct {
	user string
}

// requestLogger logs one line per request with method, route, status,
// duration and user.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := &logFields{}
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(ctx))

			user := fields.user
			if user == "" {
				user = "anonymous"
			}
			level := slog.LevelInfo
			switch {
			case rw.code >= 500:
				level = slog.LevelError
			case rw.code >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.Int("status", rw.code),
				slog.Duration("duration", time.Since(start)),
				slog.String("user", user),
			)
		})
	}
}

// withUser records the authenticated user for requestLogger. It must run
// after auth.AuthMiddleware.
func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f, ok := r.Context().Value(logFieldsKey{}).(*logFields); ok {
			f.user = auth.UserIDFromContext(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}
