// Package middleware holds the relay's HTTP middleware: a request
// logger that redacts sensitive query parameters before they reach
// slog, grounded on the reference server's SanitizedLogger.
package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SensitiveQueryParams are query parameters redacted before logging.
var SensitiveQueryParams = []string{"token", "password", "api_key", "secret", "apiKey"}

// SanitizedLogger logs one structured line per request via slog,
// redacting sensitive query parameters first.
func SanitizedLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			slog.Info("http request",
				"reqId", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", redactSensitiveParams(r.URL),
				"remoteAddr", r.RemoteAddr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func redactSensitiveParams(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}

	query := u.Query()
	redacted := false
	for _, param := range SensitiveQueryParams {
		if query.Has(param) {
			query.Set(param, "[REDACTED]")
			redacted = true
		}
	}
	if !redacted {
		return u.RequestURI()
	}
	return u.Path + "?" + query.Encode()
}
