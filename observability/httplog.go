package observability

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/margin/dbopen"
	"github.com/hazyhaar/margin/kit"
)

// statusRecorder captures the response status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger returns middleware that records every request into the
// http_request_logs table. Writes are best-effort: a failing observability
// store logs a WARN and the response proceeds untouched.
func RequestLogger(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			durationMs := time.Since(start).Milliseconds()
			_, err := dbopen.Exec(r.Context(), db, `
				INSERT INTO http_request_logs (
					method, path, status_code, duration_ms, trace_id, ip_address, user_agent, created_at
				) VALUES (?,?,?,?,?,?,?,?)`,
				r.Method, r.URL.Path, rec.status, durationMs,
				kit.GetTraceID(r.Context()), r.RemoteAddr, r.UserAgent(), time.Now().Unix())
			if err != nil {
				slog.Warn("http request log failed", "error", err, "path", r.URL.Path)
			}
		})
	}
}
