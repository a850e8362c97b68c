package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Logging emits one slog line per request after the handler returns,
// carrying the method, path, resolved status code, and elapsed time.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(started)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}

// statusRecorder remembers the first status code written so the log line
// can report it. Handlers that never call WriteHeader log as 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
	done   bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.done {
		s.status = code
		s.done = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.done = true
	return s.ResponseWriter.Write(b)
}

// Hijack exposes the underlying connection so the WebSocket upgrade still
// works with logging in the chain.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer is not hijackable")
	}
	return h.Hijack()
}
