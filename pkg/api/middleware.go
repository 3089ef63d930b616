package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody bounds how much of a response body is kept for the log line.
const maxLoggedBody = 1 << 10

// responseWriterInterceptor captures the status code and the head of the response body.
type responseWriterInterceptor struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriterInterceptor(w http.ResponseWriter) *responseWriterInterceptor {
	return &responseWriterInterceptor{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default to 200
		body:           new(bytes.Buffer),
	}
}

// WriteHeader captures the status code.
func (rwi *responseWriterInterceptor) WriteHeader(statusCode int) {
	rwi.statusCode = statusCode
	rwi.ResponseWriter.WriteHeader(statusCode)
}

// Write keeps up to maxLoggedBody bytes and calls the underlying Write.
func (rwi *responseWriterInterceptor) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rwi.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rwi.body.Write(b[:room])
	}
	return rwi.ResponseWriter.Write(b)
}

// StructuredRequestLogger logs one line per API request. The matched route
// pattern and test case ID are attached when routing resolved them, and
// error response bodies are included.
func StructuredRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			rwi := newResponseWriterInterceptor(ww)

			t1 := time.Now()
			defer func() {
				scheme := "http"
				if r.TLS != nil {
					scheme = "https"
				}

				attrs := []any{
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("host", r.Host),
					slog.String("path", r.URL.Path),
					slog.String("proto", r.Proto),
					slog.String("scheme", scheme),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("user_agent", r.UserAgent()),
					slog.Int("status", rwi.statusCode),
					slog.Int("bytes_written", ww.BytesWritten()),
					slog.Duration("latency", time.Since(t1)),
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						attrs = append(attrs, slog.String("route", pattern))
					}
					if id := rctx.URLParam("id"); id != "" {
						attrs = append(attrs, slog.String("test_case_id", id))
					}
				}
				if rwi.statusCode >= http.StatusBadRequest {
					attrs = append(attrs, slog.String("response_body", rwi.body.String()))
				}
				logger.Info("API request", attrs...)
			}()

			next.ServeHTTP(rwi, r)
		})
	}
}
