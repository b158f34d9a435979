package middleware

import (
	"log/slog"
	"net/http"

	"github.com/romanbabin/convogate/internal/api/apierrors"
)

// RequestSizeLimiter rejects request bodies over maxBytes before a handler
// ever reads them, so an oversized message or admin payload fails fast
// instead of being buffered in full by a JSON decoder first.
type RequestSizeLimiter struct {
	maxBytes int64
	logger   *slog.Logger
}

// NewRequestSizeLimiter builds a RequestSizeLimiter. logger may be nil.
func NewRequestSizeLimiter(maxBytes int64, logger *slog.Logger) *RequestSizeLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestSizeLimiter{maxBytes: maxBytes, logger: logger}
}

// Middleware rejects requests whose declared Content-Length exceeds
// maxBytes outright, and wraps the body in http.MaxBytesReader so a request
// that lies about its length (or omits it) is still cut off mid-read.
func (l *RequestSizeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > l.maxBytes {
			l.logger.Warn("request body too large",
				"content_length", r.ContentLength, "max_bytes", l.maxBytes, "path", r.URL.Path)
			apierrors.WriteError(w, GetRequestID(r.Context()), apierrors.ValidationError("request body too large"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, l.maxBytes)
		next.ServeHTTP(w, r)
	})
}
