// Package middleware holds HTTP middleware shared across the gateway's
// router that doesn't belong to the request-scoped stack in
// internal/api/middleware (CORS, auth, rate limiting).
package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// PathNormalizer replaces dynamic path segments (conversation/message/doc
// IDs) with a placeholder so HTTP metrics keyed by path don't explode in
// cardinality as IDs accumulate.
type PathNormalizer struct {
	uuidPattern      *regexp.Regexp
	numericIDPattern *regexp.Regexp
}

// NewPathNormalizer builds a PathNormalizer with default UUID/numeric-ID patterns.
func NewPathNormalizer() *PathNormalizer {
	return &PathNormalizer{
		uuidPattern:      regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
		numericIDPattern: regexp.MustCompile(`/\d{1,20}(?:/|$)`),
	}
}

// NormalizePath replaces conversation/message UUIDs and numeric IDs in path
// with ":id", e.g. "/api/conversations/123e4567-.../messages" -> "/api/conversations/:id/messages".
func (n *PathNormalizer) NormalizePath(path string) string {
	if path == "" || path == "/" {
		return path
	}

	normalized := n.uuidPattern.ReplaceAllString(path, "/:id")
	normalized = n.numericIDPattern.ReplaceAllString(normalized, "/:id/")
	normalized = strings.TrimSuffix(normalized, "/")

	if normalized == "" {
		return "/"
	}
	return normalized
}

// Middleware stashes the normalized path in the X-Normalized-Path request
// header. The gateway's HTTP metrics middleware does not read this header;
// it calls NormalizePath on the request path itself.
func (n *PathNormalizer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Normalized-Path", n.NormalizePath(r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}

// PathNormalizationMiddleware builds a PathNormalizer with default patterns
// and returns its middleware, for callers that don't need the normalizer itself.
func PathNormalizationMiddleware() func(http.Handler) http.Handler {
	return NewPathNormalizer().Middleware()
}
