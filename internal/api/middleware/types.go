package middleware

// contextKey namespaces values stored on the request context so they don't
// collide with keys set by other packages.
type contextKey string

const (
	RequestIDContextKey contextKey = "request_id"
	SessionIDContextKey contextKey = "session_id"
	IsAdminContextKey   contextKey = "is_admin"
)

// HTTP headers.
const (
	RequestIDHeader = "X-Request-ID"
	SessionIDHeader = "X-Session-Id"
	AdminKeyHeader  = "X-Admin-Key"

	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"

	CacheControlHeader = "Cache-Control"
	ETagHeader         = "ETag"
	IfNoneMatchHeader  = "If-None-Match"

	APIVersionHeader = "X-API-Version"
)
