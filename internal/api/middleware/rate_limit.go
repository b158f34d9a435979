package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/romanbabin/convogate/internal/api/apierrors"
)

// IPRateLimiter is a token-bucket limiter keyed by client IP. It guards the
// admin surface against brute-force/abuse; per-session chat-turn rate
// limiting is enforced separately by internal/ratelimit inside the
// Orchestrator.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter builds a limiter allowing requestsPerMinute per client IP,
// with burst capacity for short spikes.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *IPRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Cleanup evicts limiters whose bucket is currently full (idle clients).
// Intended to be called periodically from a background ticker.
func (l *IPRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, limiter := range l.limiters {
		if limiter.TokensAt(now) == float64(l.burst) {
			delete(l.limiters, ip)
		}
	}
}

// RateLimitMiddleware rejects requests exceeding the configured per-IP rate
// with a 429 and an X-RateLimit-Reset header; no other X-RateLimit-* header
// is set.
func RateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.allow(ip) {
				w.Header().Set(RateLimitResetHeader, time.Now().Add(time.Minute).UTC().Format(time.RFC3339))
				apierrors.WriteError(w, GetRequestID(r.Context()), apierrors.RateLimitError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
