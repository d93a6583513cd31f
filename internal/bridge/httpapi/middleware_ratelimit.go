package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/binbridge/binbridge/internal/bridge"
)

// RateLimitMiddleware enforces a per-client-address rate limit.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	limit   RateLimit
	logger  zerolog.Logger
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(limit RateLimit, logger zerolog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: NewRateLimiter(limit),
		limit:   limit,
		logger:  logger.With().Str("middleware", "ratelimit").Logger(),
	}
}

// Handler wraps an http.Handler with rate limiting. Rejections carry a
// NotReady envelope.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit.Requests))
		w.Header().Set("X-RateLimit-Policy", fmt.Sprintf("%d;w=%d", m.limit.Requests, int(m.limit.Window.Seconds())))

		if !m.limiter.Allow(client) {
			reset := m.limiter.ResetTime(client)
			retryAfter := max(int(time.Until(reset).Seconds()), 1)

			m.logger.Warn().
				Str("client", client).
				Str("path", r.URL.Path).
				Int("retry_after_seconds", retryAfter).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			writeJSON(w, http.StatusTooManyRequests, bridge.Failure(bridge.NotReady("rate limit exceeded, retry in %ds", retryAfter)))
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(m.limiter.Remaining(client)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(m.limiter.ResetTime(client).Unix(), 10))
		next.ServeHTTP(w, r)
	})
}

// Limiter returns the underlying rate limiter.
func (m *RateLimitMiddleware) Limiter() *RateLimiter {
	return m.limiter
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
