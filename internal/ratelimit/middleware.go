package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"loopweb/internal/models"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces limiter, one bucket per
// key. A nil key function buckets by ClientIP without trusting proxy headers.
func Middleware(limiter Limiter, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIPKey(false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			allowed, info := limiter.Allow(k)

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfterSecs := int(info.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.RequestID = w.Header().Get("X-Request-ID")
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Rate limit exceeded",
					"key", k,
					"limit", info.Limit,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey returns a KeyFunc bucketing by client IP.
func ClientIPKey(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		return ClientIP(r, trustProxy)
	}
}

// ClientIP extracts the client IP from the request. Proxy headers are only
// consulted when trustProxy is set, since any client can send them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
