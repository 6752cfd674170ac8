package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/internal/cache"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit throttles each API key over fixed one-minute windows counted in
// the cache. A key gets the largest budget granted by any of its scopes.
type RateLimit struct {
	cache        cache.Cache
	defaultLimit int
	scopeLimits  map[string]int
	metrics      *metrics.Metrics
}

type RateLimitOption func(*RateLimit)

// WithScopeLimit sets the per-minute budget for keys holding scope.
func WithScopeLimit(scope string, requestsPerMin int) RateLimitOption {
	return func(rl *RateLimit) {
		if requestsPerMin > 0 {
			rl.scopeLimits[scope] = requestsPerMin
		}
	}
}

// WithLimitMetrics counts rejected requests.
func WithLimitMetrics(m *metrics.Metrics) RateLimitOption {
	return func(rl *RateLimit) { rl.metrics = m }
}

func NewRateLimit(c cache.Cache, requestsPerMin int, opts ...RateLimitOption) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	rl := &RateLimit{cache: c, defaultLimit: requestsPerMin, scopeLimits: make(map[string]int)}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// limitFor returns the budget for a key and the scope that granted it.
func (rl *RateLimit) limitFor(scopes []string) (int, string) {
	limit, from := rl.defaultLimit, ""
	for _, s := range scopes {
		if n, ok := rl.scopeLimits[s]; ok && n > limit {
			limit, from = n, s
		}
	}
	return limit, from
}

// Limit applies rate limiting based on the key_prefix set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix, now), rateWindow)
		if err != nil {
			// Fail open.
			slog.Warn("rate limit counter unavailable", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		limit, scope := rl.limitFor(getScopes(r))
		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		reset := now.Truncate(rateWindow).Add(rateWindow)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(limit) {
			if scope == "" {
				scope = "default"
			}
			if rl.metrics != nil {
				rl.metrics.RateLimited.WithLabelValues(scope).Inc()
			}
			retryAfter := int(reset.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
