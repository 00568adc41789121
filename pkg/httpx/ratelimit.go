package httpx

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// Defaults for the gateway-wide limiter.
const (
	DefaultRateLimitWindow      = 15 * time.Minute
	DefaultRateLimitMaxRequests = 100
)

// RateLimitConfig defines the fixed-window parameters.
type RateLimitConfig struct {
	// Window is the length of one counting window
	Window time.Duration
	// MaxRequests is the number of requests admitted per key per window
	MaxRequests int
}

// DefaultRateLimit is 100 requests per 15 minutes.
var DefaultRateLimit = RateLimitConfig{
	Window:      DefaultRateLimitWindow,
	MaxRequests: DefaultRateLimitMaxRequests,
}

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}WINDOW (a Go duration) and
// RATELIMIT_{prefix}MAX_REQUESTS, keeping defaults for absent or invalid
// values. Use prefix "" for the global limiter and e.g. "AUTH_" for others.
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "WINDOW"); val != "" {
		if window, err := time.ParseDuration(val); err == nil && window > 0 {
			config.Window = window
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "MAX_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.MaxRequests = n
		}
	}

	return config
}

// RateDecision is the outcome of one Allow call.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter counts requests per key in discrete windows. At a
// window boundary a key may be admitted up to twice MaxRequests in quick
// succession. State is in memory only and is lost on restart.
type FixedWindowLimiter struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	counters map[string]*windowCounter
	now      func() time.Time
}

// NewFixedWindowLimiter creates a limiter. Zero values in cfg fall back to
// DefaultRateLimit.
func NewFixedWindowLimiter(cfg RateLimitConfig) *FixedWindowLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimit.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimit.MaxRequests
	}
	return &FixedWindowLimiter{
		cfg:      cfg,
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

// WithClock replaces the limiter's time source. Tests only.
func (l *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Config returns the effective configuration.
func (l *FixedWindowLimiter) Config() RateLimitConfig { return l.cfg }

// Allow records one request for key and reports whether it is admitted.
func (l *FixedWindowLimiter) Allow(key string) RateDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &windowCounter{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.counters[key] = c
	} else {
		c.count++
	}

	d := RateDecision{
		Allowed:   c.count <= l.cfg.MaxRequests,
		Limit:     l.cfg.MaxRequests,
		Remaining: max(l.cfg.MaxRequests-c.count, 0),
		ResetAt:   c.resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = c.resetAt.Sub(now)
	}
	return d
}

// Sweep drops counters whose window has elapsed and returns how many were
// removed.
func (l *FixedWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if !now.Before(c.resetAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID)
type KeyExtractor func(*http.Request) string

// IPKeyExtractor extracts the client IP address from the request.
// It handles X-Forwarded-For and X-Real-IP headers for proxied requests.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// UserIDKeyExtractor extracts the authenticated subject from the request
// context. Returns empty string for anonymous callers.
func UserIDKeyExtractor(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, UserIDKeyExtractor)
// would produce keys like "192.168.1.1:01J..."
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// RateLimitHook observes every decision, e.g. for metrics.
type RateLimitHook func(r *http.Request, key string, d RateDecision)

// RateLimitMiddleware admits or rejects requests using limiter, grouping
// them by keyExtractor.
func RateLimitMiddleware(limiter *FixedWindowLimiter, keyExtractor KeyExtractor, hooks ...RateLimitHook) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Allow(key)
			for _, h := range hooks {
				h(r, key, d)
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := RetryAfterSeconds(d.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn("rate limit exceeded",
					"key", key,
					"endpoint", r.URL.Path,
					"retry_after", retryAfter,
				)

				WriteJSON(w, http.StatusTooManyRequests, struct {
					ErrorBody
					RetryAfter int `json:"retryAfter"`
				}{
					ErrorBody: ErrorBody{
						Error:   KindRateLimited,
						Message: fmt.Sprintf("too many requests, retry in %d seconds", retryAfter),
					},
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
