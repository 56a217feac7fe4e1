package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/mindwell/convomem/pkg/api/response"
)

// RateLimitConfig configures per-key token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per key.
	RequestsPerSecond float64

	// Burst is the bucket size per key.
	Burst int

	// IdleTimeout evicts buckets unused for this long.
	IdleTimeout time.Duration
}

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RecordRateLimited()
}

type nopRateLimitRecorder struct{}

func (nopRateLimitRecorder) RecordRateLimited() {}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key, usually a session id.
type RateLimiter struct {
	cfg      RateLimitConfig
	recorder RateLimitRecorder
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

// NewRateLimiter creates a limiter. Non-positive values fall back to
// 5 requests per second, a burst of 10 and a 10 minute idle timeout.
func NewRateLimiter(cfg RateLimitConfig, recorder RateLimitRecorder) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if recorder == nil {
		recorder = nopRateLimitRecorder{}
	}
	return &RateLimiter{
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
		limiters: make(map[string]*keyedLimiter),
	}
}

// Allow reports whether one more request for key fits in its bucket.
func (l *RateLimiter) Allow(key string) bool {
	return l.reserve(key) == 0
}

// reserve takes a token and returns zero, or returns how long the caller
// would have to wait without consuming anything.
func (l *RateLimiter) reserve(key string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now

	res := kl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
	}
	return delay
}

// SetLimits changes the rate and burst for existing and future keys.
// Non-positive values keep the current setting.
func (l *RateLimiter) SetLimits(requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if requestsPerSecond > 0 {
		l.cfg.RequestsPerSecond = requestsPerSecond
	}
	if burst > 0 {
		l.cfg.Burst = burst
	}
	now := l.now()
	for _, kl := range l.limiters {
		kl.limiter.SetLimitAt(now, rate.Limit(l.cfg.RequestsPerSecond))
		kl.limiter.SetBurstAt(now, l.cfg.Burst)
	}
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Cleanup evicts idle buckets and returns how many were removed.
func (l *RateLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.cfg.IdleTimeout)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, kl := range l.limiters {
		if kl.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Run evicts idle buckets every interval until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// SessionKey keys requests by the sessionID route parameter, falling back
// to the client address.
func SessionKey(r *http.Request) string {
	if id := chi.URLParam(r, "sessionID"); id != "" {
		return "session:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Handler rejects requests over the limit with 429 and a Retry-After header.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return l.Middleware(SessionKey)(next)
}

// Middleware is Handler with a custom key function.
func (l *RateLimiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			delay := l.reserve(keyFunc(r))
			if delay == 0 {
				next.ServeHTTP(w, r)
				return
			}

			l.recorder.RecordRateLimited()
			requestID := GetRequestID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			response.Error(w,
				http.StatusTooManyRequests,
				response.ErrCodeTooManyRequests,
				"Too many turns for this session, slow down",
				requestID,
			)
		})
	}
}
