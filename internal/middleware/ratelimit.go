package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Counter increments a key and returns the new value. The key expires
// window after it was first created.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig is requests per minute per client plus a burst allowance.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

const rateWindow = time.Minute

// RateLimit applies a fixed one-minute window per client IP and route
// pattern. It fails open: when the counter errors the request goes through.
func RateLimit(counter Counter, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "proteeti:ratelimit:" + r.URL.Path + ":" + clientIP(r)

			count, err := counter.IncrWithExpire(r.Context(), key, rateWindow)
			if err != nil {
				logger.Warn("rate limit counter unavailable", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

			if int(count) > limit+cfg.Burst {
				w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"Too many requests, try again in a minute"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten from X-Forwarded-For when the server sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryCounter is a process-local Counter for single-instance deployments
// without Redis.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	expires time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: map[string]*window{}, now: time.Now}
}

func (m *MemoryCounter) IncrWithExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{expires: now.Add(ttl)}
		m.windows[key] = w
	}
	w.count++

	// Sweep expired windows now and then so idle clients don't pile up.
	if len(m.windows) > 1024 {
		for k, v := range m.windows {
			if !now.Before(v.expires) {
				delete(m.windows, k)
			}
		}
	}
	return w.count, nil
}
