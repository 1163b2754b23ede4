package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit bounds request throughput per client.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter applies a token-bucket limit keyed by client address. Idle
// clients are pruned lazily on lookup.
type RateLimiter struct {
	limit RateLimit

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

const visitorTTL = 10 * time.Minute

// NewRateLimiter builds a limiter with the supplied per-client budget.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	if limit.PerSecond <= 0 {
		limit.PerSecond = 1
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &RateLimiter{
		limit:    limit,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Middleware rejects requests exceeding the per-client budget with 429.
func (r *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.obtain(clientID(req)).Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtain(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for key, entry := range r.visitors {
		if now.Sub(entry.seen) > visitorTTL {
			delete(r.visitors, key)
		}
	}
	entry, ok := r.visitors[id]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(r.limit.PerSecond), r.limit.Burst)}
		r.visitors[id] = entry
	}
	entry.seen = now
	return entry.limiter
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
		first := raw
		if comma := strings.IndexByte(raw, ','); comma > 0 {
			first = raw[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return raw
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
