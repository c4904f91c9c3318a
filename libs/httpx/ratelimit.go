package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For hop, falling back to the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIPAndPath scopes the IP bucket to the route, so slot browsing cannot starve booking.
func ClientIPAndPath(r *http.Request) string {
	return ClientIP(r) + "|" + r.URL.Path
}

// RateLimiter is an in-process fixed-window limiter. Windows expire out of the cache on
// their own, so idle clients cost nothing.
type RateLimiter struct {
	limit   int
	window  time.Duration
	key     KeyFunc
	mu      sync.Mutex
	windows *cache.Cache
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration, key KeyFunc) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		key:     key,
		windows: cache.New(window, 2*window),
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait, ok := rl.allow(rl.key(r), time.Now()); !ok {
				tooManyRequests(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.windows.Get(key); ok {
		fw := v.(*fixedWindow)
		if now.Before(fw.resetAt) {
			if fw.count >= rl.limit {
				return fw.resetAt.Sub(now), false
			}
			fw.count++
			return 0, true
		}
	}
	rl.windows.Set(key, &fixedWindow{count: 1, resetAt: now.Add(rl.window)}, rl.window)
	return 0, true
}

func tooManyRequests(w http.ResponseWriter, wait time.Duration) {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
}
