package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	bucketIdleExpiry = 1 * time.Hour
	cleanupInterval  = 30 * time.Minute
)

type clientBucket struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter grants each client a fixed number of engine runs per window.
// A run may hold an AI provider call for tens of seconds, so only the
// recommendation routes are limited.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	clients  map[string]*clientBucket
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		capacity: capacity,
		window:   window,
		clients:  make(map[string]*clientBucket),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stop:
			return
		}
	}
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, b := range r.clients {
		if now.Sub(b.lastRefill) > bucketIdleExpiry {
			delete(r.clients, id)
		}
	}
}

func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Allow consumes one token of the client's bucket.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.clients[client]
	if !ok {
		r.clients[client] = &clientBucket{tokens: r.capacity - 1, lastRefill: now}
		return r.capacity > 0
	}
	if now.Sub(b.lastRefill) >= r.window {
		b.tokens = r.capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many recommendation runs, try again later")
			return
		}
		h(w, r)
	}
}
