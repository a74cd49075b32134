// Package ratelimit guards the order-intake endpoints with a per-client
// sliding window. Order spam is the main abuse vector: every accepted order
// fans out into PO issuing, registry traffic, and polling work.
package ratelimit

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config defines the limiter thresholds.
type Config struct {
	// MaxPerWindow is the sustained allowance per client per window.
	MaxPerWindow int

	// Burst tops the hard ceiling within one window.
	Burst int

	// Window length. Zero means one minute.
	Window time.Duration
}

type window struct {
	count int
	start time.Time
}

// Limiter tracks request counts per client key.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	cfg     Config
	logger  *log.Logger
}

// New creates a limiter and starts its background sweep.
func New(cfg Config) *Limiter {
	if cfg.MaxPerWindow == 0 {
		cfg.MaxPerWindow = 60
	}
	if cfg.Burst == 0 {
		cfg.Burst = cfg.MaxPerWindow * 2
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}

	l := &Limiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[RateLimit] ", log.LstdFlags),
	}

	go l.sweep()
	return l
}

// Allow reports whether the client may proceed. Counts are read-first: an
// active window increments under the read lock, accepting a small race on
// the counter because the limit is soft anyway.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.RLock()
	w, exists := l.windows[key]
	if exists && now.Sub(w.start) <= l.cfg.Window {
		w.count++
		count := w.count
		l.mu.RUnlock()

		if count > l.cfg.Burst {
			l.logger.Printf("🚫 Burst ceiling hit: key=%s count=%d", key, count)
			return false
		}
		if count > l.cfg.MaxPerWindow {
			l.logger.Printf("⚠️  Rate limit exceeded: key=%s count=%d limit=%d",
				key, count, l.cfg.MaxPerWindow)
			return false
		}
		return true
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists = l.windows[key]
	if exists && now.Sub(w.start) <= l.cfg.Window {
		w.count++
		return w.count <= l.cfg.Burst
	}

	l.windows[key] = &window{count: 1, start: now}
	return true
}

// Middleware enforces the limit per client IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"status":"error","message":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey picks the client identity: first hop of X-Forwarded-For when an
// ingress proxy set it, else the socket's remote address without the port.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sweep garbage-collects expired windows.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for key, w := range l.windows {
			if now.Sub(w.start) > 2*l.cfg.Window {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

// Stats reports limiter state for the ops surface.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"active_windows": len(l.windows),
		"max_per_window": l.cfg.MaxPerWindow,
		"burst":          l.cfg.Burst,
	}
}
