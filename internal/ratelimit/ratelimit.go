package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/i18n"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-client-IP token bucket.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		done:     make(chan struct{}),
	}
	go l.cleanupLoop(5 * time.Minute)
	return l
}

// Stop ends the background eviction of idle visitors.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// retryAfter is the wait until ip regains one token, in whole seconds.
func (l *Limiter) retryAfter(ip string) int {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	l.mu.Unlock()
	if !ok {
		return 1
	}
	r := v.limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	secs := int(delay.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle(time.Now())
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, ip)
		}
	}
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !l.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter(ip)))
			httputil.WriteLocalizedError(w, r, http.StatusTooManyRequests, i18n.KeyRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
