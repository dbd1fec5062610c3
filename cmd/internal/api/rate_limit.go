package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// accountLimiter keeps one token bucket per account. Buckets of idle
// accounts expire from the cache and start full again.
type accountLimiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	every   rate.Limit
	burst   int
	window  time.Duration
}

func newAccountLimiter(events int, window time.Duration) *accountLimiter {
	return &accountLimiter{
		buckets: cache.New(2*window, window),
		every:   rate.Every(window / time.Duration(events)),
		burst:   events,
		window:  window,
	}
}

// allow reports whether id may perform one more mutation, and otherwise how
// long until it may.
func (l *accountLimiter) allow(id int64) (bool, time.Duration) {
	key := strconv.FormatInt(id, 10)

	l.mu.Lock()
	var lim *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.every, l.burst)
	}
	l.buckets.SetDefault(key, lim)
	l.mu.Unlock()

	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
