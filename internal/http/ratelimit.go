package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiters hands out one token bucket per client address. The whole
// table is dropped periodically so idle clients do not accumulate.
type clientLimiters struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	ttl         time.Duration
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newClientLimiters(perSecond float64, burst int) *clientLimiters {
	return &clientLimiters{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		ttl:         time.Hour,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (l *clientLimiters) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Sub(l.lastCleanup) > l.ttl {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = l.now()
	}

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter.Allow()
}
