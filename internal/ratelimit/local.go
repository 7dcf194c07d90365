package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one token bucket per identifier in process. The bucket
// refills Rule.Limit tokens per Rule.Window and holds at most Rule.Limit.
type LocalLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	visitors map[string]*visitor
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(rule Rule) *LocalLimiter {
	burst := rule.Limit
	if burst <= 0 {
		burst = 1
	}
	window := rule.Window
	if window <= 0 {
		window = time.Second
	}
	return &LocalLimiter{
		limit:    rate.Limit(float64(burst) / window.Seconds()),
		burst:    burst,
		idle:     2 * window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, identifier string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[identifier]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[identifier] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1), nil
}

// Sweep forgets identifiers idle for more than two windows.
func (l *LocalLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, id)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *LocalLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
