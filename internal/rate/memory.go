package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter: mismo fixed window que RedisLimiter, en memoria.
// Para dev/tests o deployments single-node sin Redis.
type MemoryLimiter struct {
	Window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	hits  int64
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		Window:  window,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, max int64) (Result, error) {
	now := time.Now()
	ws := windowStart(now, l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.start.Before(ws) {
		b = &bucket{start: ws}
		l.buckets[key] = b
	}
	b.hits++

	// prune ocasional de ventanas viejas para no crecer sin límite
	if len(l.buckets) > 4096 {
		for k, old := range l.buckets {
			if old.start.Before(ws) {
				delete(l.buckets, k)
			}
		}
	}

	remaining := max - b.hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     b.hits <= max,
		Remaining:   remaining,
		CurrentHits: b.hits,
	}
	if !res.Allowed {
		res.RetryAfter = ws.Add(l.Window).Sub(now.UTC())
	}
	return res, nil
}
