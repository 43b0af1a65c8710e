package rate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Idle keys are dropped by a janitor.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]*entry
	limit      rate.Limit
	burst      int
	staleAfter time.Duration
	now        func() time.Time
	stop       chan struct{}
	once       sync.Once
}

func NewLimiter(rps float64, burst int, staleAfter time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		entries:    map[string]*entry{},
		limit:      rate.Limit(rps),
		burst:      burst,
		staleAfter: staleAfter,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	if staleAfter > 0 {
		go l.janitor()
	}
	return l
}

// Allow takes one token for key. When the bucket is empty it reports how long
// the caller should wait before retrying.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := l.now()
	lim := l.get(key, now)
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *Limiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.entries[key] = &entry{limiter: lim, lastSeen: now}
	return lim
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.staleAfter)
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}
