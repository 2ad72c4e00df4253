package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per client key in process memory.
// Buckets that have refilled completely are indistinguishable from new ones
// and are dropped by a background sweep, so memory tracks active clients only.
type MemoryLimiter struct {
	refill    rate.Limit
	burst     int
	perMinute int
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryLimiter allows requestsPerMinute per client with bursts of up to
// burst requests. Idle buckets are swept every cleanupInterval.
func NewMemoryLimiter(requestsPerMinute int, burst int, cleanupInterval time.Duration) *MemoryLimiter {
	m := newMemoryLimiter(requestsPerMinute, burst, cleanupInterval, time.Now)
	go m.sweepLoop()
	return m
}

func newMemoryLimiter(requestsPerMinute, burst int, cleanupInterval time.Duration, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		refill:    rate.Limit(float64(requestsPerMinute) / 60),
		burst:     burst,
		perMinute: requestsPerMinute,
		interval:  cleanupInterval,
		now:       now,
		buckets:   make(map[string]*rate.Limiter),
		done:      make(chan struct{}),
	}
}

// Allow takes a token from key's bucket if one is available.
func (m *MemoryLimiter) Allow(key string) (bool, Info) {
	now := m.now()
	bucket := m.bucket(key)

	info := Info{Limit: m.perMinute}
	allowed := true

	res := bucket.ReserveN(now, 1)
	switch {
	case !res.OK():
		allowed = false
		info.RetryAfter = time.Minute
	case res.DelayFrom(now) > 0:
		allowed = false
		info.RetryAfter = res.DelayFrom(now)
		res.CancelAt(now)
	}

	tokens := bucket.TokensAt(now)
	info.Remaining = int(math.Max(0, math.Floor(tokens)))
	info.ResetAt = now
	if missing := float64(m.burst) - tokens; missing > 0 && m.refill > 0 {
		info.ResetAt = now.Add(time.Duration(missing / float64(m.refill) * float64(time.Second)))
	}

	return allowed, info
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (m *MemoryLimiter) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(m.refill, m.burst)
		m.buckets[key] = b
	}
	return b
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops buckets that are full again.
func (m *MemoryLimiter) sweep() int {
	now := m.now()
	full := float64(m.burst)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, b := range m.buckets {
		if b.TokensAt(now) >= full {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked clients.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
