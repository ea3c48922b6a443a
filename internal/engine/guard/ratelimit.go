package guard

import (
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by caller-supplied strings.
// Windows are created lazily on first request and expire in place; Sweep
// exists only to bound memory, not for correctness. Counters are soft
// policy and deliberately not durable across restarts.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		windows: make(map[string]*window),
		now:     now,
	}
}

// Allow counts one request against the key's current window. An expired
// window is replaced rather than swept, so correctness never depends on the
// background sweep.
func (l *Limiter) Allow(key string, max int, span time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(span)}
		l.windows[key] = w
	}

	if w.count >= max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Decision{Allowed: true, Remaining: max - w.count, ResetAt: w.resetAt}
}

// Sweep drops expired windows to bound memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
