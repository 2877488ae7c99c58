package dispatch

import (
	"sync"
	"time"

	"github.com/user/notifirc/internal/config"
)

// Rate-limit windows.
const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// limiter tracks successful delivery timestamps for one sink over the
// trailing hour. Decisions and appends are serialized by the mutex; the
// history is private to the sink.
type limiter struct {
	mu    sync.Mutex
	times []time.Time
	now   func() time.Time
}

func newLimiter() *limiter {
	return &limiter{now: time.Now}
}

// allow purges entries older than an hour and checks both windows against
// the sink's configured caps. A nil rate limit always allows.
func (l *limiter) allow(rl *config.RateLimit) bool {
	if rl == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	if rl.MaxPerHour > 0 && len(l.times) >= rl.MaxPerHour {
		return false
	}
	if rl.MaxPerMinute > 0 {
		cutoff := now.Add(-minuteWindow)
		recent := 0
		for _, t := range l.times {
			if t.After(cutoff) {
				recent++
			}
		}
		if recent >= rl.MaxPerMinute {
			return false
		}
	}
	return true
}

// record appends a delivery timestamp after a successful send.
func (l *limiter) record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.purge(now)
	l.times = append(l.times, now)
}

// count returns the number of deliveries in the trailing window.
func (l *limiter) count(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-window)
	n := 0
	for _, t := range l.times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *limiter) purge(now time.Time) {
	cutoff := now.Add(-hourWindow)
	keep := l.times[:0]
	for _, t := range l.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.times = keep
}
