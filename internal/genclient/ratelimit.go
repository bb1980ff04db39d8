package genclient

import (
	"sync"
	"time"
)

// SlidingWindow tracks call timestamps per user and admits a call only
// when fewer than limit calls happened inside the trailing window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewSlidingWindow builds a per-user limiter of limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records and admits the call, or rejects it without recording.
func (l *SlidingWindow) Allow(userID string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.calls[userID][:0]
	for _, t := range l.calls[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.calls[userID] = recent
		return false
	}
	l.calls[userID] = append(recent, now)
	return true
}
