// Package ratelimit throttles notifications and vibrations per source app.
//
// Reads never mutate state. Timestamps are written only when a transfer completes, so a
// notification that is queued but never delivered does not charge its app.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu           sync.Mutex
	now          func() time.Time
	lastVibrate  map[string]time.Time
	lastDelivery map[string]time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:          time.Now,
		lastVibrate:  map[string]time.Time{},
		lastDelivery: map[string]time.Time{},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ShouldVibrate reports whether app may vibrate again. A zero interval disables throttling.
func (l *Limiter) ShouldVibrate(app string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}
	l.mu.Lock()
	last, ok := l.lastVibrate[app]
	now := l.now()
	l.mu.Unlock()
	return !ok || now.Sub(last) > minInterval
}

// ShouldSendByInterval reports whether the last completed delivery for app is at least
// minInterval ago.
func (l *Limiter) ShouldSendByInterval(app string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		return true
	}
	l.mu.Lock()
	last, ok := l.lastDelivery[app]
	now := l.now()
	l.mu.Unlock()
	return !ok || now.Sub(last) >= minInterval
}

// RecordCompletion stamps a finished transfer. The vibration stamp is the completion
// time, not the moment the pattern was chosen.
func (l *Limiter) RecordCompletion(app string, vibrated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.lastDelivery[app] = now
	if vibrated {
		l.lastVibrate[app] = now
	}
}

// LastDelivery returns the last completion time for app.
func (l *Limiter) LastDelivery(app string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.lastDelivery[app]
	return t, ok
}
