// Package ratelimit implements the per-profile fixed-minute-window rate
// limiter guarding the signal ingress pipeline. A critical-priority signal
// bypasses the limit but is still counted for audit purposes.
package ratelimit

import (
	"sync"
	"time"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

// DefaultCap is the default per-minute budget, admin-tunable per profile.
const DefaultCap = 10

type window struct {
	windowStart time.Time
	count       int
	criticalCount int
}

// Limiter tracks one fixed-minute window per profile. State is authoritative
// in process memory only; on restart counters reset, which is acceptable
// because the window is short and idempotency still prevents double
// processing of any individual signal.
type Limiter struct {
	mu      sync.Mutex
	clk     clock.Clock
	cap     int
	windows map[string]*window
}

func New(clk clock.Clock, cap int) *Limiter {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Limiter{clk: clk, cap: cap, windows: make(map[string]*window)}
}

func (l *Limiter) currentWindow(profileID string) *window {
	now := l.clk.Now()
	w, ok := l.windows[profileID]
	start := now.Truncate(time.Minute)
	if !ok || w.windowStart.Before(start) {
		w = &window{windowStart: start}
		l.windows[profileID] = w
	}
	return w
}

// Allow reports whether a signal of the given priority may proceed, and
// always counts it (critical signals included, per the audited-bypass
// requirement). It never itself fails a critical signal.
func (l *Limiter) Allow(profileID string, priority domain.Priority) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(profileID)
	if priority == domain.PriorityCritical {
		w.criticalCount++
		return true
	}
	if w.count >= l.cap {
		return false
	}
	w.count++
	return true
}

// Remaining returns the current window's remaining non-critical budget and
// the time the window resets. Read-only surface; does not mutate state.
func (l *Limiter) Remaining(profileID string) (remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(profileID)
	remaining = l.cap - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, w.windowStart.Add(time.Minute)
}

// SetCap adjusts the per-minute cap (admin-tunable).
func (l *Limiter) SetCap(cap int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap > 0 {
		l.cap = cap
	}
}
