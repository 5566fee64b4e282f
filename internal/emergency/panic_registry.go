// Package emergency implements the kill switch, drawdown controller, and
// panic hedge described in the emergency controls component. All three feed
// PanicState into the gate's panic_not_active check; none of them mutate a
// Decision directly.
package emergency

import (
	"sync"
	"time"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

// Registry owns the per-profile PanicState table. It is the single
// shared-mutable-state owner the gate's panic_not_active check reads from.
type Registry struct {
	mu    sync.RWMutex
	clock clock.Clock
	state map[string]domain.PanicState
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{clock: c, state: make(map[string]domain.PanicState)}
}

// Active reports whether the profile's PanicState is currently active,
// accounting for a trigger that fired but whose cooldown has not yet
// elapsed.
func (r *Registry) Active(profileID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state[profileID]
	if !ok {
		return false
	}
	if s.Active {
		return true
	}
	return r.clock.Now().Before(s.CooldownUntil)
}

// Get returns the current PanicState for a profile (zero value if none).
func (r *Registry) Get(profileID string) domain.PanicState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[profileID]
}

// Trigger raises PanicState for a profile with the given trigger reason and
// cooldown duration. Re-triggering while already active extends the
// cooldown from now rather than stacking.
func (r *Registry) Trigger(profileID string, trigger domain.PanicTrigger, cooldown time.Duration) domain.PanicState {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	s := domain.PanicState{
		ProfileID:     profileID,
		Active:        true,
		Trigger:       trigger,
		TriggeredAt:   now,
		CooldownUntil: now.Add(cooldown),
	}
	r.state[profileID] = s
	return s
}

// Recover marks the underlying condition resolved: Active flips false but
// the cooldown window (if still running) continues to fail the gate check.
func (r *Registry) Recover(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state[profileID]
	if !ok {
		return
	}
	s.Active = false
	r.state[profileID] = s
}

// Reset clears a profile's PanicState entirely. Admin-only per the design
// note that resets are restricted to the admin plane.
func (r *Registry) Reset(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, profileID)
}

// All returns a snapshot of every profile currently carrying PanicState,
// for the admin dashboard projection.
func (r *Registry) All() []domain.PanicState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PanicState, 0, len(r.state))
	for _, s := range r.state {
		out = append(out, s)
	}
	return out
}
