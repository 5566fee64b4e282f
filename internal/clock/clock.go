// Package clock provides the monotonic-and-wall time capability and an id
// minter. Components take these as dependencies instead of calling time.Now
// or uuid.New directly, so tests can pin both.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time capability consumed throughout the module.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by the system wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a test Clock pinned to a single instant. Advance moves it
// forward explicitly; Now never changes on its own.
type Fixed struct {
	t time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (f *Fixed) Now() time.Time { return f.t }

func (f *Fixed) Advance(d time.Duration) { f.t = f.t.Add(d) }

// IDMinter mints unique identifiers for signals, decisions, chains and
// subscribers.
type IDMinter interface {
	NewID() string
}

// UUIDMinter mints RFC 4122 UUIDs.
type UUIDMinter struct{}

func (UUIDMinter) NewID() string { return uuid.NewString() }

// CivilDay returns the tenant-local civil date (YYYY-MM-DD) for t in loc.
// Used by the gate's daily_limit check, which counts decisions against the
// tenant-local day rather than UTC midnight.
func CivilDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
