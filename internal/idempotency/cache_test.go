package idempotency

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(clock.NewFixed(time.Now()), 0, 0, zerolog.Nop())
	_, ok := c.Get("profile-1", "key-1")
	assert.False(t, ok)
}

func TestPutThenGetReturnsSameDecision(t *testing.T) {
	c := New(clock.NewFixed(time.Now()), time.Hour, 0, zerolog.Nop())
	d := domain.Decision{ID: "dec-1"}
	c.Put("profile-1", "key-1", d)

	got, ok := c.Get("profile-1", "key-1")
	require.True(t, ok)
	assert.Equal(t, d.ID, got.ID)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	c := New(fc, time.Minute, 0, zerolog.Nop())
	c.Put("profile-1", "key-1", domain.Decision{ID: "dec-1"})

	fc.Advance(2 * time.Minute)
	_, ok := c.Get("profile-1", "key-1")
	assert.False(t, ok)
}

func TestPerProfileCapEvictsOldest(t *testing.T) {
	c := New(clock.NewFixed(time.Now()), time.Hour, 2, zerolog.Nop())
	c.Put("profile-1", "key-1", domain.Decision{ID: "dec-1"})
	c.Put("profile-1", "key-2", domain.Decision{ID: "dec-2"})
	c.Put("profile-1", "key-3", domain.Decision{ID: "dec-3"})

	_, ok := c.Get("profile-1", "key-1")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get("profile-1", "key-3")
	assert.True(t, ok)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	c := New(fc, time.Minute, 0, zerolog.Nop())
	c.Put("profile-1", "key-1", domain.Decision{ID: "dec-1"})

	fc.Advance(2 * time.Minute)
	removed := c.Sweep()
	assert.Equal(t, 1, removed)
}

func TestCheckpointRoundTrip(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	c := New(fc, time.Hour, 0, zerolog.Nop())
	c.Put("profile-1", "key-1", domain.Decision{ID: "dec-1"})

	path := t.TempDir() + "/checkpoint.msgpack"
	require.NoError(t, c.Checkpoint(path))

	restored := New(fc, time.Hour, 0, zerolog.Nop())
	require.NoError(t, restored.LoadCheckpoint(path))

	got, ok := restored.Get("profile-1", "key-1")
	require.True(t, ok)
	assert.Equal(t, "dec-1", got.ID)
}

func TestLoadCheckpointMissingFileIsNoop(t *testing.T) {
	c := New(clock.NewFixed(time.Now()), time.Hour, 0, zerolog.Nop())
	err := c.LoadCheckpoint(os.TempDir() + "/does-not-exist-idempotency-checkpoint.msgpack")
	assert.NoError(t, err)
}
