// Package idempotency caches full Decision responses keyed by
// (profile id, idempotency key) so a replayed submission within the TTL
// returns the byte-identical original answer with no side effects.
package idempotency

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

const (
	// DefaultTTL is the replay window named in the spec (24h).
	DefaultTTL = 24 * time.Hour
	// DefaultPerProfileCap bounds memory use; overflow should be rare since
	// the rate limiter bounds the write rate.
	DefaultPerProfileCap = 5000
)

type entry struct {
	decision domain.Decision
	storedAt time.Time
}

// Cache is the in-memory idempotency store. The rate-limit window may stay
// in-memory-only per the design notes; this cache additionally supports an
// optional msgpack checkpoint so a short outage doesn't lose replay
// protection (the Decision row in the repository remains the durable source
// of truth regardless — the checkpoint is a convenience, not a requirement).
type Cache struct {
	mu      sync.Mutex
	clk     clock.Clock
	ttl     time.Duration
	perCap  int
	entries map[string]entry
	order   map[string][]string
	log     zerolog.Logger
}

// New builds a Cache with the given TTL and per-profile capacity. Pass zero
// values to use the documented defaults.
func New(clk clock.Clock, ttl time.Duration, perProfileCap int, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if perProfileCap <= 0 {
		perProfileCap = DefaultPerProfileCap
	}
	return &Cache{
		clk:     clk,
		ttl:     ttl,
		perCap:  perProfileCap,
		entries: make(map[string]entry),
		order:   make(map[string][]string),
		log:     log.With().Str("component", "idempotency").Logger(),
	}
}

func key(profileID, idemKey string) string { return profileID + "\x00" + idemKey }

// Get returns the cached Decision for (profileID, idemKey) if present and
// not expired. A lazily-expired entry is swept on read.
func (c *Cache) Get(profileID, idemKey string) (domain.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(profileID, idemKey)
	e, ok := c.entries[k]
	if !ok {
		return domain.Decision{}, false
	}
	if c.clk.Now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, k)
		return domain.Decision{}, false
	}
	return e.decision, true
}

// Put stores d under (profileID, idemKey), evicting the oldest entry for
// that profile if the per-profile capacity is exceeded.
func (c *Cache) Put(profileID, idemKey string, d domain.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(profileID, idemKey)
	if _, exists := c.entries[k]; !exists {
		c.order[profileID] = append(c.order[profileID], idemKey)
		if len(c.order[profileID]) > c.perCap {
			oldest := c.order[profileID][0]
			c.order[profileID] = c.order[profileID][1:]
			delete(c.entries, key(profileID, oldest))
			c.log.Warn().Str("profile_id", profileID).Msg("idempotency cache overflow, evicted oldest entry")
		}
	}
	c.entries[k] = entry{decision: d, storedAt: c.clk.Now()}
}

// Sweep eagerly removes every expired entry. Intended to be called by a
// janitor (see internal/reconcile) on a fixed interval.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// checkpointRow is the msgpack-encoded on-disk representation of one entry.
type checkpointRow struct {
	ProfileID string          `msgpack:"profile_id"`
	Key       string          `msgpack:"key"`
	Decision  domain.Decision `msgpack:"decision"`
	StoredAt  time.Time       `msgpack:"stored_at"`
}

// Checkpoint snapshots the unexpired entries to a msgpack file at path.
// Intended for an optional warm-start across short process restarts; the
// checkpoint is never required for correctness since the Decision row
// itself is the durable source of truth for replay answers.
func (c *Cache) Checkpoint(path string) error {
	c.mu.Lock()
	rows := make([]checkpointRow, 0, len(c.entries))
	for k, e := range c.entries {
		profileID, idemKey := splitKey(k)
		rows = append(rows, checkpointRow{ProfileID: profileID, Key: idemKey, Decision: e.decision, StoredAt: e.storedAt})
	}
	c.mu.Unlock()

	b, err := msgpack.Marshal(rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// LoadCheckpoint restores entries from a msgpack file written by
// Checkpoint, skipping rows already past TTL.
func (c *Cache) LoadCheckpoint(path string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var rows []checkpointRow
	if err := msgpack.Unmarshal(b, &rows); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	for _, r := range rows {
		if now.Sub(r.StoredAt) > c.ttl {
			continue
		}
		k := key(r.ProfileID, r.Key)
		c.entries[k] = entry{decision: r.Decision, storedAt: r.StoredAt}
		c.order[r.ProfileID] = append(c.order[r.ProfileID], r.Key)
	}
	return nil
}

func splitKey(k string) (profileID, idemKey string) {
	for i := 0; i < len(k); i++ {
		if k[i] == 0 {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
