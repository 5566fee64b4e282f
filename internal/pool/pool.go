// Package pool implements the Connection Pool: it owns at most one live
// broker session per profile, enforces a global active cap, performs idle
// eviction and exponential-backoff reconnection, and fires lifecycle
// callbacks. The pool never talks to the Event Hub directly — callbacks are
// published by whichever reconciler observes them.
package pool

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/faults"
)

// Config bounds the pool's capacity and backoff behaviour.
type Config struct {
	MaxActive          int
	IdleTimeout        time.Duration
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		MaxActive:            200,
		IdleTimeout:          15 * time.Minute,
		BaseBackoff:          time.Second,
		MaxBackoff:           2 * time.Minute,
		MaxReconnectAttempts: 5,
	}
}

// Callbacks are fired by the pool on state transitions. All are optional;
// a nil callback is a no-op. The pool holds no lock while invoking them.
type Callbacks struct {
	OnConnect      func(profileID string, snap domain.AccountSnapshot)
	OnDisconnect   func(profileID string, reason string)
	OnAccountUpdate func(profileID string, snap domain.AccountSnapshot)
}

type entry struct {
	handle  domain.ConnectionHandle
	client  domain.BrokerClient
	closing bool
}

// Pool is the shared-mutable-state owner of every ConnectionHandle.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry

	factory domain.BrokerAdapterFactory
	cfg     Config
	clock   clock.Clock
	cb      Callbacks
	log     zerolog.Logger
}

func New(factory domain.BrokerAdapterFactory, cfg Config, c clock.Clock, cb Callbacks, log zerolog.Logger) *Pool {
	return &Pool{
		entries: make(map[string]*entry),
		factory: factory,
		cfg:     cfg,
		clock:   c,
		cb:      cb,
		log:     log.With().Str("component", "connection_pool").Logger(),
	}
}

func (p *Pool) activeCount() int {
	n := 0
	for _, e := range p.entries {
		if e.handle.State == domain.ConnLive || e.handle.State == domain.ConnDegraded {
			n++
		}
	}
	return n
}

// Connect brings profile's connection to live, idempotently. Re-connecting
// an already-live profile returns (true, "already_connected") without
// touching the adapter.
func (p *Pool) Connect(ctx context.Context, profileID string, cred domain.BrokerCredential) (bool, string, error) {
	p.mu.Lock()
	if e, ok := p.entries[profileID]; ok && e.handle.State == domain.ConnLive {
		p.mu.Unlock()
		return true, "already_connected", nil
	}
	if p.activeCount() >= p.cfg.MaxActive {
		p.mu.Unlock()
		return false, "", faults.PoolFull(fmt.Sprintf("active connections at cap %d", p.cfg.MaxActive))
	}

	client := p.factory.NewClient(profileID)
	e := &entry{handle: domain.ConnectionHandle{ProfileID: profileID, State: domain.ConnConnecting}, client: client}
	p.entries[profileID] = e
	p.mu.Unlock()

	if err := client.Connect(ctx, cred); err != nil {
		p.mu.Lock()
		e.handle.State = domain.ConnClosed
		p.mu.Unlock()
		return false, "", faults.BrokerRefused(err.Error())
	}

	account, err := client.QueryAccount(ctx)
	if err != nil {
		p.mu.Lock()
		e.handle.State = domain.ConnDegraded
		p.mu.Unlock()
		return false, "", faults.BrokerRefused(err.Error())
	}

	snap := domain.AccountSnapshot{
		Balance: account.Balance, Equity: account.Equity, Margin: account.Margin,
		FreeMargin: account.FreeMargin, Currency: account.Currency, AsOf: p.clock.Now(),
	}

	p.mu.Lock()
	e.handle.State = domain.ConnLive
	e.handle.LastHeartbeat = p.clock.Now()
	e.handle.ReconnectAttempts = 0
	e.handle.Snapshot = snap
	p.mu.Unlock()

	if p.cb.OnConnect != nil {
		p.cb.OnConnect(profileID, snap)
	}
	return true, "connected", nil
}

// Disconnect idempotently tears down profile's connection and cancels any
// pending reconnect.
func (p *Pool) Disconnect(ctx context.Context, profileID string) error {
	p.mu.Lock()
	e, ok := p.entries[profileID]
	if !ok || e.handle.State == domain.ConnClosed {
		p.mu.Unlock()
		return nil
	}
	e.closing = true
	e.handle.State = domain.ConnClosing
	client := e.client
	p.mu.Unlock()

	var err error
	if client != nil {
		err = client.Disconnect(ctx)
	}

	p.mu.Lock()
	e.handle.State = domain.ConnClosed
	p.mu.Unlock()

	if p.cb.OnDisconnect != nil {
		reason := "disconnected"
		if err != nil {
			reason = err.Error()
		}
		p.cb.OnDisconnect(profileID, reason)
	}
	return err
}

// Get returns a read-only snapshot of profile's handle.
func (p *Pool) Get(profileID string) (domain.ConnectionHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[profileID]
	if !ok {
		return domain.ConnectionHandle{}, false
	}
	return e.handle, true
}

// Client returns the live broker client for a profile, for callers (the
// reconcilers) that need to make adapter calls outside the ingress lease.
func (p *Pool) Client(profileID string) (domain.BrokerClient, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[profileID]
	if !ok || e.client == nil {
		return nil, false
	}
	return e.client, true
}

// All returns a snapshot of every handle, for admin/reconciler consumption.
func (p *Pool) All() []domain.ConnectionHandle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ConnectionHandle, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.handle)
	}
	return out
}

// Stats is the pool statistics surface consumed by the Admin Plane
// dashboard projection.
type Stats struct {
	Total       int
	Live        int
	Degraded    int
	Closed      int
	TotalReconnects int
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var s Stats
	for _, e := range p.entries {
		s.Total++
		s.TotalReconnects += e.handle.ReconnectAttempts
		switch e.handle.State {
		case domain.ConnLive:
			s.Live++
		case domain.ConnDegraded:
			s.Degraded++
		case domain.ConnClosed:
			s.Closed++
		}
	}
	return s
}

// MarkHeartbeat refreshes a live handle's last-heartbeat timestamp. Called
// by the Account Sync reconciler on each successful snapshot poll so idle
// eviction doesn't reap an actively-trading profile.
func (p *Pool) MarkHeartbeat(profileID string, snap domain.AccountSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[profileID]
	if !ok {
		return
	}
	e.handle.LastHeartbeat = p.clock.Now()
	e.handle.Snapshot = snap
	if e.handle.State == domain.ConnDegraded {
		e.handle.State = domain.ConnLive
		e.handle.ReconnectAttempts = 0
	}
	go p.fireAccountUpdate(profileID, snap)
}

func (p *Pool) fireAccountUpdate(profileID string, snap domain.AccountSnapshot) {
	if p.cb.OnAccountUpdate != nil {
		p.cb.OnAccountUpdate(profileID, snap)
	}
}

// MarkDegraded transitions a live handle to degraded on missed heartbeat or
// a transient adapter error observed by a reconciler.
func (p *Pool) MarkDegraded(profileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[profileID]
	if !ok || e.handle.State != domain.ConnLive {
		return
	}
	e.handle.State = domain.ConnDegraded
}

// Backoff returns the exponential-backoff-with-jitter delay for the given
// attempt count, capped at cfg.MaxBackoff.
func (p *Pool) Backoff(attempt int) time.Duration {
	base := float64(p.cfg.BaseBackoff)
	delay := base * math.Pow(2, float64(attempt))
	if cap := float64(p.cfg.MaxBackoff); delay > cap {
		delay = cap
	}
	jitter := delay * (0.5 + rand.Float64()/2)
	return time.Duration(jitter)
}

// Reconnect attempts to bring a degraded handle back to live. On repeated
// failure past cfg.MaxReconnectAttempts the handle transitions to closed
// and the caller is expected to emit a connection_lost alert.
func (p *Pool) Reconnect(ctx context.Context, profileID string, cred domain.BrokerCredential) error {
	p.mu.Lock()
	e, ok := p.entries[profileID]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("no handle for profile %s", profileID)
	}
	if e.handle.State != domain.ConnDegraded {
		p.mu.Unlock()
		return nil
	}
	e.handle.ReconnectAttempts++
	attempts := e.handle.ReconnectAttempts
	client := e.client
	p.mu.Unlock()

	if attempts > p.cfg.MaxReconnectAttempts {
		p.mu.Lock()
		e.handle.State = domain.ConnClosed
		p.mu.Unlock()
		if p.cb.OnDisconnect != nil {
			p.cb.OnDisconnect(profileID, "connection_lost: max reconnect attempts exceeded")
		}
		return fmt.Errorf("profile %s exceeded max reconnect attempts", profileID)
	}

	if err := client.Connect(ctx, cred); err != nil {
		return faults.BrokerRefused(err.Error())
	}

	account, err := client.QueryAccount(ctx)
	if err != nil {
		return faults.BrokerRefused(err.Error())
	}

	snap := domain.AccountSnapshot{Balance: account.Balance, Equity: account.Equity, Margin: account.Margin, FreeMargin: account.FreeMargin, Currency: account.Currency, AsOf: p.clock.Now()}

	p.mu.Lock()
	e.handle.State = domain.ConnLive
	e.handle.LastHeartbeat = p.clock.Now()
	e.handle.ReconnectAttempts = 0
	e.handle.Snapshot = snap
	p.mu.Unlock()

	if p.cb.OnConnect != nil {
		p.cb.OnConnect(profileID, snap)
	}
	return nil
}

// EvictIdle closes any live/degraded handle whose last heartbeat is older
// than cfg.IdleTimeout.
func (p *Pool) EvictIdle(ctx context.Context) []string {
	p.mu.Lock()
	var toEvict []string
	now := p.clock.Now()
	for id, e := range p.entries {
		if e.handle.State != domain.ConnLive && e.handle.State != domain.ConnDegraded {
			continue
		}
		if now.Sub(e.handle.LastHeartbeat) > p.cfg.IdleTimeout {
			toEvict = append(toEvict, id)
		}
	}
	p.mu.Unlock()

	for _, id := range toEvict {
		p.log.Info().Str("profile_id", id).Msg("evicting idle connection")
		_ = p.Disconnect(ctx, id)
	}
	return toEvict
}
