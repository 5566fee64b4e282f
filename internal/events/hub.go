// Package events is the real-time Event Hub: per-profile subscriber sets
// with non-blocking, best-effort fan-out. A slow subscriber is disconnected
// rather than allowed to stall a publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type names one of the event topics a subscriber can filter on.
type Type string

const (
	TypePositionUpdate        Type = "position_update"
	TypePositionClosed        Type = "position_closed"
	TypeAccountUpdate         Type = "account_update"
	TypeOrderPlaced           Type = "order_placed"
	TypeOrderFilled           Type = "order_filled"
	TypeOrderRejected         Type = "order_rejected"
	TypeSignalGenerated       Type = "signal_generated"
	TypeSignalApproved        Type = "signal_approved"
	TypeSignalRejected        Type = "signal_rejected"
	TypeSignalExpired         Type = "signal_expired"
	TypeRiskAlert             Type = "risk_alert"
	TypePanicHedgeTriggered   Type = "panic_hedge_triggered"
	TypeDrawdownWarning       Type = "drawdown_warning"
	TypeDrawdownHalt          Type = "drawdown_halt"
	TypeKillSwitchActivated   Type = "kill_switch_activated"
	TypeSystemMessage         Type = "system_message"
	TypeConnectionEstablished Type = "connection_established"
	TypeConnectionLost        Type = "connection_lost"

	// Server-originated frame types not driven by a Publish call.
	TypeConnected         Type = "connected"
	TypeError             Type = "error"
	TypePong              Type = "pong"
	TypePositionsSnapshot Type = "positions_snapshot"
	TypeAccountSnapshot   Type = "account_snapshot"
)

// Event is one fan-out message. ProfileID is empty for broadcast events.
type Event struct {
	Type      Type           `json:"type"`
	ProfileID string         `json:"profile_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const outboxSize = 32

// Subscription is a live registration returned by Subscribe. Callers read
// from Events() and must call Close when done.
type Subscription struct {
	id        string
	profileID string
	types     map[Type]bool // nil means all types
	outbox    chan Event
	hub       *Hub

	mu     sync.Mutex
	closed bool
}

// Events returns the channel frames are delivered on. It is closed when the
// subscriber is dropped (overflow, heartbeat timeout, or explicit Close).
func (s *Subscription) Events() <-chan Event { return s.outbox }

// Close drops the subscription. Guarded by mu rather than sync.Once so
// deliver's overflow path and an explicit Close can never race to send on
// (or double-close) the outbox.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.outbox)
	s.mu.Unlock()
	s.hub.remove(s)
}

func (s *Subscription) wants(t Type) bool {
	if s.types == nil {
		return true
	}
	return s.types[t]
}

// Hub owns the per-profile subscriber sets described in §4.7. It never
// blocks a publisher: Publish enqueues to each matching subscriber's bounded
// outbox and drops (disconnects) any subscriber whose outbox is full.
type Hub struct {
	mu            sync.RWMutex
	byProfile     map[string]map[string]*Subscription
	broadcast     map[string]*Subscription
	log           zerolog.Logger
	heartbeat     time.Duration
	stopHeartbeat chan struct{}
}

// New builds a Hub. heartbeatInterval is the fixed interval on which every
// subscriber is pinged; non-responsive (outbox-full) subscribers are
// dropped the same way a slow event recipient would be.
func New(heartbeatInterval time.Duration, log zerolog.Logger) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	h := &Hub{
		byProfile:     make(map[string]map[string]*Subscription),
		broadcast:     make(map[string]*Subscription),
		log:           log.With().Str("component", "event_hub").Logger(),
		heartbeat:     heartbeatInterval,
		stopHeartbeat: make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Stop ends the heartbeat loop. Subscribers are not force-closed; callers
// own their own Subscription lifetimes.
func (h *Hub) Stop() { close(h.stopHeartbeat) }

// Subscribe registers for a tenant-scoped set of (profile, event type)
// pairs. A nil/empty types slice subscribes to every type for that profile.
func (h *Hub) Subscribe(profileID string, types []Type) *Subscription {
	var typeSet map[Type]bool
	if len(types) > 0 {
		typeSet = make(map[Type]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	sub := &Subscription{
		id:        uuid.NewString(),
		profileID: profileID,
		types:     typeSet,
		outbox:    make(chan Event, outboxSize),
		hub:       h,
	}

	h.mu.Lock()
	if _, ok := h.byProfile[profileID]; !ok {
		h.byProfile[profileID] = make(map[string]*Subscription)
	}
	h.byProfile[profileID][sub.id] = sub
	h.mu.Unlock()

	return sub
}

// SubscribeBroadcast registers for the cross-profile admin channel.
func (h *Hub) SubscribeBroadcast() *Subscription {
	sub := &Subscription{id: uuid.NewString(), outbox: make(chan Event, outboxSize), hub: h}
	h.mu.Lock()
	h.broadcast[sub.id] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.profileID != "" {
		if set, ok := h.byProfile[s.profileID]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(h.byProfile, s.profileID)
			}
		}
	} else {
		delete(h.broadcast, s.id)
	}
}

// Publish delivers ev to every matching subscriber for ev.ProfileID,
// non-blocking. A subscriber whose outbox is full is dropped and the
// publish proceeds to the rest — the pipeline never waits on a slow
// consumer.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.byProfile[ev.ProfileID]))
	for _, s := range h.byProfile[ev.ProfileID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, ev)
	}
}

// PublishBroadcast delivers ev to every broadcast (admin) subscriber.
func (h *Hub) PublishBroadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.broadcast))
	for _, s := range h.broadcast {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, ev)
	}
}

// deliver sends ev to s, or drops s if its outbox is full. The send and the
// closed check share s.mu with Close so a concurrent publisher can never
// select on (or close) an outbox another goroutine just closed.
func (h *Hub) deliver(s *Subscription, ev Event) {
	if !s.wants(ev.Type) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.outbox <- ev:
		s.mu.Unlock()
	default:
		s.closed = true
		close(s.outbox)
		s.mu.Unlock()
		h.log.Warn().Str("profile_id", s.profileID).Str("sub_id", s.id).Msg("subscriber outbox full, dropping subscriber")
		h.remove(s)
	}
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopHeartbeat:
			return
		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.RLock()
	all := make([]*Subscription, 0)
	for _, set := range h.byProfile {
		for _, s := range set {
			all = append(all, s)
		}
	}
	for _, s := range h.broadcast {
		all = append(all, s)
	}
	h.mu.RUnlock()

	ping := Event{Type: TypePong, Timestamp: time.Now().UTC()}
	for _, s := range all {
		ev := ping
		ev.ProfileID = s.profileID
		h.deliver(s, ev)
	}
}
