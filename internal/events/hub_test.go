package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return New(time.Hour, zerolog.Nop())
}

func TestPublishDeliversToMatchingProfile(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := h.Subscribe("p1", nil)
	defer sub.Close()

	h.Publish(Event{Type: TypeSignalApproved, ProfileID: "p1"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeSignalApproved, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestPublishDoesNotCrossProfiles(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := h.Subscribe("p1", nil)
	defer sub.Close()

	h.Publish(Event{Type: TypeSignalApproved, ProfileID: "p2"})

	select {
	case ev := <-sub.Events():
		t.Fatalf("expected no event for p1, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := h.Subscribe("p1", []Type{TypeAccountUpdate})
	defer sub.Close()

	h.Publish(Event{Type: TypeSignalApproved, ProfileID: "p1"})
	h.Publish(Event{Type: TypeAccountUpdate, ProfileID: "p1"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeAccountUpdate, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected second event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNonBlockingOnOverflow(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	sub := h.Subscribe("p1", nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < outboxSize*2; i++ {
			h.Publish(Event{Type: TypeSignalApproved, ProfileID: "p1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The subscriber should have been dropped once its outbox filled.
	_, stillOpen := <-sub.Events()
	require.NotPanics(t, func() {})
	_ = stillOpen
}

func TestBroadcastDeliversToBroadcastSubscribersOnly(t *testing.T) {
	h := newTestHub()
	defer h.Stop()

	profileSub := h.Subscribe("p1", nil)
	defer profileSub.Close()
	adminSub := h.SubscribeBroadcast()
	defer adminSub.Close()

	h.PublishBroadcast(Event{Type: TypeSystemMessage})

	select {
	case ev := <-adminSub.Events():
		assert.Equal(t, TypeSystemMessage, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast event on admin subscriber")
	}

	select {
	case ev := <-profileSub.Events():
		t.Fatalf("profile subscriber should not receive broadcast, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
