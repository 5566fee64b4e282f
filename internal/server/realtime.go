package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quantgate/signalgate/internal/events"
)

// clientMessage is one frame the realtime client can send.
type clientMessage struct {
	Op     string   `json:"op"`
	Events []string `json:"events,omitempty"`
}

// handleRealtime upgrades to a per-profile bidirectional channel. The
// subscription carries every event type for the profile for the lifetime of
// the socket; subscribe/unsubscribe frames do not narrow it.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	tenant := tenantFrom(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.Subscribe(profileID, nil)
	defer sub.Close()

	_ = wsjson.Write(ctx, conn, events.Event{
		Type: events.TypeConnected, ProfileID: profileID, Timestamp: s.clock.Now(),
		Payload: map[string]any{"tenant_id": tenant.ID},
	})

	go s.realtimeReadLoop(ctx, cancel, conn, profileID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) realtimeReadLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, profileID string) {
	defer cancel()
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		switch msg.Op {
		case "ping":
			_ = wsjson.Write(ctx, conn, events.Event{Type: events.TypePong, ProfileID: profileID, Timestamp: s.clock.Now()})
		case "request_positions":
			s.writePositionsSnapshot(ctx, conn, profileID)
		case "request_account":
			s.writeAccountSnapshot(ctx, conn, profileID)
		case "auth", "subscribe", "unsubscribe":
			// Subscription-type narrowing and re-auth mid-connection are not
			// implemented: one connection carries one profile's full event
			// set for the lifetime of the socket.
		}
	}
}

func (s *Server) writePositionsSnapshot(ctx context.Context, conn *websocket.Conn, profileID string) {
	positions, err := s.repo.GetOpenPositions(ctx, profileID)
	if err != nil {
		_ = wsjson.Write(ctx, conn, events.Event{Type: events.TypeError, ProfileID: profileID, Timestamp: s.clock.Now(), Payload: map[string]any{"error": err.Error()}})
		return
	}
	_ = wsjson.Write(ctx, conn, events.Event{
		Type: events.TypePositionsSnapshot, ProfileID: profileID, Timestamp: s.clock.Now(),
		Payload: map[string]any{"positions": positions},
	})
}

func (s *Server) writeAccountSnapshot(ctx context.Context, conn *websocket.Conn, profileID string) {
	profile, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		_ = wsjson.Write(ctx, conn, events.Event{Type: events.TypeError, ProfileID: profileID, Timestamp: s.clock.Now(), Payload: map[string]any{"error": err.Error()}})
		return
	}
	_ = wsjson.Write(ctx, conn, events.Event{
		Type: events.TypeAccountSnapshot, ProfileID: profileID, Timestamp: s.clock.Now(),
		Payload: map[string]any{"snapshot": profile.Snapshot},
	})
}
