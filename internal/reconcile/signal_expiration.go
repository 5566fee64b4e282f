package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
)

// SignalExpirationReconciler sweeps decisions whose valid-until has passed
// while still pending or approved, flips them to expired, and publishes
// signal_expired so any subscriber waiting on the outcome stops waiting.
type SignalExpirationReconciler struct {
	repo  domain.DecisionRepository
	hub   *events.Hub
	clock clock.Clock
	log   zerolog.Logger
}

func NewSignalExpirationReconciler(repo domain.DecisionRepository, hub *events.Hub, c clock.Clock, log zerolog.Logger) *SignalExpirationReconciler {
	return &SignalExpirationReconciler{repo: repo, hub: hub, clock: c, log: log.With().Str("component", "signal_expiration_reconciler").Logger()}
}

func (r *SignalExpirationReconciler) Name() string { return "signal_expiration_reconciler" }

func (r *SignalExpirationReconciler) Run() {
	ctx := context.Background()
	asOf := r.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00")

	expired, err := r.repo.ExpirePending(ctx, asOf)
	if err != nil {
		r.log.Error().Err(err).Msg("expire pending decisions failed")
		return
	}
	if len(expired) == 0 {
		return
	}
	r.log.Info().Int("count", len(expired)).Msg("decisions expired")

	if r.hub == nil {
		return
	}
	for _, d := range expired {
		r.hub.Publish(events.Event{
			Type:      events.TypeSignalExpired,
			ProfileID: d.ProfileID,
			Timestamp: r.clock.Now(),
			Payload:   map[string]any{"decision_id": d.ID, "idempotency_key": d.IdempotencyKey, "chain_id": d.ChainID},
		})
	}
}
