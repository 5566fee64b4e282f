package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/pool"
)

// PositionReconciler diffs each live profile's broker positions against
// stored rows: matched, drift, missing_local, missing_remote, or stale.
// Drift is corrected in place; missing_local rows are created; stale
// missing_remote rows older than the grace period are closed.
type PositionReconciler struct {
	pool    *pool.Pool
	repo    domain.PositionRepository
	hub     *events.Hub
	systems domain.SystemEventRepository
	clock   clock.Clock
	grace   time.Duration
	log     zerolog.Logger

	missingRemoteSince map[string]time.Time
}

func NewPositionReconciler(p *pool.Pool, repo domain.PositionRepository, systems domain.SystemEventRepository, hub *events.Hub, c clock.Clock, grace time.Duration, log zerolog.Logger) *PositionReconciler {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &PositionReconciler{
		pool: p, repo: repo, systems: systems, hub: hub, clock: c, grace: grace,
		log:                log.With().Str("component", "position_reconciler").Logger(),
		missingRemoteSince: make(map[string]time.Time),
	}
}

func (r *PositionReconciler) Name() string { return "position_reconciler" }

func (r *PositionReconciler) Run() {
	ctx := context.Background()
	for _, h := range r.pool.All() {
		if h.State != domain.ConnLive {
			continue
		}
		r.reconcileProfile(ctx, h.ProfileID)
	}
}

func (r *PositionReconciler) reconcileProfile(ctx context.Context, profileID string) {
	client, ok := r.pool.Client(profileID)
	if !ok {
		return
	}
	brokerPositions, err := client.ListPositions(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("list positions failed")
		return
	}
	localPositions, err := r.repo.GetOpenPositions(ctx, profileID)
	if err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("load local positions failed")
		return
	}

	byTicket := make(map[string]domain.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		byTicket[bp.Ticket] = bp
	}
	localByTicket := make(map[string]domain.Position, len(localPositions))
	for _, lp := range localPositions {
		localByTicket[lp.Ticket] = lp
	}

	for ticket, bp := range byTicket {
		key := profileID + "/" + ticket
		lp, exists := localByTicket[ticket]
		if !exists {
			r.createLocal(ctx, profileID, bp)
			continue
		}
		delete(r.missingRemoteSince, key)
		if lp.CurrentPrice != bp.CurrentPrice || lp.RealizedPnL != bp.RealizedPnL || lp.UnrealizedPnL != bp.UnrealizedPnL {
			r.correctDrift(ctx, lp, bp)
		}
	}

	for ticket, lp := range localByTicket {
		if _, onBroker := byTicket[ticket]; onBroker {
			continue
		}
		key := profileID + "/" + ticket
		first, seen := r.missingRemoteSince[key]
		if !seen {
			r.missingRemoteSince[key] = r.clock.Now()
			continue
		}
		if r.clock.Now().Sub(first) >= r.grace {
			r.closeStale(ctx, lp)
			delete(r.missingRemoteSince, key)
		}
	}
}

func (r *PositionReconciler) createLocal(ctx context.Context, profileID string, bp domain.BrokerPosition) {
	p := domain.Position{
		ProfileID: profileID, Ticket: bp.Ticket, Symbol: bp.Symbol,
		Side: domain.PositionSide(bp.Side), Size: bp.Size, OpenPrice: bp.OpenPrice,
		CurrentPrice: bp.CurrentPrice, StopLoss: bp.StopLoss, TakeProfit: bp.TakeProfit,
		RealizedPnL: bp.RealizedPnL, UnrealizedPnL: bp.UnrealizedPnL, Status: domain.PositionOpen,
		OpenTime: bp.OpenTime, UpdatedAt: r.clock.Now(),
	}
	if err := r.repo.UpsertPosition(ctx, p); err != nil {
		r.log.Error().Err(err).Str("profile_id", profileID).Str("ticket", bp.Ticket).Msg("create local position failed")
		return
	}
	r.publish(profileID, events.TypePositionUpdate, bp.Ticket)
}

func (r *PositionReconciler) correctDrift(ctx context.Context, lp domain.Position, bp domain.BrokerPosition) {
	lp.CurrentPrice = bp.CurrentPrice
	lp.RealizedPnL = bp.RealizedPnL
	lp.UnrealizedPnL = bp.UnrealizedPnL
	lp.StopLoss = bp.StopLoss
	lp.TakeProfit = bp.TakeProfit
	lp.UpdatedAt = r.clock.Now()
	if err := r.repo.UpsertPosition(ctx, lp); err != nil {
		r.log.Error().Err(err).Str("profile_id", lp.ProfileID).Str("ticket", lp.Ticket).Msg("drift correction failed")
		return
	}
	r.publish(lp.ProfileID, events.TypePositionUpdate, lp.Ticket)
}

func (r *PositionReconciler) closeStale(ctx context.Context, lp domain.Position) {
	if err := r.repo.ClosePosition(ctx, lp.ProfileID, lp.Ticket); err != nil {
		r.log.Error().Err(err).Str("profile_id", lp.ProfileID).Str("ticket", lp.Ticket).Msg("close stale position failed")
		return
	}
	_ = r.repo.ArchiveToHistory(ctx, lp)
	r.publish(lp.ProfileID, events.TypePositionClosed, lp.Ticket)
}

func (r *PositionReconciler) publish(profileID string, t events.Type, ticket string) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(events.Event{
		Type:      t,
		ProfileID: profileID,
		Timestamp: r.clock.Now(),
		Payload:   map[string]any{"ticket": ticket},
	})
}
