package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/pool"
)

// AccountSyncReconciler snapshots balance/equity/margin for every live
// handle and publishes account_update, refreshing the handle's heartbeat so
// idle eviction doesn't reap an actively-trading profile.
type AccountSyncReconciler struct {
	pool     *pool.Pool
	repo     domain.ProfileRepository
	hub      *events.Hub
	clock    clock.Clock
	drawdown DrawdownObserver
	log      zerolog.Logger
}

// DrawdownObserver is the subset of the emergency DrawdownController the
// account-sync reconciler feeds: each fresh snapshot flows into the
// drawdown controller so panic state stays current between submissions.
type DrawdownObserver interface {
	Observe(profileID string, snapshot domain.AccountSnapshot, maxDrawdown float64) domain.PanicState
}

func NewAccountSyncReconciler(p *pool.Pool, repo domain.ProfileRepository, hub *events.Hub, drawdown DrawdownObserver, c clock.Clock, log zerolog.Logger) *AccountSyncReconciler {
	return &AccountSyncReconciler{pool: p, repo: repo, hub: hub, drawdown: drawdown, clock: c, log: log.With().Str("component", "account_sync_reconciler").Logger()}
}

func (r *AccountSyncReconciler) Name() string { return "account_sync_reconciler" }

func (r *AccountSyncReconciler) Run() {
	ctx := context.Background()
	for _, h := range r.pool.All() {
		if h.State != domain.ConnLive {
			continue
		}
		r.syncProfile(ctx, h.ProfileID)
	}
}

func (r *AccountSyncReconciler) syncProfile(ctx context.Context, profileID string) {
	client, ok := r.pool.Client(profileID)
	if !ok {
		return
	}
	account, err := client.QueryAccount(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("query account failed")
		r.pool.MarkDegraded(profileID)
		return
	}

	snap := domain.AccountSnapshot{
		Balance: account.Balance, Equity: account.Equity, Margin: account.Margin,
		FreeMargin: account.FreeMargin, Currency: account.Currency, AsOf: r.clock.Now(),
	}
	r.pool.MarkHeartbeat(profileID, snap)

	if r.drawdown != nil && r.repo != nil {
		if profile, err := r.repo.GetProfile(ctx, profileID); err == nil {
			r.drawdown.Observe(profileID, snap, profile.Gate.MaxDrawdownToTrade)
		}
	}

	if r.hub != nil {
		r.hub.Publish(events.Event{
			Type: events.TypeAccountUpdate, ProfileID: profileID, Timestamp: r.clock.Now(),
			Payload: map[string]any{"balance": snap.Balance, "equity": snap.Equity, "margin": snap.Margin},
		})
	}
}
