// Package admin implements the Admin Plane: read-only projections over
// tenants, profiles, and alerts, plus the handful of mutations an operator
// can take (suspend, force-disconnect, acknowledge, broadcast), every one of
// them passing through the single authorise choke point first.
package admin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/emergency"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/pool"
)

// Plane wires the repository, connection pool, and event hub behind the
// admin projections/mutations surface.
type Plane struct {
	repo       domain.Repository
	pool       *pool.Pool
	hub        *events.Hub
	clock      clock.Clock
	ids        clock.IDMinter
	log        zerolog.Logger
	killSwitch *emergency.KillSwitch
	panicHedge *emergency.PanicHedge
	drawdown   *emergency.DrawdownController
}

func New(repo domain.Repository, p *pool.Pool, hub *events.Hub, c clock.Clock, ids clock.IDMinter, log zerolog.Logger) *Plane {
	return &Plane{repo: repo, pool: p, hub: hub, clock: c, ids: ids, log: log.With().Str("component", "admin_plane").Logger()}
}

// WithEmergencyControls attaches the kill switch, panic hedge, and drawdown
// controller so the admin plane can expose Activate/Reenable/TriggerPanic
// plus the dashboard's equity aggregates. Optional: a Plane built without
// this call simply rejects the three mutations and omits the aggregates.
func (p *Plane) WithEmergencyControls(ks *emergency.KillSwitch, ph *emergency.PanicHedge, dc *emergency.DrawdownController) *Plane {
	p.killSwitch = ks
	p.panicHedge = ph
	p.drawdown = dc
	return p
}

// Forbidden is returned when authorise denies a mutation.
type Forbidden struct{ Reason string }

func (f *Forbidden) Error() string { return fmt.Sprintf("forbidden: %s", f.Reason) }

func (p *Plane) actorFor(ctx context.Context, callerTenantID string) (actor, error) {
	t, err := p.repo.GetTenant(ctx, callerTenantID)
	if err != nil {
		return actor{}, err
	}
	return actor{TenantID: t.ID, IsAdmin: t.IsAdmin}, nil
}

// --- Projections -----------------------------------------------------------

// Dashboard aggregates the headline counters an operator lands on.
type Dashboard struct {
	TotalTenants     int `json:"total_tenants"`
	ActiveTenants    int `json:"active_tenants"`
	TotalProfiles    int `json:"total_profiles"`
	ConnectedProfiles int `json:"connected_profiles"`
	TradingEnabled   int `json:"trading_enabled"`
	UnacknowledgedAlerts int `json:"unacknowledged_alerts"`
	PoolStats        pool.Stats `json:"pool_stats"`

	// EquityPeakAvg and EquityMeanAvg summarize the drawdown controller's
	// retained equity series across every profile with observed history.
	// Zero (and TrackedEquityProfiles == 0) when no drawdown controller is
	// wired or no profile has reported an account snapshot yet.
	EquityPeakAvg          float64 `json:"equity_peak_avg,omitempty"`
	EquityMeanAvg          float64 `json:"equity_mean_avg,omitempty"`
	TrackedEquityProfiles  int     `json:"tracked_equity_profiles,omitempty"`
}

func (p *Plane) Dashboard(ctx context.Context) (Dashboard, error) {
	tenants, err := p.repo.ListTenants(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	profiles, err := p.repo.ListAllProfiles(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	ack := false
	alerts, err := p.repo.ListSystemEvents(ctx, domain.SystemEventFilter{Acknowledged: &ack})
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{TotalTenants: len(tenants), TotalProfiles: len(profiles), UnacknowledgedAlerts: len(alerts)}
	if p.pool != nil {
		d.PoolStats = p.pool.Stats()
	}
	for _, t := range tenants {
		if t.Active() {
			d.ActiveTenants++
		}
	}
	var peakSum, meanSum float64
	for _, pr := range profiles {
		if pr.Connected {
			d.ConnectedProfiles++
		}
		if pr.TradingEnabled {
			d.TradingEnabled++
		}
		if p.drawdown == nil {
			continue
		}
		peak, mean := p.drawdown.PeakEquity(pr.ID)
		if peak <= 0 {
			continue
		}
		peakSum += peak
		meanSum += mean
		d.TrackedEquityProfiles++
	}
	if d.TrackedEquityProfiles > 0 {
		d.EquityPeakAvg = peakSum / float64(d.TrackedEquityProfiles)
		d.EquityMeanAvg = meanSum / float64(d.TrackedEquityProfiles)
	}
	return d, nil
}

// UserFilter scopes the Users projection.
type UserFilter struct {
	Search string // matches email substring, case-insensitive
	Tier   domain.Tier
}

func (p *Plane) Users(ctx context.Context, f UserFilter) ([]domain.Tenant, error) {
	tenants, err := p.repo.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := tenants[:0:0]
	search := strings.ToLower(f.Search)
	for _, t := range tenants {
		if f.Tier != "" && t.Tier != f.Tier {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Email), search) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// ProfileFilter scopes the Profiles projection.
type ProfileFilter struct {
	TenantID         string
	ConnectionState  string // "connected", "disconnected", or "" for any
	Broker           string
}

func (p *Plane) Profiles(ctx context.Context, f ProfileFilter) ([]domain.Profile, error) {
	var (
		profiles []domain.Profile
		err      error
	)
	if f.TenantID != "" {
		profiles, err = p.repo.ListProfiles(ctx, f.TenantID)
	} else {
		profiles, err = p.repo.ListAllProfiles(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := profiles[:0:0]
	for _, pr := range profiles {
		if f.Broker != "" && pr.BrokerServer != f.Broker {
			continue
		}
		switch f.ConnectionState {
		case "connected":
			if !pr.Connected {
				continue
			}
		case "disconnected":
			if pr.Connected {
				continue
			}
		}
		out = append(out, pr)
	}
	return out, nil
}

// Alerts is the filtered system-events projection.
func (p *Plane) Alerts(ctx context.Context, f domain.SystemEventFilter) ([]domain.SystemEvent, error) {
	return p.repo.ListSystemEvents(ctx, f)
}

// --- Mutations ---------------------------------------------------------

// UserPatch is the subset of a Tenant an admin may update.
type UserPatch struct {
	Tier    *domain.Tier
	Active  *bool
	IsAdmin *bool
}

func (p *Plane) PatchUser(ctx context.Context, callerTenantID, targetTenantID string, patch UserPatch) (domain.Tenant, error) {
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	selfSensitive := (patch.Active != nil && !*patch.Active) || (patch.IsAdmin != nil && !*patch.IsAdmin)
	if d := authorise(a, ActionPatchUser, targetTenantID, selfSensitive); !d.Allow {
		return domain.Tenant{}, &Forbidden{Reason: d.Reason}
	}

	t, err := p.repo.GetTenant(ctx, targetTenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	if patch.Tier != nil {
		t.Tier = *patch.Tier
	}
	if patch.Active != nil {
		if *patch.Active {
			t.Status = domain.TenantActive
		} else {
			t.Status = domain.TenantSuspended
		}
	}
	if patch.IsAdmin != nil {
		t.IsAdmin = *patch.IsAdmin
	}
	if err := p.repo.UpdateTenant(ctx, t); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

func (p *Plane) SuspendTenant(ctx context.Context, callerTenantID, targetTenantID string) error {
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionSuspendTenant, targetTenantID, true); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	if err := p.repo.SuspendTenant(ctx, targetTenantID); err != nil {
		return err
	}

	profiles, err := p.repo.ListProfiles(ctx, targetTenantID)
	if err != nil {
		return err
	}
	for _, pr := range profiles {
		p.forceDisconnectProfile(ctx, pr.ID)
	}
	p.alert(ctx, domain.SeverityWarning, "tenant_suspended", targetTenantID, "", "tenant suspended; all profiles force-disconnected", nil)
	return nil
}

// ProfilePatch is the subset of a Profile an admin may update directly
// (gate tuning and the trading_enabled flag).
type ProfilePatch struct {
	TradingEnabled *bool
	Gate           *domain.GateConfig
}

func (p *Plane) PatchProfile(ctx context.Context, callerTenantID, profileID string, patch ProfilePatch) (domain.Profile, error) {
	pr, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return domain.Profile{}, err
	}
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return domain.Profile{}, err
	}
	if d := authorise(a, ActionPatchProfile, pr.TenantID, false); !d.Allow {
		return domain.Profile{}, &Forbidden{Reason: d.Reason}
	}

	if patch.TradingEnabled != nil {
		pr.TradingEnabled = *patch.TradingEnabled
	}
	if patch.Gate != nil {
		pr.Gate = *patch.Gate
	}
	if err := p.repo.SaveProfile(ctx, pr); err != nil {
		return domain.Profile{}, err
	}
	return pr, nil
}

func (p *Plane) ForceDisconnectProfile(ctx context.Context, callerTenantID, profileID string) error {
	pr, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionForceDisconnect, pr.TenantID, false); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	p.forceDisconnectProfile(ctx, profileID)
	return nil
}

func (p *Plane) forceDisconnectProfile(ctx context.Context, profileID string) {
	if p.pool == nil {
		return
	}
	if err := p.pool.Disconnect(ctx, profileID); err != nil {
		p.log.Warn().Err(err).Str("profile_id", profileID).Msg("force-disconnect failed")
	}
}

func (p *Plane) AcknowledgeAlert(ctx context.Context, callerTenantID, alertID string) error {
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionAcknowledgeAlert, "", false); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	return p.repo.AcknowledgeSystemEvent(ctx, alertID)
}

func (p *Plane) CreateAlert(ctx context.Context, callerTenantID string, sev domain.Severity, alertType, tenantID, profileID, message string, details map[string]any) (domain.SystemEvent, error) {
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return domain.SystemEvent{}, err
	}
	if d := authorise(a, ActionCreateAlert, "", false); !d.Allow {
		return domain.SystemEvent{}, &Forbidden{Reason: d.Reason}
	}
	return p.alert(ctx, sev, alertType, tenantID, profileID, message, details), nil
}

func (p *Plane) alert(ctx context.Context, sev domain.Severity, alertType, tenantID, profileID, message string, details map[string]any) domain.SystemEvent {
	e := domain.SystemEvent{
		ID: p.ids.NewID(), Type: alertType, Severity: sev, Source: "admin",
		TenantID: tenantID, ProfileID: profileID, Message: message, Details: details,
		CreatedAt: p.clock.Now(),
	}
	if err := p.repo.AppendSystemEvent(ctx, e); err != nil {
		p.log.Error().Err(err).Msg("append system event failed")
	}
	return e
}

// ActivateKillSwitch disables trading on one profile immediately and closes
// its open positions via the wired close hook, per the emergency control
// plane's "admin RPC" kill switch.
func (p *Plane) ActivateKillSwitch(ctx context.Context, callerTenantID, profileID, reason string) error {
	if p.killSwitch == nil {
		return &Forbidden{Reason: "kill switch is not configured"}
	}
	pr, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionActivateKillSwitch, pr.TenantID, false); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	return p.killSwitch.Activate(ctx, profileID, reason)
}

// ReenableKillSwitch turns trading back on for a profile the kill switch
// previously disabled. It does not clear panic-hedge state; an operator who
// also wants the panic gate unblocked must acknowledge that separately.
func (p *Plane) ReenableKillSwitch(ctx context.Context, callerTenantID, profileID string) error {
	if p.killSwitch == nil {
		return &Forbidden{Reason: "kill switch is not configured"}
	}
	pr, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionReenableKillSwitch, pr.TenantID, false); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	return p.killSwitch.Reenable(ctx, profileID)
}

// TriggerPanicHedge fires the panic hedge manually, bypassing the
// volatility-spike trigger rule, and returns the resulting panic state.
func (p *Plane) TriggerPanicHedge(ctx context.Context, callerTenantID, profileID string) (domain.PanicState, error) {
	if p.panicHedge == nil {
		return domain.PanicState{}, &Forbidden{Reason: "panic hedge is not configured"}
	}
	pr, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return domain.PanicState{}, err
	}
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return domain.PanicState{}, err
	}
	if d := authorise(a, ActionTriggerPanicHedge, pr.TenantID, false); !d.Allow {
		return domain.PanicState{}, &Forbidden{Reason: d.Reason}
	}
	return p.panicHedge.TriggerManual(ctx, profileID)
}

// Broadcast pushes a system_message to every connected realtime client.
func (p *Plane) Broadcast(ctx context.Context, callerTenantID, message string) error {
	a, err := p.actorFor(ctx, callerTenantID)
	if err != nil {
		return err
	}
	if d := authorise(a, ActionBroadcast, "", false); !d.Allow {
		return &Forbidden{Reason: d.Reason}
	}
	if p.hub != nil {
		p.hub.PublishBroadcast(events.Event{
			Type: events.TypeSystemMessage, Timestamp: p.clock.Now(),
			Payload: map[string]any{"message": message},
		})
	}
	p.alert(ctx, domain.SeverityInfo, "admin_broadcast", "", "", message, nil)
	return nil
}
