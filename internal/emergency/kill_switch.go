package emergency

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
)

// KillSwitch flips a profile to trading-disabled, flushes its open
// positions through the adapter's close hook, and emits a critical alert.
// Re-enablement is a distinct admin action (Reenable); Activate itself
// never re-enables.
type KillSwitch struct {
	repo    domain.ProfileRepository
	events  *events.Hub
	systems domain.SystemEventRepository
	clock   clock.Clock
	closeFn CloseHook
}

func NewKillSwitch(repo domain.ProfileRepository, systems domain.SystemEventRepository, hub *events.Hub, c clock.Clock, closeFn CloseHook) *KillSwitch {
	return &KillSwitch{repo: repo, systems: systems, events: hub, clock: c, closeFn: closeFn}
}

// Activate disables trading on profileID, invokes the close hook to flush
// pending orders, and records+publishes a critical alert. It is idempotent:
// activating an already-disabled profile still flushes positions (the
// adapter call is cheap and safe to repeat) but does not duplicate the
// alert beyond one per call.
func (k *KillSwitch) Activate(ctx context.Context, profileID, reason string) error {
	profile, err := k.repo.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("kill switch: load profile: %w", err)
	}

	profile.TradingEnabled = false
	if err := k.repo.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("kill switch: disable trading: %w", err)
	}

	var flushErr error
	if k.closeFn != nil {
		flushErr = k.closeFn(ctx, profileID)
	}

	alert := domain.SystemEvent{
		ID:        uuid.NewString(),
		Type:      "kill_switch_activated",
		Severity:  domain.SeverityCritical,
		Source:    "emergency.kill_switch",
		TenantID:  profile.TenantID,
		ProfileID: profileID,
		Message:   fmt.Sprintf("kill switch activated: %s", reason),
		Details:   map[string]any{"reason": reason},
		CreatedAt: k.clock.Now(),
	}
	if flushErr != nil {
		alert.Details["flush_error"] = flushErr.Error()
	}

	if k.systems != nil {
		if err := k.systems.AppendSystemEvent(ctx, alert); err != nil {
			return fmt.Errorf("kill switch: append alert: %w", err)
		}
	}
	if k.events != nil {
		k.events.Publish(events.Event{
			Type:      events.TypeKillSwitchActivated,
			ProfileID: profileID,
			Timestamp: k.clock.Now(),
			Payload:   map[string]any{"reason": reason, "alert_id": alert.ID},
		})
	}
	return flushErr
}

// Reenable is the distinct admin action that restores trading. It does not
// clear PanicState — an operator who also wants the panic gate unblocked
// must call Registry.Reset separately.
func (k *KillSwitch) Reenable(ctx context.Context, profileID string) error {
	profile, err := k.repo.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("kill switch: load profile: %w", err)
	}
	profile.TradingEnabled = true
	return k.repo.SaveProfile(ctx, profile)
}
