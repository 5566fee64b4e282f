package reconcile

import (
	"context"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/pool"
)

// CredentialSource resolves the decrypted credential needed to reconnect a
// degraded profile. Credential-at-rest decryption is out of scope for this
// module; the reconciler consumes it as a narrow capability.
type CredentialSource interface {
	Credential(ctx context.Context, profileID string) (domain.BrokerCredential, error)
}

// ConnectionHealthReconciler observes pool stats and, for any degraded
// handle, calls Pool.Reconnect on every cycle. It does not apply
// Pool.Backoff between attempts; the pool's MaxReconnectAttempts bounds
// how many cycles it retries before the handle is closed.
type ConnectionHealthReconciler struct {
	pool  *pool.Pool
	creds CredentialSource
	hub   *events.Hub
	clock clock.Clock
	log   zerolog.Logger
}

func NewConnectionHealthReconciler(p *pool.Pool, creds CredentialSource, hub *events.Hub, c clock.Clock, log zerolog.Logger) *ConnectionHealthReconciler {
	return &ConnectionHealthReconciler{pool: p, creds: creds, hub: hub, clock: c, log: log.With().Str("component", "connection_health_reconciler").Logger()}
}

func (r *ConnectionHealthReconciler) Name() string { return "connection_health_reconciler" }

func (r *ConnectionHealthReconciler) Run() {
	ctx := context.Background()
	for _, h := range r.pool.All() {
		if h.State != domain.ConnDegraded {
			continue
		}
		r.reconnect(ctx, h.ProfileID)
	}
}

func (r *ConnectionHealthReconciler) reconnect(ctx context.Context, profileID string) {
	cred, err := r.creds.Credential(ctx, profileID)
	if err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("credential lookup failed, skipping reconnect this cycle")
		return
	}
	if err := r.pool.Reconnect(ctx, profileID, cred); err != nil {
		r.log.Warn().Err(err).Str("profile_id", profileID).Msg("reconnect attempt failed")
		if r.hub != nil {
			payload := map[string]any{"error": err.Error()}
			for k, v := range hostPressure() {
				payload[k] = v
			}
			r.hub.Publish(events.Event{
				Type: events.TypeConnectionLost, ProfileID: profileID, Timestamp: r.clock.Now(),
				Payload: payload,
			})
		}
	}
}

// hostPressure attaches goroutine/fd/memory figures to a connection_lost
// alert so an operator can tell "broker down" from "this box is dying"
// before paging anyone.
func hostPressure() map[string]any {
	out := map[string]any{"goroutines": runtime.NumGoroutine()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if n, err := proc.NumFDs(); err == nil {
			out["open_fds"] = n
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["mem_used_percent"] = vm.UsedPercent
	}
	return out
}
