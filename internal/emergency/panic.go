package emergency

import (
	"context"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

// CloseHook invokes the broker adapter's close/hedge call for one profile's
// open positions. Supplied by whatever wires the adapter factory; the
// controller never talks to a broker directly.
type CloseHook func(ctx context.Context, profileID string) error

// PanicHedge raises PanicState manually or via a volatility trigger rule,
// calls the close/hedge hook, and holds a cooldown during which the gate's
// panic_not_active check keeps failing even if the trigger has recovered.
type PanicHedge struct {
	registry *Registry
	clock    clock.Clock
	closeFn  CloseHook
	cooldown time.Duration

	mu     sync.Mutex
	prices map[string][]float64
}

func NewPanicHedge(registry *Registry, c clock.Clock, closeFn CloseHook, cooldown time.Duration) *PanicHedge {
	return &PanicHedge{
		registry: registry,
		clock:    c,
		closeFn:  closeFn,
		cooldown: cooldown,
		prices:   make(map[string][]float64),
	}
}

// TriggerManual activates the hedge immediately, bypassing the volatility
// rule. Used by the admin "panic" RPC.
func (p *PanicHedge) TriggerManual(ctx context.Context, profileID string) (domain.PanicState, error) {
	return p.fire(ctx, profileID, domain.PanicManual)
}

// ObservePrice feeds one tick price into the profile's rolling window and
// evaluates the flash-crash/vol-spike trigger rule. The rule computes a
// short realised-volatility band with go-talib's StdDev over the retained
// price series: a latest single-tick relative move larger than
// volSpikeMultiplier times the latest StdDev fires a vol-spike, and one
// larger than twice that fires a flash-crash. A vol-spike or flash-crash
// state is reset once its cooldown has passed without a further spike.
func (p *PanicHedge) ObservePrice(ctx context.Context, profileID string, price float64, window int, volSpikeMultiplier float64) (domain.PanicState, error) {
	p.mu.Lock()
	series := append(p.prices[profileID], price)
	if len(series) > window*4 {
		series = series[len(series)-window*4:]
	}
	p.prices[profileID] = series
	p.mu.Unlock()

	if len(series) < window+1 {
		return p.registry.Get(profileID), nil
	}

	stddev := talib.StdDev(series, window, 1)
	latest := stddev[len(stddev)-1]
	prevPrice := series[len(series)-2]
	if prevPrice == 0 {
		return p.registry.Get(profileID), nil
	}

	lastMove := (series[len(series)-1] - prevPrice) / prevPrice
	if lastMove < 0 {
		lastMove = -lastMove
	}

	trigger := domain.PanicVolSpike
	if latest > 0 && lastMove > volSpikeMultiplier*latest {
		if lastMove > 2*volSpikeMultiplier*latest {
			trigger = domain.PanicFlashCrash
		}
		return p.fire(ctx, profileID, trigger)
	}

	if existing := p.registry.Get(profileID); existing.Trigger == domain.PanicVolSpike || existing.Trigger == domain.PanicFlashCrash {
		if p.clock.Now().After(existing.CooldownUntil) {
			p.registry.Reset(profileID)
		}
	}
	return p.registry.Get(profileID), nil
}

func (p *PanicHedge) fire(ctx context.Context, profileID string, trigger domain.PanicTrigger) (domain.PanicState, error) {
	state := p.registry.Trigger(profileID, trigger, p.cooldown)
	if p.closeFn != nil {
		if err := p.closeFn(ctx, profileID); err != nil {
			return state, err
		}
	}
	return state, nil
}
