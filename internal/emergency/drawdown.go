package emergency

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
)

// DrawdownController watches the account-update stream per profile and
// trips PanicState when equity falls too far from its observed peak.
type DrawdownController struct {
	registry *Registry
	clock    clock.Clock
	cooldown time.Duration

	mu      sync.Mutex
	history map[string][]float64
}

func NewDrawdownController(registry *Registry, c clock.Clock, cooldown time.Duration) *DrawdownController {
	return &DrawdownController{
		registry: registry,
		clock:    c,
		cooldown: cooldown,
		history:  make(map[string][]float64),
	}
}

// Observe feeds one account snapshot through the controller. It updates the
// profile's peak-equity tracker and trips PanicState when the drawdown from
// peak exceeds maxDrawdown. The peak is the maximum of the retained equity
// series (up to the last 500 observations), computed by runningMax.
func (d *DrawdownController) Observe(profileID string, snapshot domain.AccountSnapshot, maxDrawdown float64) domain.PanicState {
	d.mu.Lock()
	series := append(d.history[profileID], snapshot.Equity)
	const maxWindow = 500
	if len(series) > maxWindow {
		series = series[len(series)-maxWindow:]
	}
	d.history[profileID] = series
	d.mu.Unlock()

	peak := runningMax(series)
	if peak <= 0 {
		return d.registry.Get(profileID)
	}

	drop := (peak - snapshot.Equity) / peak
	if drop > maxDrawdown {
		return d.registry.Trigger(profileID, domain.PanicDrawdown, d.cooldown)
	}

	if d.registry.Get(profileID).Trigger == domain.PanicDrawdown {
		d.registry.Recover(profileID)
	}
	return d.registry.Get(profileID)
}

// PeakEquity returns the highest equity value observed for a profile in its
// retained window (via runningMax) together with the window's mean (via
// gonum/stat's Mean), for the admin dashboard aggregates.
func (d *DrawdownController) PeakEquity(profileID string) (peak, mean float64) {
	d.mu.Lock()
	series := append([]float64(nil), d.history[profileID]...)
	d.mu.Unlock()
	if len(series) == 0 {
		return 0, 0
	}
	return runningMax(series), stat.Mean(series, nil)
}

func runningMax(series []float64) float64 {
	peak := series[0]
	for _, v := range series[1:] {
		if v > peak {
			peak = v
		}
	}
	return peak
}
