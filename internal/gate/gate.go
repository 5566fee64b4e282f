// Package gate evaluates a signal against a profile's risk configuration
// through an ordered chain of checks. Every gate always runs — unlike a
// first-failure-stops validator — so a rejection always carries the
// complete set of reasons for audit purposes.
package gate

import (
	"fmt"
	"time"

	"github.com/quantgate/signalgate/internal/domain"
)

// Input is everything a Gate needs to evaluate one signal. It is built once
// per submission by the ingress pipeline from a consistent snapshot (open
// position count, today's decision count, panic state) so that every gate
// in the chain observes the same point-in-time view.
type Input struct {
	Signal         domain.Signal
	Profile        domain.Profile
	PanicActive    bool
	PanicTrigger   domain.PanicTrigger
	OpenPositions  int
	DecisionsToday int
	Now            time.Time
}

// Gate is one pass/fail check in the chain.
type Gate interface {
	Name() string
	Evaluate(in Input) domain.GateCheck
}

// Evaluator runs the registered gates, in order, against one Input.
// Gates are registered at startup; extending the chain never touches
// Evaluator.EvaluateAll, only the registry passed to New.
type Evaluator struct {
	gates []Gate
}

// New builds an Evaluator from an ordered gate list. DefaultChain returns
// the standard seven-gate order described in the component design.
func New(gates []Gate) *Evaluator {
	return &Evaluator{gates: gates}
}

// EvaluateAll runs every registered gate and returns the full check list.
// The overall outcome is approved iff every check passed — callers derive
// that themselves (Approved helper below) rather than EvaluateAll short
// circuiting.
func (e *Evaluator) EvaluateAll(in Input) []domain.GateCheck {
	checks := make([]domain.GateCheck, 0, len(e.gates))
	for _, g := range e.gates {
		checks = append(checks, g.Evaluate(in))
	}
	return checks
}

// Approved reports whether every check in the list passed.
func Approved(checks []domain.GateCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// FailureReasons concatenates the reasons of failing checks, in chain order.
func FailureReasons(checks []domain.GateCheck) string {
	reason := ""
	for _, c := range checks {
		if c.Passed {
			continue
		}
		if reason != "" {
			reason += "; "
		}
		reason += c.Reason
	}
	return reason
}

// DefaultChain returns the seven gates in the spec's required order:
// trading_enabled, panic_not_active, confidence, position_limit, drawdown,
// daily_limit, freshness.
func DefaultChain() []Gate {
	return []Gate{
		tradingEnabledGate{},
		panicNotActiveGate{},
		confidenceGate{},
		positionLimitGate{},
		drawdownGate{},
		dailyLimitGate{},
		freshnessGate{},
	}
}

type tradingEnabledGate struct{}

func (tradingEnabledGate) Name() string { return "trading_enabled" }

func (tradingEnabledGate) Evaluate(in Input) domain.GateCheck {
	passed := in.Profile.Connected && in.Profile.TradingEnabled
	reason := "profile is connected and trading-enabled"
	if !passed {
		reason = fmt.Sprintf("profile not ready to trade (connected=%t trading_enabled=%t)", in.Profile.Connected, in.Profile.TradingEnabled)
	}
	return domain.GateCheck{Name: "trading_enabled", Passed: passed, Reason: reason}
}

type panicNotActiveGate struct{}

func (panicNotActiveGate) Name() string { return "panic_not_active" }

func (panicNotActiveGate) Evaluate(in Input) domain.GateCheck {
	if !in.PanicActive {
		return domain.GateCheck{Name: "panic_not_active", Passed: true, Reason: "no active panic state"}
	}
	return domain.GateCheck{
		Name:   "panic_not_active",
		Passed: false,
		Reason: fmt.Sprintf("panic state active: %s", in.PanicTrigger),
	}
}

type confidenceGate struct{}

func (confidenceGate) Name() string { return "confidence" }

func (confidenceGate) Evaluate(in Input) domain.GateCheck {
	min := in.Profile.Gate.MinConfidence
	passed := in.Signal.Confidence >= min
	reason := fmt.Sprintf("%.2f >= %.2f", in.Signal.Confidence, min)
	if !passed {
		reason = fmt.Sprintf("%.2f < %.2f", in.Signal.Confidence, min)
	}
	return domain.GateCheck{Name: "confidence", Passed: passed, Reason: reason}
}

type positionLimitGate struct{}

func (positionLimitGate) Name() string { return "position_limit" }

func (positionLimitGate) Evaluate(in Input) domain.GateCheck {
	max := in.Profile.Gate.MaxConcurrentPositions
	passed := in.OpenPositions < max
	reason := fmt.Sprintf("%d open positions < limit %d", in.OpenPositions, max)
	if !passed {
		reason = fmt.Sprintf("%d open positions at limit %d", in.OpenPositions, max)
	}
	return domain.GateCheck{Name: "position_limit", Passed: passed, Reason: reason}
}

type drawdownGate struct{}

func (drawdownGate) Name() string { return "drawdown" }

func (drawdownGate) Evaluate(in Input) domain.GateCheck {
	balance := in.Profile.Snapshot.Balance
	equity := in.Profile.Snapshot.Equity
	limit := in.Profile.Gate.MaxDrawdownToTrade

	if balance <= 0 {
		return domain.GateCheck{Name: "drawdown", Passed: true, Reason: "non-positive balance treated as pass"}
	}

	dd := (balance - equity) / balance
	passed := dd < limit
	reason := fmt.Sprintf("drawdown %.4f < limit %.4f", dd, limit)
	if !passed {
		reason = fmt.Sprintf("drawdown %.4f >= limit %.4f", dd, limit)
	}
	return domain.GateCheck{Name: "drawdown", Passed: passed, Reason: reason}
}

type dailyLimitGate struct{}

func (dailyLimitGate) Name() string { return "daily_limit" }

func (dailyLimitGate) Evaluate(in Input) domain.GateCheck {
	max := in.Profile.Gate.MaxDailySignals
	passed := in.DecisionsToday < max
	reason := fmt.Sprintf("%d signals today < cap %d", in.DecisionsToday, max)
	if !passed {
		reason = fmt.Sprintf("%d signals today at cap %d", in.DecisionsToday, max)
	}
	return domain.GateCheck{Name: "daily_limit", Passed: passed, Reason: reason}
}

type freshnessGate struct{}

func (freshnessGate) Name() string { return "freshness" }

func (freshnessGate) Evaluate(in Input) domain.GateCheck {
	if in.Signal.ValidUntil == nil {
		return domain.GateCheck{Name: "freshness", Passed: true, Reason: "no valid-until set"}
	}
	passed := in.Now.Before(*in.Signal.ValidUntil)
	reason := "valid-until in the future"
	if !passed {
		reason = "valid-until has passed"
	}
	return domain.GateCheck{Name: "freshness", Passed: passed, Reason: reason}
}
