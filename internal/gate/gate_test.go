package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/domain"
)

func baseInput() Input {
	now := time.Now()
	return Input{
		Signal: domain.Signal{
			Confidence: 0.8,
		},
		Profile: domain.Profile{
			Connected:      true,
			TradingEnabled: true,
			Gate:           domain.NewDefaultGateConfig(),
			Snapshot:       domain.AccountSnapshot{Balance: 1000, Equity: 950},
		},
		OpenPositions:  1,
		DecisionsToday: 1,
		Now:            now,
	}
}

func TestDefaultChainApprovesHealthyInput(t *testing.T) {
	e := New(DefaultChain())
	checks := e.EvaluateAll(baseInput())
	require.Len(t, checks, 7)
	assert.True(t, Approved(checks))
	assert.Empty(t, FailureReasons(checks))
}

func TestTradingDisabledRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.Profile.TradingEnabled = false
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
	assert.Contains(t, FailureReasons(checks), "not ready to trade")
}

func TestPanicActiveRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.PanicActive = true
	in.PanicTrigger = domain.PanicManual
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestConfidenceBelowMinimumRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.Signal.Confidence = 0.1
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestPositionLimitAtCapRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.OpenPositions = in.Profile.Gate.MaxConcurrentPositions
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestDrawdownOverLimitRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.Profile.Snapshot = domain.AccountSnapshot{Balance: 1000, Equity: 700}
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestDailyLimitAtCapRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.DecisionsToday = in.Profile.Gate.MaxDailySignals
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestFreshnessExpiredRejects(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	past := in.Now.Add(-time.Minute)
	in.Signal.ValidUntil = &past
	checks := e.EvaluateAll(in)
	assert.False(t, Approved(checks))
}

func TestFreshnessNoDeadlinePasses(t *testing.T) {
	e := New(DefaultChain())
	in := baseInput()
	in.Signal.ValidUntil = nil
	checks := e.EvaluateAll(in)
	assert.True(t, Approved(checks))
}
