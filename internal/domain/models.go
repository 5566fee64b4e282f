// Package domain holds the core entities of the signal gate and emergency
// control plane: tenants, profiles, signals, decisions, positions, and the
// alert/connection/panic state that surrounds them.
package domain

import (
	"time"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tier names a tenant's service tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierDesk Tier = "desk"
)

// Tenant is the owner of one or more Profiles. Tenants are created and
// authenticated outside this module; the core consumes them by id.
type Tenant struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Status    TenantStatus `json:"status"`
	Tier      Tier         `json:"tier"`
	IsAdmin   bool         `json:"is_admin"`
	CreatedAt time.Time    `json:"created_at"`
}

func (t Tenant) Active() bool { return t.Status == TenantActive }

// GateConfig holds the per-profile tunables consumed by the gate evaluator.
// Every field has a documented default; see NewDefaultGateConfig.
type GateConfig struct {
	MinConfidence            float64        `json:"min_confidence"`
	MaxConcurrentPositions   int            `json:"max_concurrent_positions"`
	MaxDailySignals          int            `json:"max_daily_signals"`
	MaxDrawdownToTrade       float64        `json:"max_drawdown_to_trade"`
	RequirePositiveExpectancy bool          `json:"require_positive_expectancy"`
	RequireRegimeAlignment   bool           `json:"require_regime_alignment"`
	MaxCorrelationExposure   float64        `json:"max_correlation_exposure"`
	NoTradeBeforeNewsMinutes int            `json:"no_trade_before_news_minutes"`
	NoTradeAfterNewsMinutes  int            `json:"no_trade_after_news_minutes"`
	AllowedTradingHours      string         `json:"allowed_trading_hours,omitempty"`
	AllowManualOverride      bool           `json:"allow_manual_override"`
	RequireGuardianApproval  bool           `json:"require_guardian_approval"`
}

// NewDefaultGateConfig returns the documented defaults for a new profile.
func NewDefaultGateConfig() GateConfig {
	return GateConfig{
		MinConfidence:            0.6,
		MaxConcurrentPositions:   5,
		MaxDailySignals:          50,
		MaxDrawdownToTrade:       0.20,
		RequirePositiveExpectancy: false,
		RequireRegimeAlignment:   false,
		MaxCorrelationExposure:   1.0,
		NoTradeBeforeNewsMinutes: 0,
		NoTradeAfterNewsMinutes:  0,
		AllowManualOverride:      true,
		RequireGuardianApproval:  false,
	}
}

// AccountSnapshot is the most recently synced broker account state for a
// profile. The gate's drawdown check reads this snapshot rather than making
// a broker round-trip.
type AccountSnapshot struct {
	Balance    float64   `json:"balance"`
	Equity     float64   `json:"equity"`
	Margin     float64   `json:"margin"`
	FreeMargin float64   `json:"free_margin"`
	PeakEquity float64   `json:"peak_equity"`
	Currency   string    `json:"currency"`
	AsOf       time.Time `json:"as_of"`
}

// Profile is a tenant-owned broker account binding.
type Profile struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	BrokerLogin      string          `json:"broker_login"`
	BrokerServer     string          `json:"broker_server"`
	AccountType      string          `json:"account_type"`
	Connected        bool            `json:"connected"`
	TradingEnabled   bool            `json:"trading_enabled"`
	Snapshot         AccountSnapshot `json:"snapshot"`
	Gate             GateConfig      `json:"gate_config"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SignalDirection is the requested trade action.
type SignalDirection string

const (
	DirectionBuy   SignalDirection = "buy"
	DirectionSell  SignalDirection = "sell"
	DirectionClose SignalDirection = "close"
)

// SignalSource names who/what produced a signal.
type SignalSource string

const (
	SourceStrategy SignalSource = "strategy"
	SourceManual   SignalSource = "manual"
	SourceSystem   SignalSource = "system"
	SourceExternal SignalSource = "external"
)

// Priority ranks a signal for the rate limiter. Critical bypasses the limit.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// FeatureValue is a sum type over the scalar/sequence/map shapes a feature
// bag element can take. Kept open per the design notes: the bag is an
// open-schema blob that must still serialise deterministically for hashing.
type FeatureValue = interface{}

// FeatureBag is the signal's opaque, open-schema payload.
type FeatureBag map[string]FeatureValue

// Signal is an inbound request to potentially open/close a position.
type Signal struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Symbol         string          `json:"symbol"`
	Direction      SignalDirection `json:"direction"`
	Source         SignalSource    `json:"source"`
	Priority       Priority        `json:"priority"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	SuggestedSize  *float64        `json:"suggested_size,omitempty"`
	SuggestedSL    *float64        `json:"suggested_sl,omitempty"`
	SuggestedTP    *float64        `json:"suggested_tp,omitempty"`
	StrategyName   string          `json:"strategy_name,omitempty"`
	ModelVersion   string          `json:"model_version,omitempty"`
	Features       FeatureBag      `json:"features,omitempty"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
}

// Outcome is a Decision's overall disposition.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "failed"
)

// GateCheck is one row of a Decision's per-gate audit trail.
type GateCheck struct {
	Name    string         `json:"name"`
	Passed  bool           `json:"passed"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// Decision is the system's durable answer to a Signal.
type Decision struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ProfileID      string          `json:"profile_id"`
	Signal         Signal          `json:"signal"`
	GateChecks     []GateCheck     `json:"gate_checks"`
	Outcome        Outcome         `json:"decision"`
	Reason         string          `json:"decision_reason"`
	Hash           string          `json:"decision_hash"`
	ChainID        string          `json:"chain_id"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessingMS   int64           `json:"processing_ms"`
}

// NodeType names a DecisionChain node's role.
type NodeType string

const (
	NodeSignalValidated     NodeType = "signal.validated"
	NodeGatePassed          NodeType = "gate.passed"
	NodeGateBlocked         NodeType = "gate.blocked"
	NodeRiskApproved        NodeType = "risk.approved"
	NodeRiskRejected        NodeType = "risk.rejected"
	NodeKillSwitchActivated NodeType = "kill_switch_activated"
)

// DecisionNode is one append-only entry in a DecisionChain.
type DecisionNode struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Type      NodeType       `json:"type"`
	Source    SignalSource   `json:"source"`
	Rationale string         `json:"rationale"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Hash      string         `json:"hash"`
	Timestamp time.Time      `json:"timestamp"`
}

// DecisionChain is the full ordered trace of evaluation nodes for one
// Decision, sealed (immutable) once the terminal node is appended.
type DecisionChain struct {
	ID      string         `json:"id"`
	ProfileID string       `json:"profile_id"`
	Nodes   []DecisionNode `json:"nodes"`
	Outcome Outcome        `json:"outcome"`
	Hash    string         `json:"chain_hash"`
	Sealed  bool           `json:"sealed"`
}

// PositionSide mirrors the signal direction a position was opened on.
type PositionSide string

const (
	PositionBuy  PositionSide = "buy"
	PositionSell PositionSide = "sell"
)

// PositionStatus is a Position's lifecycle state.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is a broker-side position mirrored into local state.
type Position struct {
	ProfileID     string         `json:"profile_id"`
	Ticket        string         `json:"ticket"`
	Symbol        string         `json:"symbol"`
	Side          PositionSide   `json:"side"`
	Size          float64        `json:"size"`
	OpenPrice     float64        `json:"open_price"`
	CurrentPrice  float64        `json:"current_price"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	RealizedPnL   float64        `json:"realized_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
	SignalID      string         `json:"signal_id,omitempty"`
	OpenTime      time.Time      `json:"open_time"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Severity ranks a SystemEvent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SystemEvent (Alert) is an append-only audit/notification row.
type SystemEvent struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	Source       string         `json:"source"`
	TenantID     string         `json:"tenant_id,omitempty"`
	ProfileID    string         `json:"profile_id,omitempty"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PanicTrigger names what raised a PanicState.
type PanicTrigger string

const (
	PanicNone          PanicTrigger = "none"
	PanicFlashCrash    PanicTrigger = "flash-crash"
	PanicVolSpike      PanicTrigger = "vol-spike"
	PanicSpreadBlowout PanicTrigger = "spread-blowout"
	PanicDrawdown      PanicTrigger = "drawdown"
	PanicManual        PanicTrigger = "manual"
)

// PanicState is the per-profile flag that short-circuits gate approvals.
type PanicState struct {
	ProfileID    string       `json:"profile_id"`
	Active       bool         `json:"active"`
	Trigger      PanicTrigger `json:"trigger"`
	TriggeredAt  time.Time    `json:"triggered_at,omitempty"`
	CooldownUntil time.Time   `json:"cooldown_until,omitempty"`
}

// ConnectionState is a ConnectionHandle's state-machine position.
type ConnectionState string

const (
	ConnIdle       ConnectionState = "idle"
	ConnConnecting ConnectionState = "connecting"
	ConnLive       ConnectionState = "live"
	ConnDegraded   ConnectionState = "degraded"
	ConnClosing    ConnectionState = "closing"
	ConnClosed     ConnectionState = "closed"
)

// ConnectionHandle is the Connection Pool's per-profile session record.
type ConnectionHandle struct {
	ProfileID         string          `json:"profile_id"`
	State             ConnectionState `json:"state"`
	LastHeartbeat     time.Time       `json:"last_heartbeat"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	Snapshot          AccountSnapshot `json:"snapshot"`
}

func (h ConnectionHandle) Live() bool { return h.State == ConnLive }
