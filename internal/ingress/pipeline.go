// Package ingress implements the Signal Ingress Pipeline: the authoritative
// entry point that turns an inbound Signal into a durable Decision. It
// orchestrates idempotency replay, rate limiting, gate evaluation,
// provenance hashing, persistence, and event publication behind a
// per-profile serialisation lease.
package ingress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/emergency"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/faults"
	"github.com/quantgate/signalgate/internal/gate"
	"github.com/quantgate/signalgate/internal/idempotency"
	"github.com/quantgate/signalgate/internal/provenance"
	"github.com/quantgate/signalgate/internal/ratelimit"
)

// MaxBatch is the largest batch SubmitBatch accepts in one call.
const MaxBatch = 10

const (
	minIdemKeyLen = 8
	maxIdemKeyLen = 64
)

// Pipeline wires every capability the Signal Ingress Pipeline depends on.
// Nothing here owns its dependencies; all are injected at process start.
type Pipeline struct {
	repo      domain.Repository
	gates     *gate.Evaluator
	idem      *idempotency.Cache
	limiter   *ratelimit.Limiter
	hub       *events.Hub
	panics    *emergency.Registry
	clock     clock.Clock
	ids       clock.IDMinter
	civilLoc  *time.Location
	log       zerolog.Logger

	leaseMu sync.Mutex
	leases  map[string]*sync.Mutex
}

func New(repo domain.Repository, gates *gate.Evaluator, idem *idempotency.Cache, limiter *ratelimit.Limiter,
	hub *events.Hub, panics *emergency.Registry, c clock.Clock, ids clock.IDMinter, civilLoc *time.Location, log zerolog.Logger) *Pipeline {
	if civilLoc == nil {
		civilLoc = time.UTC
	}
	return &Pipeline{
		repo:     repo,
		gates:    gates,
		idem:     idem,
		limiter:  limiter,
		hub:      hub,
		panics:   panics,
		clock:    c,
		ids:      ids,
		civilLoc: civilLoc,
		log:      log.With().Str("component", "ingress").Logger(),
		leases:   make(map[string]*sync.Mutex),
	}
}

// lease returns (and lazily creates) the per-profile serialisation mutex.
// The lease is held only for the duration of one Submit call; it does not
// outlive the request, per the concurrency model's serialisation boundary.
func (p *Pipeline) lease(profileID string) *sync.Mutex {
	p.leaseMu.Lock()
	defer p.leaseMu.Unlock()
	m, ok := p.leases[profileID]
	if !ok {
		m = &sync.Mutex{}
		p.leases[profileID] = m
	}
	return m
}

// Submit is the single-signal entry point: submit(tenant, profile, signal) → Decision.
func (p *Pipeline) Submit(ctx context.Context, tenant domain.Tenant, profileID string, signal domain.Signal) (domain.Decision, error) {
	// Idempotency-key shape validation is the very first check, before
	// tenant/profile authorization, matching the ordering the system this
	// module is modelled on uses.
	if err := validateKeyShape(signal.IdempotencyKey); err != nil {
		return domain.Decision{}, err
	}

	if !tenant.Active() {
		return domain.Decision{}, faults.TenantForbidden("tenant is not active")
	}

	if err := validateSignal(signal); err != nil {
		return domain.Decision{}, err
	}

	profile, err := p.repo.GetProfile(ctx, profileID)
	if err != nil {
		return domain.Decision{}, faults.NotFound("profile not visible to tenant")
	}
	if profile.TenantID != tenant.ID {
		return domain.Decision{}, faults.NotFound("profile not visible to tenant")
	}

	m := p.lease(profileID)
	m.Lock()
	defer m.Unlock()

	return p.process(ctx, profile, signal)
}

// SubmitBatch processes up to MaxBatch signals independently, in submission
// order, against the same profile.
func (p *Pipeline) SubmitBatch(ctx context.Context, tenant domain.Tenant, profileID string, signals []domain.Signal) ([]domain.Decision, error) {
	if len(signals) > MaxBatch {
		return nil, faults.InputInvalid(fmt.Sprintf("batch of %d exceeds max %d", len(signals), MaxBatch))
	}
	out := make([]domain.Decision, 0, len(signals))
	for _, s := range signals {
		d, err := p.Submit(ctx, tenant, profileID, s)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func validateKeyShape(key string) error {
	if len(key) < minIdemKeyLen || len(key) > maxIdemKeyLen {
		return faults.IdempotencyKeyInvalid(fmt.Sprintf("idempotency key must be %d-%d chars, got %d", minIdemKeyLen, maxIdemKeyLen, len(key)))
	}
	return nil
}

func validateSignal(s domain.Signal) error {
	if s.Symbol == "" {
		return faults.InputInvalid("symbol must not be empty")
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return faults.InputInvalid("confidence must be within [0,1]")
	}
	return nil
}

// process runs the read-check-write-publish sequence for one signal against
// one profile, under the caller's per-profile lease.
func (p *Pipeline) process(ctx context.Context, profile domain.Profile, signal domain.Signal) (domain.Decision, error) {
	start := p.clock.Now()

	if cached, ok := p.idem.Get(profile.ID, signal.IdempotencyKey); ok {
		return cached, nil
	}

	if signal.ValidUntil != nil && !start.Before(*signal.ValidUntil) {
		return p.finalizeNoGates(ctx, profile, signal, domain.OutcomeExpired, "valid-until has already passed", start)
	}

	if !p.limiter.Allow(profile.ID, signal.Priority) {
		return p.finalizeNoGates(ctx, profile, signal, domain.OutcomeRejected, "rate_limit", start)
	}

	openPositions, err := p.repo.GetOpenPositions(ctx, profile.ID)
	if err != nil {
		return domain.Decision{}, faults.Internal(fmt.Sprintf("load open positions: %v", err))
	}

	today := clock.CivilDay(start, p.civilLoc)
	decisionsToday, err := p.repo.CountDecisionsToday(ctx, profile.ID, today)
	if err != nil {
		return domain.Decision{}, faults.Internal(fmt.Sprintf("count decisions today: %v", err))
	}

	panicState := p.panics.Get(profile.ID)
	input := gate.Input{
		Signal:         signal,
		Profile:        profile,
		PanicActive:    p.panics.Active(profile.ID),
		PanicTrigger:   panicState.Trigger,
		OpenPositions:  len(openPositions),
		DecisionsToday: decisionsToday,
		Now:            start,
	}

	checks := p.gates.EvaluateAll(input)
	approved := gate.Approved(checks)

	decisionID := p.ids.NewID()
	chainID := p.ids.NewID()
	outcome := domain.OutcomeRejected
	reason := gate.FailureReasons(checks)
	if approved {
		outcome = domain.OutcomeApproved
		reason = "all gates passed"
	}

	chain := buildChain(chainID, profile.ID, signal, checks, outcome, start)
	hash := provenance.DecisionHash(decisionID, profile.ID, signal.Symbol, string(signal.Direction), string(outcome), start)

	decision := domain.Decision{
		ID:             decisionID,
		IdempotencyKey: signal.IdempotencyKey,
		ProfileID:      profile.ID,
		Signal:         signal,
		GateChecks:     checks,
		Outcome:        outcome,
		Reason:         reason,
		Hash:           hash,
		ChainID:        chainID,
		CreatedAt:      start,
		ProcessingMS:   p.clock.Now().Sub(start).Milliseconds(),
	}

	if err := p.repo.SaveDecision(ctx, decision, chain); err != nil {
		// On persistence failure the idempotency cache must not be populated
		// so a retry is safe.
		return domain.Decision{}, faults.Internal(fmt.Sprintf("save decision: %v", err))
	}

	p.idem.Put(profile.ID, signal.IdempotencyKey, decision)
	p.publishOutcome(profile.ID, decision)

	return decision, nil
}

// finalizeNoGates handles the two failure conditions that never reach the
// gate evaluator (expired valid-until, rate-limit exhaustion): no gate
// checks run, no rate-limit consumption beyond what Allow already counted.
func (p *Pipeline) finalizeNoGates(ctx context.Context, profile domain.Profile, signal domain.Signal, outcome domain.Outcome, reason string, start time.Time) (domain.Decision, error) {
	decisionID := p.ids.NewID()
	chainID := p.ids.NewID()
	hash := provenance.DecisionHash(decisionID, profile.ID, signal.Symbol, string(signal.Direction), string(outcome), start)

	nodeID := uuid.NewString()
	rootType := domain.NodeSignalValidated
	terminalType := domain.NodeRiskRejected
	node := domain.DecisionNode{
		ID:        nodeID,
		Type:      rootType,
		Source:    signal.Source,
		Rationale: reason,
		Timestamp: start,
	}
	node.Hash = provenance.NodeHash(node.ID, node.ParentID, string(node.Type), node.Rationale, node.Timestamp)

	terminal := domain.DecisionNode{
		ID:        uuid.NewString(),
		ParentID:  node.ID,
		Type:      terminalType,
		Source:    signal.Source,
		Rationale: reason,
		Timestamp: start,
	}
	terminal.Hash = provenance.NodeHash(terminal.ID, terminal.ParentID, string(terminal.Type), terminal.Rationale, terminal.Timestamp)

	nodes := []domain.DecisionNode{node, terminal}
	chain := domain.DecisionChain{
		ID:        chainID,
		ProfileID: profile.ID,
		Nodes:     nodes,
		Outcome:   outcome,
		Sealed:    true,
	}
	chain.Hash = provenance.ChainHash(nodeHashes(nodes))

	decision := domain.Decision{
		ID:             decisionID,
		IdempotencyKey: signal.IdempotencyKey,
		ProfileID:      profile.ID,
		Signal:         signal,
		Outcome:        outcome,
		Reason:         reason,
		Hash:           hash,
		ChainID:        chainID,
		CreatedAt:      start,
		ProcessingMS:   p.clock.Now().Sub(start).Milliseconds(),
	}

	if err := p.repo.SaveDecision(ctx, decision, chain); err != nil {
		return domain.Decision{}, faults.Internal(fmt.Sprintf("save decision: %v", err))
	}

	// Expired/rate-limited outcomes are not cached for replay: a fresh
	// submission of the same key after the rate window rolls should be
	// re-evaluated, not frozen to the first rejection. Only gate-evaluated
	// outcomes (approved/rejected) populate the idempotency cache.
	p.publishOutcome(profile.ID, decision)
	return decision, nil
}

func (p *Pipeline) publishOutcome(profileID string, d domain.Decision) {
	if p.hub == nil {
		return
	}
	evType := events.TypeSignalRejected
	if d.Outcome == domain.OutcomeApproved {
		evType = events.TypeSignalApproved
	}
	p.hub.Publish(events.Event{
		Type:      evType,
		ProfileID: profileID,
		Timestamp: d.CreatedAt,
		Payload: map[string]any{
			"decision_id": d.ID,
			"outcome":     d.Outcome,
			"reason":      d.Reason,
			"hash":        d.Hash,
		},
	})
}

// buildChain constructs the full DecisionChain for a gate-evaluated signal:
// a root signal.validated node, one gate.passed/gate.blocked node per check,
// and a terminal risk.approved/risk.rejected node.
func buildChain(chainID, profileID string, signal domain.Signal, checks []domain.GateCheck, outcome domain.Outcome, now time.Time) domain.DecisionChain {
	root := domain.DecisionNode{
		ID:        uuid.NewString(),
		Type:      domain.NodeSignalValidated,
		Source:    signal.Source,
		Rationale: "signal accepted for evaluation",
		Timestamp: now,
	}
	root.Hash = provenance.NodeHash(root.ID, root.ParentID, string(root.Type), root.Rationale, root.Timestamp)

	nodes := []domain.DecisionNode{root}
	parent := root.ID
	for _, c := range checks {
		nodeType := domain.NodeGatePassed
		if !c.Passed {
			nodeType = domain.NodeGateBlocked
		}
		n := domain.DecisionNode{
			ID:        uuid.NewString(),
			ParentID:  parent,
			Type:      nodeType,
			Source:    signal.Source,
			Rationale: c.Reason,
			Timestamp: now,
		}
		n.Hash = provenance.NodeHash(n.ID, n.ParentID, string(n.Type), n.Rationale, n.Timestamp)
		nodes = append(nodes, n)
		parent = n.ID
	}

	terminalType := domain.NodeRiskRejected
	terminalReason := gate.FailureReasons(checks)
	if outcome == domain.OutcomeApproved {
		terminalType = domain.NodeRiskApproved
		terminalReason = "all gates passed"
	}
	terminal := domain.DecisionNode{
		ID:        uuid.NewString(),
		ParentID:  parent,
		Type:      terminalType,
		Source:    signal.Source,
		Rationale: terminalReason,
		Timestamp: now,
	}
	terminal.Hash = provenance.NodeHash(terminal.ID, terminal.ParentID, string(terminal.Type), terminal.Rationale, terminal.Timestamp)
	nodes = append(nodes, terminal)

	chain := domain.DecisionChain{
		ID:        chainID,
		ProfileID: profileID,
		Nodes:     nodes,
		Outcome:   outcome,
		Sealed:    true,
	}
	chain.Hash = provenance.ChainHash(nodeHashes(nodes))
	return chain
}

func nodeHashes(nodes []domain.DecisionNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Hash
	}
	return out
}
