package ingress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/emergency"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/gate"
	"github.com/quantgate/signalgate/internal/idempotency"
	"github.com/quantgate/signalgate/internal/ratelimit"
)

// fakeRepo is a minimal in-memory domain.Repository for pipeline tests.
type fakeRepo struct {
	mu        sync.Mutex
	profiles  map[string]domain.Profile
	positions map[string][]domain.Position
	decisions []domain.Decision
	chains    map[string]domain.DecisionChain
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		profiles:  make(map[string]domain.Profile),
		positions: make(map[string][]domain.Position),
		chains:    make(map[string]domain.DecisionChain),
	}
}

func (f *fakeRepo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) { return domain.Tenant{}, nil }
func (f *fakeRepo) ListTenants(ctx context.Context) ([]domain.Tenant, error)        { return nil, nil }
func (f *fakeRepo) SuspendTenant(ctx context.Context, id string) error              { return nil }
func (f *fakeRepo) UpdateTenant(ctx context.Context, t domain.Tenant) error         { return nil }

func (f *fakeRepo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return domain.Profile{}, assertNotFound
	}
	return p, nil
}
func (f *fakeRepo) ListProfiles(ctx context.Context, tenantID string) ([]domain.Profile, error) {
	return nil, nil
}
func (f *fakeRepo) ListAllProfiles(ctx context.Context) ([]domain.Profile, error) { return nil, nil }
func (f *fakeRepo) SaveProfile(ctx context.Context, p domain.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
	return nil
}

func (f *fakeRepo) GetOpenPositions(ctx context.Context, profileID string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[profileID], nil
}
func (f *fakeRepo) UpsertPosition(ctx context.Context, p domain.Position) error { return nil }
func (f *fakeRepo) ClosePosition(ctx context.Context, profileID, ticket string) error { return nil }
func (f *fakeRepo) ArchiveToHistory(ctx context.Context, p domain.Position) error { return nil }

func (f *fakeRepo) AppendSystemEvent(ctx context.Context, e domain.SystemEvent) error { return nil }
func (f *fakeRepo) ListSystemEvents(ctx context.Context, filter domain.SystemEventFilter) ([]domain.SystemEvent, error) {
	return nil, nil
}
func (f *fakeRepo) AcknowledgeSystemEvent(ctx context.Context, id string) error { return nil }

func (f *fakeRepo) SaveDecision(ctx context.Context, d domain.Decision, chain domain.DecisionChain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	f.chains[chain.ID] = chain
	return nil
}
func (f *fakeRepo) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.decisions {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Decision{}, assertNotFound
}
func (f *fakeRepo) GetChain(ctx context.Context, chainID string) (domain.DecisionChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chains[chainID], nil
}
func (f *fakeRepo) CountDecisionsToday(ctx context.Context, profileID string, today string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.decisions {
		if d.ProfileID == profileID && clock.CivilDay(d.CreatedAt, time.UTC) == today {
			n++
		}
	}
	return n, nil
}
func (f *fakeRepo) ExpirePending(ctx context.Context, asOf string) ([]domain.Decision, error) {
	return nil, nil
}
func (f *fakeRepo) QueryDecisions(ctx context.Context, q domain.ProvenanceQuery) ([]domain.Decision, error) {
	return nil, nil
}

var assertNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func newTestProfile(id, tenantID string) domain.Profile {
	cfg := domain.NewDefaultGateConfig()
	cfg.MinConfidence = 0.7
	cfg.MaxConcurrentPositions = 3
	cfg.MaxDailySignals = 50
	cfg.MaxDrawdownToTrade = 0.15
	return domain.Profile{
		ID:             id,
		TenantID:       tenantID,
		Connected:      true,
		TradingEnabled: true,
		Snapshot:       domain.AccountSnapshot{Balance: 10000, Equity: 10500},
		Gate:           cfg,
	}
}

func newTestPipeline(t *testing.T, repo *fakeRepo, c clock.Clock) *Pipeline {
	t.Helper()
	hub := events.New(time.Minute, zerolog.Nop())
	return New(repo, gate.New(gate.DefaultChain()), idempotency.New(c, 0, 0, zerolog.Nop()),
		ratelimit.New(c, 10), hub, emergency.NewRegistry(c), c, clock.UUIDMinter{}, time.UTC, zerolog.Nop())
}

// S1 — happy path approval.
func TestSubmit_S1_HappyPathApproval(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)
	repo.positions["p1"] = []domain.Position{{ProfileID: "p1", Ticket: "1", Status: domain.PositionOpen}}

	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	d, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
		IdempotencyKey: "k-0001",
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		Source:         domain.SourceStrategy,
		Priority:       domain.PriorityNormal,
		Confidence:     0.85,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, d.Outcome)
	for _, c := range d.GateChecks {
		assert.Truef(t, c.Passed, "gate %s should pass", c.Name)
	}
}

// S2 — low confidence rejection; every gate still evaluated.
func TestSubmit_S2_LowConfidenceRejection(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)
	repo.positions["p1"] = []domain.Position{{ProfileID: "p1", Ticket: "1", Status: domain.PositionOpen}}

	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	d, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
		IdempotencyKey: "k-0002",
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		Source:         domain.SourceStrategy,
		Priority:       domain.PriorityNormal,
		Confidence:     0.50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, d.Outcome)
	assert.Len(t, d.GateChecks, 7)
	var confChecked bool
	for _, c := range d.GateChecks {
		if c.Name == "confidence" {
			confChecked = true
			assert.False(t, c.Passed)
			assert.Contains(t, c.Reason, "0.50 < 0.70")
		}
	}
	assert.True(t, confChecked)
}

// S3 — idempotent replay.
func TestSubmit_S3_IdempotentReplay(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)

	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	sig := domain.Signal{
		IdempotencyKey: "k-0003",
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		Source:         domain.SourceStrategy,
		Priority:       domain.PriorityNormal,
		Confidence:     0.85,
	}

	first, err := p.Submit(context.Background(), tenant, "p1", sig)
	require.NoError(t, err)

	remBefore, _ := p.limiter.Remaining("p1")

	second, err := p.Submit(context.Background(), tenant, "p1", sig)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first, second)

	remAfter, _ := p.limiter.Remaining("p1")
	assert.Equal(t, remBefore, remAfter)
}

// S4 — rate-limit bypass: 12 normal submissions in one window, cap 10; a
// 13th critical submission proceeds through the gates normally.
func TestSubmit_S4_RateLimitBypass(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)

	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	approvedOrGated, rateLimited := 0, 0
	for i := 0; i < 12; i++ {
		d, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
			IdempotencyKey: fakeKey(i),
			Symbol:         "EURUSD",
			Direction:      domain.DirectionBuy,
			Source:         domain.SourceStrategy,
			Priority:       domain.PriorityNormal,
			Confidence:     0.85,
		})
		require.NoError(t, err)
		if d.Reason == "rate_limit" {
			rateLimited++
		} else {
			approvedOrGated++
		}
	}
	assert.Equal(t, 10, approvedOrGated)
	assert.Equal(t, 2, rateLimited)

	critical, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
		IdempotencyKey: "k-critical",
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		Source:         domain.SourceStrategy,
		Priority:       domain.PriorityCritical,
		Confidence:     0.85,
	})
	require.NoError(t, err)
	assert.NotEqual(t, "rate_limit", critical.Reason)
}

// S5 — panic drawdown: while PanicState is active, the panic gate fails
// first in the reason list and the overall outcome is rejected.
func TestSubmit_S5_PanicDrawdown(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	profile.Snapshot = domain.AccountSnapshot{Balance: 10000, Equity: 8000}
	repo.SaveProfile(context.Background(), profile)

	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)
	p.panics.Trigger("p1", domain.PanicDrawdown, time.Hour)

	d, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
		IdempotencyKey: "k-0005",
		Symbol:         "EURUSD",
		Direction:      domain.DirectionBuy,
		Source:         domain.SourceStrategy,
		Priority:       domain.PriorityNormal,
		Confidence:     0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, d.Outcome)
	require.NotEmpty(t, d.GateChecks)
	assert.Equal(t, "panic_not_active", d.GateChecks[1].Name)
	assert.False(t, d.GateChecks[1].Passed)
	assert.Contains(t, d.Reason, "panic")
}

// Boundary: idempotency key length.
func TestSubmit_IdempotencyKeyLengthBoundary(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)
	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	cases := []struct {
		keyLen  int
		wantErr bool
	}{
		{7, true},
		{8, false},
		{64, false},
		{65, true},
	}
	for _, tc := range cases {
		_, err := p.Submit(context.Background(), tenant, "p1", domain.Signal{
			IdempotencyKey: repeatChar("k", tc.keyLen),
			Symbol:         "EURUSD",
			Direction:      domain.DirectionBuy,
			Source:         domain.SourceStrategy,
			Priority:       domain.PriorityNormal,
			Confidence:     0.85,
		})
		if tc.wantErr {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
	}
}

// Boundary: batch size.
func TestSubmitBatch_SizeBoundary(t *testing.T) {
	repo := newFakeRepo()
	tenant := domain.Tenant{ID: "t1", Status: domain.TenantActive}
	profile := newTestProfile("p1", "t1")
	repo.SaveProfile(context.Background(), profile)
	fc := clock.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := newTestPipeline(t, repo, fc)

	ten := make([]domain.Signal, 10)
	for i := range ten {
		ten[i] = domain.Signal{IdempotencyKey: fakeKey(i), Symbol: "EURUSD", Direction: domain.DirectionBuy, Source: domain.SourceStrategy, Priority: domain.PriorityNormal, Confidence: 0.85}
	}
	_, err := p.SubmitBatch(context.Background(), tenant, "p1", ten)
	assert.NoError(t, err)

	eleven := append(ten, domain.Signal{IdempotencyKey: "k-extra1", Symbol: "EURUSD", Confidence: 0.85})
	_, err = p.SubmitBatch(context.Background(), tenant, "p1", eleven)
	assert.Error(t, err)
}

func fakeKey(i int) string {
	return fmt.Sprintf("rate-limit-test-key-%04d", i)
}

func repeatChar(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
