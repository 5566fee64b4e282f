package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
)

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]domain.Profile)}
}

func (f *fakeProfileRepo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return domain.Profile{}, assert.AnError
	}
	return p, nil
}
func (f *fakeProfileRepo) ListProfiles(ctx context.Context, tenantID string) ([]domain.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) ListAllProfiles(ctx context.Context) ([]domain.Profile, error) {
	return nil, nil
}
func (f *fakeProfileRepo) SaveProfile(ctx context.Context, p domain.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
	return nil
}

type fakeSystemEventRepo struct {
	mu     sync.Mutex
	events []domain.SystemEvent
}

func (f *fakeSystemEventRepo) AppendSystemEvent(ctx context.Context, e domain.SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}
func (f *fakeSystemEventRepo) ListSystemEvents(ctx context.Context, filter domain.SystemEventFilter) ([]domain.SystemEvent, error) {
	return f.events, nil
}
func (f *fakeSystemEventRepo) AcknowledgeSystemEvent(ctx context.Context, id string) error {
	return nil
}

func TestRegistryTriggerAndActive(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	r := NewRegistry(fc)
	assert.False(t, r.Active("profile-1"))

	r.Trigger("profile-1", domain.PanicManual, time.Minute)
	assert.True(t, r.Active("profile-1"))

	fc.Advance(2 * time.Minute)
	assert.False(t, r.Active("profile-1"))
}

func TestRegistryRecoverKeepsCooldown(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	r := NewRegistry(fc)
	r.Trigger("profile-1", domain.PanicManual, time.Minute)
	r.Recover("profile-1")

	assert.True(t, r.Active("profile-1"), "cooldown window should still report active")
	fc.Advance(2 * time.Minute)
	assert.False(t, r.Active("profile-1"))
}

func TestRegistryReset(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	r := NewRegistry(fc)
	r.Trigger("profile-1", domain.PanicManual, time.Minute)
	r.Reset("profile-1")
	assert.False(t, r.Active("profile-1"))
	assert.Empty(t, r.All())
}

func TestKillSwitchActivateDisablesTradingAndFlushes(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.profiles["profile-1"] = domain.Profile{ID: "profile-1", TenantID: "tenant-1", TradingEnabled: true}
	systems := &fakeSystemEventRepo{}
	hub := events.New(time.Minute, zerolog.Nop())

	var flushed bool
	closeFn := func(ctx context.Context, profileID string) error {
		flushed = true
		return nil
	}

	ks := NewKillSwitch(repo, systems, hub, clock.Real{}, closeFn)
	err := ks.Activate(context.Background(), "profile-1", "manual stop")
	require.NoError(t, err)

	assert.True(t, flushed)
	assert.False(t, repo.profiles["profile-1"].TradingEnabled)
	assert.Len(t, systems.events, 1)
	assert.Equal(t, domain.SeverityCritical, systems.events[0].Severity)
}

func TestKillSwitchReenableRestoresTrading(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.profiles["profile-1"] = domain.Profile{ID: "profile-1", TradingEnabled: false}
	ks := NewKillSwitch(repo, &fakeSystemEventRepo{}, nil, clock.Real{}, nil)

	require.NoError(t, ks.Reenable(context.Background(), "profile-1"))
	assert.True(t, repo.profiles["profile-1"].TradingEnabled)
}

func TestDrawdownControllerTripsOnLargeDrop(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	registry := NewRegistry(fc)
	dc := NewDrawdownController(registry, fc, time.Minute)

	state := dc.Observe("profile-1", domain.AccountSnapshot{Equity: 1000}, 0.2)
	assert.False(t, state.Active)

	state = dc.Observe("profile-1", domain.AccountSnapshot{Equity: 700}, 0.2)
	assert.True(t, state.Active)
}

func TestPanicHedgeTriggerManual(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	registry := NewRegistry(fc)
	var flushed bool
	closeFn := func(ctx context.Context, profileID string) error {
		flushed = true
		return nil
	}
	ph := NewPanicHedge(registry, fc, closeFn, time.Minute)

	state, err := ph.TriggerManual(context.Background(), "profile-1")
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, domain.PanicManual, state.Trigger)
	assert.True(t, flushed)
}
