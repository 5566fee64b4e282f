package reconcile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/idempotency"
)

type fakeDecisionRepo struct {
	domain.DecisionRepository
	expired []domain.Decision
}

func (f *fakeDecisionRepo) ExpirePending(ctx context.Context, asOf string) ([]domain.Decision, error) {
	return f.expired, nil
}

func TestSignalExpirationReconcilerPublishesExpiredEvents(t *testing.T) {
	repo := &fakeDecisionRepo{expired: []domain.Decision{
		{ID: "dec-1", ProfileID: "profile-1", IdempotencyKey: "key-1", ChainID: "chain-1"},
	}}
	hub := events.New(time.Minute, zerolog.Nop())
	defer hub.Stop()
	sub := hub.Subscribe("profile-1", nil)
	defer sub.Close()

	r := NewSignalExpirationReconciler(repo, hub, clock.NewFixed(time.Now()), zerolog.Nop())
	assert.Equal(t, "signal_expiration_reconciler", r.Name())
	r.Run()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.TypeSignalExpired, ev.Type)
		assert.Equal(t, "profile-1", ev.ProfileID)
	case <-time.After(time.Second):
		t.Fatal("expected signal_expired event")
	}
}

func TestSignalExpirationReconcilerNoOpWhenNothingExpired(t *testing.T) {
	repo := &fakeDecisionRepo{}
	r := NewSignalExpirationReconciler(repo, nil, clock.NewFixed(time.Now()), zerolog.Nop())
	r.Run() // must not panic with a nil hub and nothing to publish
}

func TestIdempotencyJanitorSweepsAndCheckpoints(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	cache := idempotency.New(fc, time.Minute, 0, zerolog.Nop())
	cache.Put("profile-1", "key-1", domain.Decision{ID: "dec-1"})
	fc.Advance(2 * time.Minute)

	path := t.TempDir() + "/checkpoint.msgpack"
	j := NewIdempotencyJanitor(cache, path, zerolog.Nop())
	assert.Equal(t, "idempotency_janitor", j.Name())
	j.Run()

	_, err := os.Stat(path)
	assert.NoError(t, err, "checkpoint file should have been written")
}

func TestIdempotencyJanitorSkipsCheckpointWhenPathEmpty(t *testing.T) {
	cache := idempotency.New(clock.NewFixed(time.Now()), time.Minute, 0, zerolog.Nop())
	j := NewIdempotencyJanitor(cache, "", zerolog.Nop())
	j.Run() // must not attempt to write anywhere
}

func TestEvidenceRetentionSweepRemovesOldBundlesOnly(t *testing.T) {
	dir := t.TempDir()
	oldPath := dir + "/old.zip"
	newPath := dir + "/new.zip"
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	now := time.Now()
	require.NoError(t, os.Chtimes(oldPath, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(newPath, now, now))

	fc := clock.NewFixed(now)
	j := NewEvidenceRetentionSweep(dir, 24*time.Hour, fc, zerolog.Nop())
	assert.Equal(t, "evidence_retention_sweep", j.Name())
	j.Run()

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "old bundle should have been removed")
	_, err = os.Stat(newPath)
	assert.NoError(t, err, "new bundle should survive")
}

func TestEvidenceRetentionSweepNoOpWhenDirEmpty(t *testing.T) {
	j := NewEvidenceRetentionSweep("", time.Hour, clock.NewFixed(time.Now()), zerolog.Nop())
	j.Run() // must not attempt to read an empty path
}
