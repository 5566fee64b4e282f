package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/database"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/emergency"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/gate"
	"github.com/quantgate/signalgate/internal/idempotency"
	"github.com/quantgate/signalgate/internal/ingress"
	"github.com/quantgate/signalgate/internal/ratelimit"
	"github.com/quantgate/signalgate/internal/repo"
)

// wiredTestServer boots the full stack against a real on-disk sqlite
// database, mirroring cmd/server/main.go's dependency graph minus the
// broker connection pool, so handler-level integration tests exercise real
// persistence and real gate evaluation instead of stubs.
func wiredTestServer(t *testing.T) (*Server, *repo.SQLite) {
	t.Helper()
	db, err := database.New(database.Config{
		Path: t.TempDir() + "/control_plane.db", Profile: database.ProfileLedger, Name: "control_plane",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	store := repo.New(db)
	fc := clock.NewFixed(time.Now())
	ids := clock.UUIDMinter{}
	hub := events.New(time.Minute, zerolog.Nop())
	t.Cleanup(hub.Stop)

	gateEval := gate.New(gate.DefaultChain())
	idem := idempotency.New(fc, time.Hour, 0, zerolog.Nop())
	limiter := ratelimit.New(fc, 100)
	panicRegistry := emergency.NewRegistry(fc)

	pipeline := ingress.New(store, gateEval, idem, limiter, hub, panicRegistry, fc, ids, time.UTC, zerolog.Nop())
	adminPlane := admin.New(store, nil, hub, fc, ids, zerolog.Nop())

	srv := New(Config{
		Port: 0, Log: zerolog.Nop(), Repo: store, Pipeline: pipeline, Hub: hub,
		Admin: adminPlane, Clock: fc, Ids: ids, DevMode: true,
	})
	return srv, store
}

func seedTenantAndProfile(t *testing.T, store *repo.SQLite, tenantID, profileID string, isAdmin bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpdateTenant(ctx, domain.Tenant{
		ID: tenantID, Email: tenantID + "@example.com", Status: domain.TenantActive, IsAdmin: isAdmin, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.SaveProfile(ctx, domain.Profile{
		ID: profileID, TenantID: tenantID, BrokerLogin: "login1", BrokerServer: "srv1",
		Connected: true, TradingEnabled: true, Gate: domain.NewDefaultGateConfig(), CreatedAt: time.Now(),
	}))
}

func TestSubmitSignalEndToEndApproves(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "tenant-1", "profile-1", false)

	signal := domain.Signal{
		IdempotencyKey: "idem-key-001", Symbol: "EURUSD", Direction: domain.DirectionBuy,
		Priority: domain.PriorityNormal, Confidence: 0.9,
	}
	body, _ := json.Marshal(signal)
	req := httptest.NewRequest(http.MethodPost, "/api/profiles/profile-1/signals/", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decision domain.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, domain.OutcomeApproved, decision.Outcome)
}

func TestSubmitSignalReplayReturnsCachedDecision(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "tenant-1", "profile-1", false)

	signal := domain.Signal{IdempotencyKey: "idem-key-002", Symbol: "EURUSD", Confidence: 0.9}
	body, _ := json.Marshal(signal)

	var first, second domain.Decision
	for i, d := range []*domain.Decision{&first, &second} {
		_ = i
		req := httptest.NewRequest(http.MethodPost, "/api/profiles/profile-1/signals/", bytes.NewReader(body))
		req.Header.Set("X-Tenant-ID", "tenant-1")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), d))
	}
	assert.Equal(t, first.ID, second.ID, "replayed submission should return the cached decision")
}

func TestSubmitSignalMalformedBodyRejected(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "tenant-1", "profile-1", false)

	req := httptest.NewRequest(http.MethodPost, "/api/profiles/profile-1/signals/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminDashboardReflectsSeededState(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "tenant-1", "profile-1", true)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var dash admin.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	assert.Equal(t, 1, dash.TotalTenants)
	assert.Equal(t, 1, dash.TotalProfiles)
}

func TestAdminSuspendTenantRequiresAdmin(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "tenant-1", "profile-1", false)
	seedTenantAndProfile(t, store, "tenant-2", "profile-2", false)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/tenant-2/suspend", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminSuspendTenantAllowedForAdmin(t *testing.T) {
	srv, store := wiredTestServer(t)
	seedTenantAndProfile(t, store, "admin-1", "profile-admin", true)
	seedTenantAndProfile(t, store, "tenant-2", "profile-2", false)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/tenant-2/suspend", nil)
	req.Header.Set("X-Tenant-ID", "admin-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := store.GetTenant(context.Background(), "tenant-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TenantSuspended, got.Status)
}
