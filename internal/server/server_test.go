package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
)

// stubRepo implements just enough of domain.Repository for these smoke
// tests; every method not needed by a given test panics if called.
type stubRepo struct {
	domain.Repository
	tenants map[string]domain.Tenant
}

func (s *stubRepo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return domain.Tenant{}, assertErr{}
	}
	return t, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "not found" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo := &stubRepo{tenants: map[string]domain.Tenant{
		"tenant-1": {ID: "tenant-1", Status: domain.TenantActive},
		"tenant-suspended": {ID: "tenant-suspended", Status: domain.TenantSuspended},
	}}
	hub := events.New(time.Minute, zerolog.Nop())
	fixed := clock.NewFixed(time.Now())
	adminPlane := admin.New(repo, nil, hub, fixed, clock.UUIDMinter{}, zerolog.Nop())

	return New(Config{
		Port:     0,
		Log:      zerolog.Nop(),
		Repo:     repo,
		Pipeline: nil,
		Hub:      hub,
		Admin:    adminPlane,
		Clock:    fixed,
		Ids:      clock.UUIDMinter{},
		DevMode:  true,
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
}

func TestTenantMiddlewareRejectsMissingHeader(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
}

func TestTenantMiddlewareRejectsUnknownTenant(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	req.Header.Set("X-Tenant-ID", "does-not-exist")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
}

func TestTenantMiddlewareRejectsSuspendedTenant(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	req.Header.Set("X-Tenant-ID", "tenant-suspended")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, 403, w.Code)
}

func TestTenantMiddlewareAllowsActiveTenant(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	require.NotEqual(t, 401, w.Code)
	require.NotEqual(t, 403, w.Code)
}
