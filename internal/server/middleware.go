package server

import (
	"context"
	"net/http"

	"github.com/quantgate/signalgate/internal/domain"
)

type ctxKey int

const tenantCtxKey ctxKey = iota

// tenantMiddleware resolves the caller's verified tenant identity from the
// X-Tenant-ID header. How that header was verified upstream (API gateway,
// reverse proxy session lookup) is out of scope here; the core only
// consumes the already-verified identity, per the external-interfaces
// surface.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Tenant-ID")
			return
		}
		tenant, err := s.repo.GetTenant(r.Context(), tenantID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown tenant")
			return
		}
		if !tenant.Active() {
			writeError(w, http.StatusForbidden, "tenant is not active")
			return
		}
		ctx := context.WithValue(r.Context(), tenantCtxKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) domain.Tenant {
	t, _ := r.Context().Value(tenantCtxKey).(domain.Tenant)
	return t
}
