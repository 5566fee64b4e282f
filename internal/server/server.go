// Package server exposes the control plane's HTTP and realtime WebSocket
// surface: signal submission, decision-chain and evidence-bundle export, the
// admin plane, and the per-profile event channel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/clock"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/evidence"
	"github.com/quantgate/signalgate/internal/ingress"
)

// Config wires every dependency the HTTP surface needs.
type Config struct {
	Port     int
	Log      zerolog.Logger
	Repo     domain.Repository
	Pipeline *ingress.Pipeline
	Hub      *events.Hub
	Admin    *admin.Plane
	Clock    clock.Clock
	Ids      clock.IDMinter
	Uploader *evidence.Uploader // optional; nil disables S3 upload
	DevMode  bool
}

// Server is the HTTP+WS surface. Start/Shutdown mirror net/http.Server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	repo     domain.Repository
	pipeline *ingress.Pipeline
	hub      *events.Hub
	admin    *admin.Plane
	clock    clock.Clock
	ids      clock.IDMinter
	uploader *evidence.Uploader
}

func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		repo:     cfg.Repo,
		pipeline: cfg.Pipeline,
		hub:      cfg.Hub,
		admin:    cfg.Admin,
		clock:    cfg.Clock,
		ids:      cfg.Ids,
		uploader: cfg.Uploader,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // the realtime channel upgrades on this server too
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.tenantMiddleware)

		r.Route("/profiles/{profileID}/signals", func(r chi.Router) {
			r.Post("/", s.handleSubmitSignal)
			r.Post("/batch", s.handleSubmitBatch)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Get("/{decisionID}", s.handleGetDecision)
			r.Get("/{decisionID}/chain", s.handleGetChain)
		})
		r.Get("/evidence/export", s.handleEvidenceExport)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/dashboard", s.handleAdminDashboard)
			r.Get("/users", s.handleAdminUsers)
			r.Patch("/users/{tenantID}", s.handleAdminPatchUser)
			r.Post("/users/{tenantID}/suspend", s.handleAdminSuspendTenant)
			r.Get("/profiles", s.handleAdminProfiles)
			r.Patch("/profiles/{profileID}", s.handleAdminPatchProfile)
			r.Post("/profiles/{profileID}/force-disconnect", s.handleAdminForceDisconnect)
			r.Post("/profiles/{profileID}/kill-switch", s.handleAdminActivateKillSwitch)
			r.Post("/profiles/{profileID}/kill-switch/reenable", s.handleAdminReenableKillSwitch)
			r.Post("/profiles/{profileID}/panic-hedge", s.handleAdminTriggerPanicHedge)
			r.Get("/alerts", s.handleAdminAlerts)
			r.Post("/alerts", s.handleAdminCreateAlert)
			r.Post("/alerts/{alertID}/ack", s.handleAdminAckAlert)
			r.Post("/broadcast", s.handleAdminBroadcast)
		})

		r.Get("/profiles/{profileID}/stream", s.handleRealtime)
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.clock.Now()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
