// Command server runs the Signal Gate and Emergency Control Plane: it wires
// the repository, connection pool, event hub, ingress pipeline, emergency
// controllers, periodic reconcilers, admin plane, and HTTP/realtime surface,
// then serves until told to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantgate/signalgate/internal/admin"
	"github.com/quantgate/signalgate/internal/clients/tradernet"
	"github.com/quantgate/signalgate/internal/clock"
	cfgpkg "github.com/quantgate/signalgate/internal/config"
	"github.com/quantgate/signalgate/internal/database"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/emergency"
	"github.com/quantgate/signalgate/internal/events"
	"github.com/quantgate/signalgate/internal/evidence"
	"github.com/quantgate/signalgate/internal/gate"
	"github.com/quantgate/signalgate/internal/idempotency"
	"github.com/quantgate/signalgate/internal/ingress"
	"github.com/quantgate/signalgate/internal/pool"
	"github.com/quantgate/signalgate/internal/ratelimit"
	"github.com/quantgate/signalgate/internal/reconcile"
	"github.com/quantgate/signalgate/internal/repo"
	"github.com/quantgate/signalgate/internal/server"
	"github.com/quantgate/signalgate/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cfgpkg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("starting signal gate")

	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/control_plane.db",
		Profile: database.ProfileLedger,
		Name:    "control_plane",
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store := repo.New(db)
	realClock := clock.Real{}
	ids := clock.UUIDMinter{}

	brokerFactory := tradernet.NewFactory(cfg.BrokerServiceURL, log)

	hub := events.New(30*time.Second, log)

	connPool := pool.New(brokerFactory, pool.Config{
		MaxActive:            cfg.PoolMaxActive,
		IdleTimeout:          cfg.PoolIdleTimeout,
		BaseBackoff:          cfg.PoolBaseBackoff,
		MaxBackoff:           cfg.PoolMaxBackoff,
		MaxReconnectAttempts: cfg.PoolMaxReconnectAttempts,
	}, realClock, pool.Callbacks{
		OnConnect: func(profileID string, snap domain.AccountSnapshot) {
			hub.Publish(events.Event{Type: events.TypeConnectionEstablished, ProfileID: profileID, Timestamp: realClock.Now()})
		},
		OnDisconnect: func(profileID string, reason string) {
			hub.Publish(events.Event{Type: events.TypeConnectionLost, ProfileID: profileID, Timestamp: realClock.Now(), Payload: map[string]any{"reason": reason}})
		},
		OnAccountUpdate: func(profileID string, snap domain.AccountSnapshot) {
			hub.Publish(events.Event{Type: events.TypeAccountUpdate, ProfileID: profileID, Timestamp: realClock.Now()})
		},
	}, log)

	gateEval := gate.New(gate.DefaultChain())
	idem := idempotency.New(realClock, cfg.IdempotencyTTL, cfg.IdempotencyPerProfileCap, log)
	if err := idem.LoadCheckpoint(cfg.IdempotencyCheckpointPath); err != nil {
		log.Warn().Err(err).Msg("idempotency checkpoint load failed; starting cold")
	}
	limiter := ratelimit.New(realClock, cfg.RateLimitCap)

	panicRegistry := emergency.NewRegistry(realClock)
	drawdown := emergency.NewDrawdownController(panicRegistry, realClock, cfg.PanicCooldown)
	closeHook := func(ctx context.Context, profileID string) error {
		client, ok := connPool.Client(profileID)
		if !ok {
			return nil
		}
		positions, err := client.ListPositions(ctx)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if _, err := client.CloseOrder(ctx, pos.Ticket); err != nil {
				return err
			}
		}
		return nil
	}
	panicHedge := emergency.NewPanicHedge(panicRegistry, realClock, closeHook, cfg.PanicCooldown)
	killSwitch := emergency.NewKillSwitch(store, store, hub, realClock, closeHook)

	civilLoc := time.UTC
	pipeline := ingress.New(store, gateEval, idem, limiter, hub, panicRegistry, realClock, ids, civilLoc, log)

	var uploader *evidence.Uploader
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("aws config load failed; evidence export will stay local-only")
		} else {
			uploader = evidence.NewUploader(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
		}
	}

	adminPlane := admin.New(store, connPool, hub, realClock, ids, log).WithEmergencyControls(killSwitch, panicHedge, drawdown)

	scheduler := reconcile.New(log)
	creds := &profileCredentialSource{repo: store}
	if err := scheduler.AddJob(everySeconds(cfg.PositionReconcileEvery), reconcile.NewPositionReconciler(connPool, store, store, hub, realClock, cfg.PositionReconcileGrace, log)); err != nil {
		return fmt.Errorf("register position reconciler: %w", err)
	}
	if err := scheduler.AddJob(everySeconds(cfg.AccountSyncEvery), reconcile.NewAccountSyncReconciler(connPool, store, hub, drawdown, realClock, log)); err != nil {
		return fmt.Errorf("register account sync reconciler: %w", err)
	}
	if err := scheduler.AddJob(everySeconds(cfg.ConnectionHealthEvery), reconcile.NewConnectionHealthReconciler(connPool, creds, hub, realClock, log)); err != nil {
		return fmt.Errorf("register connection health reconciler: %w", err)
	}
	if err := scheduler.AddJob(everySeconds(cfg.SignalExpirationEvery), reconcile.NewSignalExpirationReconciler(store, hub, realClock, log)); err != nil {
		return fmt.Errorf("register signal expiration reconciler: %w", err)
	}
	if err := scheduler.AddJob(everySeconds(cfg.IdempotencyJanitorEvery), reconcile.NewIdempotencyJanitor(idem, cfg.IdempotencyCheckpointPath, log)); err != nil {
		return fmt.Errorf("register idempotency janitor: %w", err)
	}
	if err := scheduler.AddJob(everySeconds(cfg.EvidenceRetentionEvery), reconcile.NewEvidenceRetentionSweep(cfg.EvidenceExportDir, cfg.EvidenceRetentionWindow, realClock, log)); err != nil {
		return fmt.Errorf("register evidence retention sweep: %w", err)
	}
	scheduler.Start()

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Repo:     store,
		Pipeline: pipeline,
		Hub:      hub,
		Admin:    adminPlane,
		Clock:    realClock,
		Ids:      ids,
		Uploader: uploader,
		DevMode:  cfg.LogLevel == "debug",
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Stop()
	if err := idem.Checkpoint(cfg.IdempotencyCheckpointPath); err != nil {
		log.Warn().Err(err).Msg("final idempotency checkpoint failed")
	}
	hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown did not complete cleanly")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// profileCredentialSource stands in for the out-of-scope credential-at-rest
// decryption capability: it hands back the profile's stored login/server
// with no password material, which is enough for the connection-health
// reconciler's interface but not for an actual broker reconnect. A real
// deployment wires a vault/KMS-backed CredentialSource here instead.
type profileCredentialSource struct {
	repo domain.ProfileRepository
}

func (c *profileCredentialSource) Credential(ctx context.Context, profileID string) (domain.BrokerCredential, error) {
	p, err := c.repo.GetProfile(ctx, profileID)
	if err != nil {
		return domain.BrokerCredential{}, err
	}
	return domain.BrokerCredential{Login: p.BrokerLogin, Server: p.BrokerServer}, nil
}

func everySeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("@every %ds", secs)
}
