// Package config loads process-wide configuration from environment
// variables (and an optional .env file). Per-profile GateConfig options
// live on the Profile row itself (see internal/domain); this package only
// covers the process-wide knobs named in the external-interfaces surface:
// rate-limit window/cap, idempotency TTL, reconciler intervals, pool caps
// and backoff, and panic cooldown.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every process-wide tunable the core wires at startup.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string
	Pretty   bool

	BrokerServiceURL string

	RateLimitWindow time.Duration
	RateLimitCap    int

	IdempotencyTTL            time.Duration
	IdempotencyPerProfileCap  int
	IdempotencyCheckpointPath string
	IdempotencyJanitorEvery   time.Duration

	PoolMaxActive           int
	PoolIdleTimeout         time.Duration
	PoolBaseBackoff         time.Duration
	PoolMaxBackoff          time.Duration
	PoolMaxReconnectAttempts int

	PositionReconcileEvery    time.Duration
	PositionReconcileGrace    time.Duration
	AccountSyncEvery          time.Duration
	ConnectionHealthEvery     time.Duration
	SignalExpirationEvery     time.Duration
	EvidenceRetentionEvery    time.Duration
	EvidenceRetentionWindow   time.Duration
	EvidenceExportDir         string

	PanicCooldown time.Duration

	S3Bucket string // empty disables the evidence-export S3 upload path
}

// Load reads configuration from the environment, applying the documented
// default for every option that isn't set. A .env file in the working
// directory is loaded first if present.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("SIGNALGATE_DATA_DIR", "")
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	}
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("SIGNALGATE_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),

		BrokerServiceURL: getEnv("BROKER_SERVICE_URL", "http://localhost:9000"),

		RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitCap:    getEnvAsInt("RATE_LIMIT_CAP", 10),

		IdempotencyTTL:            getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyPerProfileCap:  getEnvAsInt("IDEMPOTENCY_PER_PROFILE_CAP", 5000),
		IdempotencyCheckpointPath: getEnv("IDEMPOTENCY_CHECKPOINT_PATH", filepath.Join(absDataDir, "idempotency_checkpoint.msgpack")),
		IdempotencyJanitorEvery:   getEnvAsDuration("IDEMPOTENCY_JANITOR_EVERY", 5*time.Minute),

		PoolMaxActive:            getEnvAsInt("POOL_MAX_ACTIVE", 200),
		PoolIdleTimeout:          getEnvAsDuration("POOL_IDLE_TIMEOUT", 15*time.Minute),
		PoolBaseBackoff:          getEnvAsDuration("POOL_BASE_BACKOFF", time.Second),
		PoolMaxBackoff:           getEnvAsDuration("POOL_MAX_BACKOFF", 2*time.Minute),
		PoolMaxReconnectAttempts: getEnvAsInt("POOL_MAX_RECONNECT_ATTEMPTS", 5),

		PositionReconcileEvery:  getEnvAsDuration("POSITION_RECONCILE_EVERY", 30*time.Second),
		PositionReconcileGrace:  getEnvAsDuration("POSITION_RECONCILE_GRACE", 2*time.Minute),
		AccountSyncEvery:        getEnvAsDuration("ACCOUNT_SYNC_EVERY", 10*time.Second),
		ConnectionHealthEvery:   getEnvAsDuration("CONNECTION_HEALTH_EVERY", 15*time.Second),
		SignalExpirationEvery:  getEnvAsDuration("SIGNAL_EXPIRATION_EVERY", 60*time.Second),
		EvidenceRetentionEvery:  getEnvAsDuration("EVIDENCE_RETENTION_EVERY", time.Hour),
		EvidenceRetentionWindow: getEnvAsDuration("EVIDENCE_RETENTION_WINDOW", 7*24*time.Hour),
		EvidenceExportDir:       getEnv("EVIDENCE_EXPORT_DIR", filepath.Join(absDataDir, "evidence")),

		PanicCooldown: getEnvAsDuration("PANIC_COOLDOWN", 15*time.Minute),

		S3Bucket: getEnv("EVIDENCE_S3_BUCKET", ""),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
