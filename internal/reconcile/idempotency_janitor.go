package reconcile

import (
	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/idempotency"
)

// IdempotencyJanitor evicts expired replay entries on a fixed interval and,
// if a checkpoint path is configured, snapshots the surviving entries so a
// short restart doesn't reopen the replay window early.
type IdempotencyJanitor struct {
	cache          *idempotency.Cache
	checkpointPath string
	log            zerolog.Logger
}

func NewIdempotencyJanitor(cache *idempotency.Cache, checkpointPath string, log zerolog.Logger) *IdempotencyJanitor {
	return &IdempotencyJanitor{cache: cache, checkpointPath: checkpointPath, log: log.With().Str("component", "idempotency_janitor").Logger()}
}

func (j *IdempotencyJanitor) Name() string { return "idempotency_janitor" }

func (j *IdempotencyJanitor) Run() {
	removed := j.cache.Sweep()
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("swept expired idempotency entries")
	}
	if j.checkpointPath == "" {
		return
	}
	if err := j.cache.Checkpoint(j.checkpointPath); err != nil {
		j.log.Warn().Err(err).Msg("idempotency checkpoint failed")
	}
}
