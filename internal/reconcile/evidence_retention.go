package reconcile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/clock"
)

// EvidenceRetentionSweep deletes exported evidence bundles older than the
// configured retention window from the local export directory. Bundles
// already durably uploaded to S3 (internal/evidence.Uploader) are safe to
// reap locally; this job only ever touches the on-disk staging copy.
type EvidenceRetentionSweep struct {
	dir       string
	retention time.Duration
	clock     clock.Clock
	log       zerolog.Logger
}

func NewEvidenceRetentionSweep(dir string, retention time.Duration, c clock.Clock, log zerolog.Logger) *EvidenceRetentionSweep {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &EvidenceRetentionSweep{dir: dir, retention: retention, clock: c, log: log.With().Str("component", "evidence_retention_sweep").Logger()}
}

func (j *EvidenceRetentionSweep) Name() string { return "evidence_retention_sweep" }

func (j *EvidenceRetentionSweep) Run() {
	if j.dir == "" {
		return
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn().Err(err).Str("dir", j.dir).Msg("read evidence export directory failed")
		}
		return
	}

	cutoff := j.clock.Now().Add(-j.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(j.dir, e.Name())
			if err := os.Remove(path); err != nil {
				j.log.Warn().Err(err).Str("path", path).Msg("remove stale evidence bundle failed")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("swept stale evidence bundles")
	}
}
