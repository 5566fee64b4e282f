// Package reconcile implements the four periodic reconcilers — Position,
// Account Sync, Connection Health, Signal Expiration — plus the
// idempotency-cache janitor and evidence-export retention sweep, all
// cooperating on one cron.Cron instance.
package reconcile

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one cooperating periodic task.
type Job interface {
	Run()
	Name() string
}

// Scheduler owns the cron engine and guarantees no-overlap: a job already
// running when its next tick fires is skipped rather than stacked.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "reconcile_scheduler").Logger(),
		running: make(map[string]bool),
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddJob registers job on schedule (a cron.WithSeconds expression, or
// "@every Ns"). A job never crashes the process: a panic inside Run is
// recovered and logged as the job's last error.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.runOnce(job) })
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("reconciler registered")
	return nil
}

func (s *Scheduler) runOnce(job Job) {
	s.mu.Lock()
	if s.running[job.Name()] {
		s.mu.Unlock()
		s.log.Debug().Str("job", job.Name()).Msg("previous cycle still running, skipping")
		return
	}
	s.running[job.Name()] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[job.Name()] = false
		s.mu.Unlock()
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("job", job.Name()).Msg("reconciler panicked, recovered")
		}
	}()

	job.Run()
}

// RunNow executes job immediately, outside its schedule. Used by tests and
// by admin "run reconciler now" affordances.
func (s *Scheduler) RunNow(job Job) { s.runOnce(job) }
